package client_test

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/windfall/prosody_service/internal/client"
)

func TestPubSubClient_PublishWithAttributes(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial fake pubsub: %v", err)
	}
	defer conn.Close()

	admin, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("admin client: %v", err)
	}
	defer admin.Close()
	if _, err := admin.CreateTopic(ctx, "prosody-events"); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	pc, err := client.NewPubSubClient(ctx, "test-project", "prosody-events", option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("NewPubSubClient: %v", err)
	}

	event := map[string]any{"kind": "analysis", "band_estimate": 9}
	if err := pc.PublishWithAttributes(ctx, event, map[string]string{"kind": "analysis"}); err != nil {
		t.Fatalf("PublishWithAttributes: %v", err)
	}

	msgs := srv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Attributes["kind"] != "analysis" {
		t.Errorf("attributes = %v", msgs[0].Attributes)
	}
	var got map[string]any
	if err := json.Unmarshal(msgs[0].Data, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got["band_estimate"] != float64(9) {
		t.Errorf("payload = %v", got)
	}
}
