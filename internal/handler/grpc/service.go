package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/windfall/prosody_service/internal/service"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "prosody.v1.ProsodyService"

// Full method names.
const (
	MethodAnalyze = "/" + ServiceName + "/Analyze"
	MethodCompare = "/" + ServiceName + "/Compare"
	MethodStatus  = "/" + ServiceName + "/Status"
)

// Audio is one recording inside a request. Data is base64 on the wire.
type Audio struct {
	Data      []byte `json:"data"`
	MediaType string `json:"media_type"`
}

// AnalyzeRequest is the Analyze input.
type AnalyzeRequest struct {
	Audio Audio `json:"audio"`
	Coach bool  `json:"coach,omitempty"`
}

// CompareRequest is the Compare input.
type CompareRequest struct {
	Reference Audio `json:"reference"`
	Student   Audio `json:"student"`
	Coach     bool  `json:"coach,omitempty"`
}

// StatusRequest is the Status input.
type StatusRequest struct{}

// ProsodyServiceServer is the server API for ProsodyService.
type ProsodyServiceServer interface {
	Analyze(context.Context, *AnalyzeRequest) (*service.AnalysisResult, error)
	Compare(context.Context, *CompareRequest) (*service.ComparisonResult, error)
	Status(context.Context, *StatusRequest) (*service.ServiceStatus, error)
}

// UnimplementedProsodyServiceServer answers every RPC with Unimplemented.
// Embed it so servers keep compiling when methods are added.
type UnimplementedProsodyServiceServer struct{}

func (UnimplementedProsodyServiceServer) Analyze(context.Context, *AnalyzeRequest) (*service.AnalysisResult, error) {
	return nil, status.Error(codes.Unimplemented, "method Analyze not implemented")
}

func (UnimplementedProsodyServiceServer) Compare(context.Context, *CompareRequest) (*service.ComparisonResult, error) {
	return nil, status.Error(codes.Unimplemented, "method Compare not implemented")
}

func (UnimplementedProsodyServiceServer) Status(context.Context, *StatusRequest) (*service.ServiceStatus, error) {
	return nil, status.Error(codes.Unimplemented, "method Status not implemented")
}

// RegisterProsodyServiceServer registers srv on s.
func RegisterProsodyServiceServer(s grpc.ServiceRegistrar, srv ProsodyServiceServer) {
	s.RegisterService(&ProsodyServiceDesc, srv)
}

func analyzeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AnalyzeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProsodyServiceServer).Analyze(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodAnalyze}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProsodyServiceServer).Analyze(ctx, req.(*AnalyzeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func compareHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CompareRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProsodyServiceServer).Compare(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodCompare}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProsodyServiceServer).Compare(ctx, req.(*CompareRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProsodyServiceServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ProsodyServiceServer).Status(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ProsodyServiceDesc describes ProsodyService for grpc.Server.
var ProsodyServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ProsodyServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Analyze", Handler: analyzeHandler},
		{MethodName: "Compare", Handler: compareHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "prosody/v1/prosody.proto",
}

// ProsodyServiceClient is the client API for ProsodyService.
type ProsodyServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewProsodyServiceClient creates a client that speaks the JSON codec.
func NewProsodyServiceClient(cc grpc.ClientConnInterface) *ProsodyServiceClient {
	return &ProsodyServiceClient{cc: cc}
}

// Analyze calls ProsodyService/Analyze.
func (c *ProsodyServiceClient) Analyze(ctx context.Context, in *AnalyzeRequest, opts ...grpc.CallOption) (*service.AnalysisResult, error) {
	out := new(service.AnalysisResult)
	if err := c.cc.Invoke(ctx, MethodAnalyze, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Compare calls ProsodyService/Compare.
func (c *ProsodyServiceClient) Compare(ctx context.Context, in *CompareRequest, opts ...grpc.CallOption) (*service.ComparisonResult, error) {
	out := new(service.ComparisonResult)
	if err := c.cc.Invoke(ctx, MethodCompare, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Status calls ProsodyService/Status.
func (c *ProsodyServiceClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*service.ServiceStatus, error) {
	out := new(service.ServiceStatus)
	if err := c.cc.Invoke(ctx, MethodStatus, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
