package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/windfall/prosody_service/internal/config"
	"github.com/windfall/prosody_service/internal/service"
)

func main() {
	var (
		subject string
		ttl     time.Duration
	)

	flag.StringVar(&subject, "sub", "", "User ID to put in the subject claim")
	flag.DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	if subject == "" {
		log.Fatal("-sub is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is not set")
	}

	token, err := service.NewAuthService(cfg.JWTSecret).IssueToken(subject, ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}
