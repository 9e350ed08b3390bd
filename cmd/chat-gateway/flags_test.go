// ABOUTME: Tests for CLI flag parsing and gateway URL resolution
// ABOUTME: Uses plain testing with table-driven cases

package main

import (
	"testing"

	"github.com/2389/chat-gateway/internal/config"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    map[string]string
		wantErr bool
	}{
		{name: "separate value", args: []string{"--name", "alice"}, want: map[string]string{"name": "alice"}},
		{name: "equals value", args: []string{"--name=alice", "--guild=Lobby"}, want: map[string]string{"name": "alice", "guild": "Lobby"}},
		{name: "switch", args: []string{"--detail"}, want: map[string]string{"detail": "true"}},
		{name: "missing value", args: []string{"--name"}, wantErr: true},
		{name: "unknown flag", args: []string{"--nope", "x"}, wantErr: true},
		{name: "positional", args: []string{"alice"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args, []string{"name", "guild"}, []string{"detail"})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("flag %q = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestGatewayURL(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = ":8080"

	t.Setenv("CHAT_GATEWAY_URL", "")
	if got := gatewayURL(cfg); got != "http://localhost:8080" {
		t.Errorf("gatewayURL = %q", got)
	}

	t.Setenv("CHAT_GATEWAY_URL", "https://gw.example.com/")
	if got := gatewayURL(cfg); got != "https://gw.example.com" {
		t.Errorf("gatewayURL with override = %q", got)
	}
}

func TestRandomSecret(t *testing.T) {
	a, err := randomSecret()
	if err != nil {
		t.Fatalf("randomSecret: %v", err)
	}
	b, _ := randomSecret()
	if a == b || len(a) != 43 {
		t.Errorf("unexpected secrets %q %q", a, b)
	}
}
