// ABOUTME: health and sessions commands that query a running gateway over HTTP
// ABOUTME: Resolves the gateway URL from config or CHAT_GATEWAY_URL

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/chat-gateway/internal/config"
	"github.com/2389/chat-gateway/internal/gateway"
	"github.com/2389/chat-gateway/internal/protocol"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

// readyResponse mirrors the body of GET /health/ready.
type readyResponse struct {
	Status      string   `json:"status"`
	Connections int      `json:"connections"`
	Problems    []string `json:"problems"`
}

// gatewayURL returns the base URL of the local gateway.
func gatewayURL(cfg *config.Config) string {
	if u := os.Getenv("CHAT_GATEWAY_URL"); u != "" {
		return strings.TrimSuffix(u, "/")
	}
	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func getJSON(ctx context.Context, url, bearer string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("contacting gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding response (HTTP %d): %w", resp.StatusCode, err)
	}
	return resp.StatusCode, nil
}

// postEvent publishes ev through POST /internal/events. Each call carries a
// fresh Idempotency-Key so the gateway can drop a retried duplicate.
func postEvent(ctx context.Context, baseURL, token string, ev protocol.Outbound) error {
	if token == "" {
		return fmt.Errorf("server.publish_token is not set")
	}
	body, err := ev.EncodeBridge()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", ev.Type, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/internal/events", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("contacting gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		return fmt.Errorf("gateway returned HTTP %d: %s", resp.StatusCode, e.Error)
	}
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var ready readyResponse
	status, err := getJSON(ctx, gatewayURL(cfg)+"/health/ready", "", &ready)
	if err != nil {
		return err
	}

	if status != http.StatusOK {
		color.New(color.FgRed).Printf("✗ %s\n", ready.Status)
		for _, p := range ready.Problems {
			fmt.Printf("  - %s\n", p)
		}
		return fmt.Errorf("gateway not ready")
	}

	color.New(color.FgGreen).Printf("✓ %s", ready.Status)
	fmt.Printf(" (%d connections)\n", ready.Connections)
	return nil
}

func runSessions(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, nil, []string{"detail"})
	if err != nil {
		return err
	}
	detail := flags["detail"] == "true"

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := gatewayURL(cfg) + "/api/sessions"
	bearer := ""
	if detail {
		url += "/detail"
		bearer = cfg.Server.PublishToken
	}

	var resp gateway.SessionsResponse
	status, err := getJSON(ctx, url, bearer, &resp)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("gateway returned HTTP %d", status)
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	cyan.Println("Connections")
	fmt.Printf("  live:        %d\n", resp.Connections)
	fmt.Printf("  identified:  %d\n", resp.Registry.Sessions)
	fmt.Printf("  users:       %d\n", resp.Registry.Users)
	fmt.Printf("  guilds:      %d\n", resp.Registry.Guilds)
	fmt.Println()

	cyan.Println("Bridge")
	fmt.Printf("  published:   %d\n", resp.Bridge.Published)
	fmt.Printf("  received:    %d\n", resp.Bridge.Received)
	fmt.Printf("  rejected:    %d\n", resp.Bridge.Rejected)
	fmt.Printf("  delivered:   %d\n", resp.Bridge.Delivered)
	fmt.Printf("  dropped:     %d\n", resp.Bridge.Dropped)

	if !detail {
		return nil
	}

	fmt.Println()
	cyan.Println("Sessions")
	if len(resp.Sessions) == 0 {
		gray.Println("  (none)")
		return nil
	}
	for _, s := range resp.Sessions {
		user := "unidentified"
		if s.UserID != nil {
			user = s.UserID.String()
		}
		fmt.Printf("  %s  user=%s intents=%d guilds=%d queued=%d dropped=%d ",
			s.ID, user, s.Intents, s.Guilds, s.Queued, s.Dropped)
		gray.Printf("%s since %s\n", s.RemoteAddr, s.ConnectedAt.Format(time.RFC3339))
	}
	return nil
}
