// ABOUTME: bootstrap and token commands: create users and issue Identify tokens
// ABOUTME: Works directly against the configured SQLite store

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/config"
	"github.com/2389/chat-gateway/internal/snowflake"
	"github.com/2389/chat-gateway/internal/store"
)

// defaultTokenTTL applies to JWTs minted by bootstrap and token.
const defaultTokenTTL = 30 * 24 * time.Hour

// parseFlags reads "--flag value" and "--flag=value" pairs for the named
// flags. Boolean flags listed in switches take no value.
func parseFlags(args []string, names []string, switches []string) (map[string]string, error) {
	known := make(map[string]bool)
	for _, n := range names {
		known[n] = true
	}
	isSwitch := make(map[string]bool)
	for _, s := range switches {
		isSwitch[s] = true
	}

	out := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		switch {
		case isSwitch[name]:
			out[name] = "true"
		case !known[name]:
			return nil, fmt.Errorf("unknown flag: %s", arg)
		case hasValue:
			out[name] = value
		case i+1 < len(args):
			out[name] = args[i+1]
			i++
		default:
			return nil, fmt.Errorf("--%s requires a value", name)
		}
	}
	return out, nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// writeDefaultConfig creates a single-node config with a fresh publish token.
func writeDefaultConfig(configPath, dbPath string) error {
	publishToken, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating publish token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	content := fmt.Sprintf(`# chat-gateway configuration
# Generated by chat-gateway bootstrap

server:
  http_addr: "localhost:8080"
  publish_token: "%s"

database:
  path: "%s"

auth:
  mode: "token"

bridge:
  backend: "memory"
  deployment: "default"

logging:
  level: "info"
  format: "text"
`, publishToken, dbPath)

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// issueToken returns an Identify token for userID in the configured auth mode.
func issueToken(ctx context.Context, cfg *config.Config, s store.Store, userID snowflake.ID, ttl time.Duration) (string, error) {
	if cfg.Auth.Mode == config.AuthModeJWT {
		a, err := auth.NewJWTAuthenticator([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return "", fmt.Errorf("creating JWT authenticator: %w", err)
		}
		return a.Generate(userID, ttl)
	}
	return auth.IssueToken(ctx, s, userID)
}

// runBootstrap creates the config (if missing), a user, and optionally a
// guild owned by that user, then prints the user's token.
func runBootstrap(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, []string{"name", "guild"}, nil)
	if err != nil {
		return err
	}

	name := strings.TrimSpace(flags["name"])
	if name == "" {
		return fmt.Errorf("--name flag is required")
	}
	if len(name) > 100 {
		return fmt.Errorf("name exceeds maximum length of 100 characters")
	}

	configPath := config.DefaultPath()
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		dbPath := filepath.Join(getDataPath(), "gateway.db")
		if err := writeDefaultConfig(configPath, dbPath); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()
	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	gen := snowflake.NewGenerator(cfg.Gateway.NodeID)
	user := &store.User{ID: gen.Next(snowflake.ModelUser), Name: name}
	if err := s.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	green.Printf("  ✓ Created user: %s\n", name)

	var guild *store.Guild
	if g := strings.TrimSpace(flags["guild"]); g != "" {
		guild = &store.Guild{ID: gen.Next(snowflake.ModelGuild), OwnerID: user.ID, Name: g}
		if err := s.CreateGuild(ctx, guild); err != nil {
			return fmt.Errorf("creating guild: %w", err)
		}
		green.Printf("  ✓ Created guild: %s\n", g)
	}

	token, err := issueToken(ctx, cfg, s, user.ID, defaultTokenTTL)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  User")
	cyan.Println("  ----")
	fmt.Printf("  ID:     %s\n", user.ID)
	fmt.Printf("  Name:   %s\n", name)
	if guild != nil {
		fmt.Printf("  Guild:  %s (%s)\n", guild.Name, guild.ID)
	}
	fmt.Printf("  Token:  %s\n", token)
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    chat-gateway serve")
	fmt.Println(`    then send {"event":"Identify","token":"<token>","intents":0} on /ws`)
	fmt.Println()
	return nil
}

// runToken issues a new token for an existing user. In token mode this
// replaces the user's stored secret, invalidating the previous token.
func runToken(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, []string{"user", "ttl"}, nil)
	if err != nil {
		return err
	}
	if flags["user"] == "" {
		return fmt.Errorf("--user flag is required")
	}
	userID, err := snowflake.Parse(flags["user"])
	if err != nil {
		return fmt.Errorf("parsing --user: %w", err)
	}

	ttl := defaultTokenTTL
	if raw := flags["ttl"]; raw != "" {
		ttl, err = time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing --ttl: %w", err)
		}
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	if _, err := s.GetUser(ctx, userID); err != nil {
		return fmt.Errorf("looking up user %s: %w", userID, err)
	}

	token, err := issueToken(ctx, cfg, s, userID, ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Println(token)
	return nil
}
