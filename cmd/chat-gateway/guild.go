// ABOUTME: guild command: change guild membership in the store and tell the gateway
// ABOUTME: Each change is published so live sessions pick up the new membership

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/2389/chat-gateway/internal/config"
	"github.com/2389/chat-gateway/internal/protocol"
	"github.com/2389/chat-gateway/internal/snowflake"
	"github.com/2389/chat-gateway/internal/store"
)

// publishFunc hands an event to a running gateway.
type publishFunc func(ctx context.Context, ev protocol.Outbound) error

type guildCommand struct {
	op      string
	guildID snowflake.ID
	userID  snowflake.ID
}

func parseGuildCommand(args []string) (guildCommand, error) {
	if len(args) == 0 {
		return guildCommand{}, fmt.Errorf("usage: guild <join|leave|delete|members> --guild ID [--user ID]")
	}
	cmd := guildCommand{op: args[0]}

	flags, err := parseFlags(args[1:], []string{"guild", "user"}, nil)
	if err != nil {
		return cmd, err
	}
	if flags["guild"] == "" {
		return cmd, fmt.Errorf("--guild flag is required")
	}
	if cmd.guildID, err = snowflake.Parse(flags["guild"]); err != nil {
		return cmd, fmt.Errorf("parsing --guild: %w", err)
	}

	switch cmd.op {
	case "join", "leave":
		if flags["user"] == "" {
			return cmd, fmt.Errorf("--user flag is required for %s", cmd.op)
		}
		if cmd.userID, err = snowflake.Parse(flags["user"]); err != nil {
			return cmd, fmt.Errorf("parsing --user: %w", err)
		}
	case "delete", "members":
	default:
		return cmd, fmt.Errorf("unknown guild command: %s", cmd.op)
	}
	return cmd, nil
}

// apply performs the store change and returns the event describing it, or
// nil for read-only commands.
func (c guildCommand) apply(ctx context.Context, s store.Store, out io.Writer) (*protocol.Outbound, error) {
	switch c.op {
	case "join":
		if err := s.AddMember(ctx, c.guildID, c.userID); err != nil {
			return nil, fmt.Errorf("adding member: %w", err)
		}
		ev := protocol.MemberCreate(protocol.Member{GuildID: c.guildID, UserID: c.userID})
		return &ev, nil

	case "leave":
		if err := s.RemoveMember(ctx, c.guildID, c.userID); err != nil {
			return nil, fmt.Errorf("removing member: %w", err)
		}
		ev := protocol.MemberDelete(protocol.Member{GuildID: c.guildID, UserID: c.userID})
		return &ev, nil

	case "delete":
		// read members first so the event still says who was in the guild
		members, err := s.ListGuildMembers(ctx, c.guildID)
		if err != nil {
			return nil, fmt.Errorf("listing members: %w", err)
		}
		if err := s.DeleteGuild(ctx, c.guildID); err != nil {
			return nil, fmt.Errorf("deleting guild: %w", err)
		}
		g := protocol.Guild{ID: c.guildID}
		for _, id := range members {
			g.Members = append(g.Members, protocol.Member{GuildID: c.guildID, UserID: id})
		}
		ev := protocol.GuildDelete(g)
		return &ev, nil

	case "members":
		members, err := s.ListGuildMembers(ctx, c.guildID)
		if err != nil {
			return nil, fmt.Errorf("listing members: %w", err)
		}
		for _, id := range members {
			fmt.Fprintln(out, id)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unknown guild command: %s", c.op)
}

// run applies the command and publishes its event. A publish failure is
// reported but does not undo the store change.
func (c guildCommand) run(ctx context.Context, s store.Store, publish publishFunc, out io.Writer) error {
	ev, err := c.apply(ctx, s, out)
	if err != nil || ev == nil {
		return err
	}
	if err := publish(ctx, *ev); err != nil {
		color.New(color.FgYellow).Fprintf(out, "  ! stored, but %s not published: %v\n", ev.Type, err)
		return nil
	}
	color.New(color.FgGreen).Fprintf(out, "  ✓ %s published\n", ev.Type)
	return nil
}

func runGuild(ctx context.Context, args []string) error {
	cmd, err := parseGuildCommand(args)
	if err != nil {
		return err
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

	publish := func(ctx context.Context, ev protocol.Outbound) error {
		return postEvent(ctx, gatewayURL(cfg), cfg.Server.PublishToken, ev)
	}
	return cmd.run(ctx, s, publish, os.Stdout)
}
