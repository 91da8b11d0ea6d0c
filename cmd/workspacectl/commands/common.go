package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentdb9/wsengine/cmd/workspacectl/config"
	"github.com/agentdb9/wsengine/pkg/client"
	"github.com/agentdb9/wsengine/pkg/observability"
)

// session bundles what every command needs to talk to the daemon
type session struct {
	client *client.Client
	out    *config.Outputter
	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	c, err := cfg.NewClient()
	if err != nil {
		return nil, err
	}

	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, cfg.Timeout)
	ctx = observability.WithRequestID(ctx, observability.GenerateRequestID())

	return &session{
		client: c,
		out:    config.NewOutputter(cfg.Output, cmd.OutOrStdout()),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// run wraps a command body with session setup and teardown
func run(fn func(s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		defer s.cancel()
		return fn(s, args)
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
