package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/nixinstaller/pkg/transports"
	"github.com/openfroyo/nixinstaller/pkg/transports/local"
	"github.com/openfroyo/nixinstaller/pkg/transports/ssh"
)

// dialTarget opens the host named by raw: "local" (or empty) for this
// machine, an ssh:// URL for a remote one.
func (a *app) dialTarget(ctx context.Context, raw string) (transports.Target, error) {
	switch {
	case raw == "" || raw == "local":
		return local.New(), nil
	case strings.HasPrefix(raw, "ssh://"):
		cfg, err := ssh.ParseURL(raw)
		if err != nil {
			return nil, err
		}
		logger := zerolog.Ctx(ctx).With().Str("component", "ssh").Logger()
		t, err := ssh.Dial(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported target %q: want local or ssh://user@host[:port]", raw)
	}
}

// targetLabel names raw the way the opened target will, without
// credentials.
func targetLabel(raw string) string {
	switch {
	case raw == "":
		return "local"
	case strings.HasPrefix(raw, "ssh://"):
		if cfg, err := ssh.ParseURL(raw); err == nil {
			return "ssh://" + cfg.String()
		}
	}
	return raw
}
