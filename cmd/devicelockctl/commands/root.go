package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/BradenHooton/devicelock/internal/config"
	"github.com/BradenHooton/devicelock/internal/database"
	"github.com/BradenHooton/devicelock/internal/models"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	okColor   = color.New(color.FgGreen).SprintFunc()
	warnColor = color.New(color.FgYellow).SprintFunc()
	badColor  = color.New(color.FgRed, color.Bold).SprintFunc()
)

// NewRoot builds the operator console. It reads the same environment as
// the device agent.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "devicelockctl",
		Short:         "Operator console for device lock",
		Long:          "Queue remote lock commands, inspect devices and security events, and mint device tokens.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newSendCmd(),
		newDevicesCmd(),
		newEventsCmd(),
		newTokenCmd(),
		newKeygenCmd(),
	)

	return root
}

func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// openBackend loads configuration and connects to the shared backend
func openBackend(ctx context.Context) (*config.Config, *database.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	if !cfg.Database.Enabled {
		return nil, nil, fmt.Errorf("REMOTE_ENABLED is false; this command needs the backend")
	}
	db, err := database.NewConnection(&cfg.Database, cliLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to backend: %w", err)
	}
	return cfg, db, nil
}

func severityLabel(s models.Severity) string {
	switch s {
	case models.SeverityHigh:
		return badColor(string(s))
	case models.SeverityMedium:
		return warnColor(string(s))
	default:
		return string(s)
	}
}

func lockLabel(blocked bool) string {
	if blocked {
		return badColor("LOCKED")
	}
	return okColor("UNLOCKED")
}
