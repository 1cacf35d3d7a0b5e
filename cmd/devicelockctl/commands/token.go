package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/BradenHooton/devicelock/internal/auth"
	"github.com/BradenHooton/devicelock/internal/config"
	"github.com/BradenHooton/devicelock/pkg/recoverykey"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var userID string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:     "token",
		Short:   "Mint a device token for a user",
		Example: `  devicelockctl token --user user-1 --ttl 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if ttl <= 0 || ttl > 24*time.Hour {
				return fmt.Errorf("--ttl must be between 1s and 24h")
			}

			token, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry).GenerateDeviceToken(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token) //nolint:errcheck // CLI output
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id the token acts for")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newKeygenCmd() *cobra.Command {
	var qrPath string
	var size int

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a recovery key offline",
		Example: `  devicelockctl keygen
  devicelockctl keygen --qr key.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := recoverykey.Generate()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), recoverykey.Format(key)) //nolint:errcheck // CLI output

			if qrPath == "" {
				return nil
			}
			png, err := recoverykey.QRCode(key, size)
			if err != nil {
				return err
			}
			if err := os.WriteFile(qrPath, png, 0o600); err != nil {
				return fmt.Errorf("writing QR code: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "QR code written to %s\n", qrPath) //nolint:errcheck // CLI output
			return nil
		},
	}

	cmd.Flags().StringVar(&qrPath, "qr", "", "also write the key as a PNG QR code")
	cmd.Flags().IntVar(&size, "size", 256, "QR code size in pixels")
	return cmd
}
