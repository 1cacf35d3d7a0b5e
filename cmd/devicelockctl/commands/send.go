package commands

import (
	"context"
	"fmt"
	"time"

	devicecommands "github.com/BradenHooton/devicelock/internal/commands"
	"github.com/BradenHooton/devicelock/internal/models"
	"github.com/BradenHooton/devicelock/internal/repositories"
	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	var deviceID, userID, reason, key string
	var noPush bool

	cmd := &cobra.Command{
		Use:   "send <lock|unlock|wipe|locate|sound_alarm|take_photo>",
		Short: "Queue a remote command for a device",
		Example: `  devicelockctl send lock --device device-1234 --user user-1 --reason stolen
  devicelockctl send unlock --device device-1234 --user user-1 --key "1234 5678 9012 3456 7890"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			cfg, db, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			created, err := repositories.NewRemoteCommandRepository(db).Create(ctx, &models.RemoteCommand{
				Type:     models.RemoteCommandType(args[0]),
				DeviceID: deviceID,
				UserID:   userID,
				Params:   models.CommandParams{Reason: reason, SecurityKey: key},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s command %s for %s\n", created.Type, okColor(created.ID), created.DeviceID) //nolint:errcheck // CLI output

			if noPush || cfg.Redis.Addr == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "The device will pick it up on its next poll.") //nolint:errcheck // CLI output
				return nil
			}

			rdb, err := devicecommands.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s push unavailable (%v); the device will poll for it\n", warnColor("warning:"), err) //nolint:errcheck // CLI output
				return nil
			}
			defer rdb.Close() //nolint:errcheck // best-effort cleanup

			if err := devicecommands.Publish(ctx, rdb, created.DeviceID, created.ID); err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s push failed (%v); the device will poll for it\n", warnColor("warning:"), err) //nolint:errcheck // CLI output
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Pushed to the device.") //nolint:errcheck // CLI output
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", "", "target device id")
	cmd.Flags().StringVar(&userID, "user", "", "owner user id")
	cmd.Flags().StringVar(&reason, "reason", "", "block reason code for lock commands")
	cmd.Flags().StringVar(&key, "key", "", "recovery key for unlock commands")
	cmd.Flags().BoolVar(&noPush, "no-push", false, "queue only, do not notify the device over redis")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
