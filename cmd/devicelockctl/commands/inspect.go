package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/BradenHooton/devicelock/internal/repositories"
	"github.com/spf13/cobra"
)

func newDevicesCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:     "devices",
		Short:   "List a user's registered devices",
		Example: `  devicelockctl devices --user user-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			_, db, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			devices, err := repositories.NewDeviceRepository(db).ListByUser(ctx, userID)
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No devices registered.") //nolint:errcheck // CLI output
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "ID\tNAME\tPLATFORM\tSTATE\tREASON\tONLINE\tLAST SEEN\n") //nolint:errcheck // CLI output
			for _, d := range devices {
				online := "no"
				if d.Status.IsOnline {
					online = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", //nolint:errcheck // CLI output
					d.ID, d.Name, d.Platform, lockLabel(d.Status.IsBlocked), d.Status.BlockReason, online,
					d.LastOnline.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "owner user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newEventsCmd() *cobra.Command {
	var userID string
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show a user's security events, newest first",
		Example: `  devicelockctl events --user user-1
  devicelockctl events --user user-1 --limit 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			_, db, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := repositories.NewSecurityEventRepository(db).ListByUser(ctx, userID, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No security events found.") //nolint:errcheck // CLI output
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "TIME\tSEVERITY\tTYPE\tDEVICE\tDESCRIPTION\n") //nolint:errcheck // CLI output
			for _, e := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", //nolint:errcheck // CLI output
					e.Timestamp.Local().Format(time.DateTime), severityLabel(e.Severity), e.Type, e.DeviceID, e.Description)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "owner user id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to show")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
