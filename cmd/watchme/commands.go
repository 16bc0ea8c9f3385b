package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/watchme-core/internal/report"
)

// newRootCmd builds the command tree. A fresh tree per call keeps flag
// state out of package globals.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "watchme",
		Short:         "WatchMe device identity and registration service",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", getConfigPath(),
		"path to the YAML configuration file (env WATCHME_CONFIG)")

	// withApp bootstraps the object graph for one-shot commands.
	withApp := func(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), configPath, nil)
			if err != nil {
				return err
			}
			defer a.close()
			return fn(cmd.Context(), a, cmd, args)
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the control API and MQTT state publisher until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	})

	var owner string
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Register this installation with the backend",
		Long: `Register upserts this installation's platform identifier and stores
the returned device id. Without --owner the signed-in user (if any) owns
the device; otherwise it is registered as a guest device.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			if owner == "" {
				owner, _ = a.session.UserID()
			}
			if err := a.manager.RegisterDevice(ctx, owner); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.manager.Snapshot())
		}),
	}
	registerCmd.Flags().StringVar(&owner, "owner", "", "owner user id")
	root.AddCommand(registerCmd)

	root.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Forget the stored registration",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			if err := a.manager.ResetDeviceRegistration(ctx); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.manager.Snapshot())
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show this installation's device",
		Args:  cobra.NoArgs,
		RunE: withApp(func(_ context.Context, a *app, cmd *cobra.Command, _ []string) error {
			info, ok := a.manager.DeviceInfo()
			if !ok {
				return fmt.Errorf("no device registered")
			}
			return printJSON(cmd.OutOrStdout(), info)
		}),
	})

	var selectID string
	devicesCmd := &cobra.Command{
		Use:   "devices <owner>",
		Short: "List the devices owned by a user",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if err := a.manager.FetchUserDevices(ctx, args[0]); err != nil {
				return err
			}
			if selectID != "" && !a.manager.SelectDevice(selectID) {
				return fmt.Errorf("device %q is not owned by %s", selectID, args[0])
			}
			return printJSON(cmd.OutOrStdout(), a.manager.Snapshot())
		}),
	}
	devicesCmd.Flags().StringVar(&selectID, "select", "", "device id to select after listing")
	root.AddCommand(devicesCmd)

	var reportDate, reportDevice string
	reportCmd := &cobra.Command{
		Use:   "report <owner>",
		Short: "Show a device's behaviour report for one day",
		Long: `Report resolves the owner's first device (or --device) and prints the
behaviour summary for --date (yyyy-mm-dd, default today). A session
access token must be configured.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if err := a.manager.FetchUserDevices(ctx, args[0]); err != nil {
				return err
			}
			if reportDevice != "" && !a.manager.SelectDevice(reportDevice) {
				return fmt.Errorf("device %q is not owned by %s", reportDevice, args[0])
			}

			var err error
			if reportDate != "" {
				day, parseErr := time.ParseInLocation(report.DateLayout, reportDate, a.location)
				if parseErr != nil {
					return fmt.Errorf("invalid --date %q: want yyyy-mm-dd", reportDate)
				}
				err = a.reports.SetDate(ctx, day)
			} else {
				err = a.reports.Load(ctx)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.reports.State())
		}),
	}
	reportCmd.Flags().StringVar(&reportDate, "date", "", "day to show (yyyy-mm-dd)")
	reportCmd.Flags().StringVar(&reportDevice, "device", "", "device id to report on")
	root.AddCommand(reportCmd)

	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
