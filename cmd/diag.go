package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	nexus "github.com/devnexussis-sudo/Sistema-Nexus-Pro-sub003"
)

func init() {
	rootCmd.AddCommand(newDiagCommand())
}

func newDiagCommand() *cobra.Command {
	var timeout time.Duration

	diagCmd := &cobra.Command{
		Use:   "diag",
		Short: "Diagnose platform connectivity and the persisted session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	diagCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall deadline for the diagnostic.")

	diagCmd.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "Measure a round trip to the platform data API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, timeout, func(ctx context.Context, client *nexus.Client) error {
				latency, err := client.Ping(ctx)
				if err != nil {
					cmd.Printf("ping failed after %s: %v\n", latency.Round(time.Millisecond), err)
					return err
				}
				cmd.Printf("ok %s\n", latency.Round(time.Millisecond))
				return nil
			})
		},
	})

	diagCmd.AddCommand(&cobra.Command{
		Use:   "session",
		Short: "Show the persisted session without refreshing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, timeout, func(ctx context.Context, client *nexus.Client) error {
				info, err := client.SessionInfo(ctx)
				if err != nil {
					return err
				}
				if !info.HasSession {
					cmd.Println("no session")
					return nil
				}

				cmd.Printf("user:    %s (%s)\n", info.UserID, info.Email)
				if !info.ExpiresAt.IsZero() {
					cmd.Printf("expires: %s (in %s)\n", info.ExpiresAt.Format(time.RFC3339), info.ExpiresIn.Round(time.Second))
				}
				if info.TenantID != "" {
					cmd.Printf("tenant:  %s\n", info.TenantID)
				}
				return nil
			})
		},
	})

	return diagCmd
}

func withClient(cmd *cobra.Command, timeout time.Duration, fn func(ctx context.Context, client *nexus.Client) error) error {
	runtime, err := nexus.LoadRuntimeConfig()
	if err != nil {
		return err
	}

	client, err := nexus.New(nexus.Config{
		Logger:  newLogger(cmd),
		Runtime: runtime,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			cmd.PrintErrf("warning: failed to close client cleanly: %v\n", closeErr)
		}
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, client)
}
