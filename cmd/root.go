package cmd

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/spf13/cobra"
)

var BuildVersion = "dev"

var verbosity int

var rootCmd = &cobra.Command{
	Use:           "nexusctl",
	Short:         "Nexus client CLI",
	Long:          "CLI for the Nexus client layer: storage migrations and connectivity diagnostics.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbosity", "v", 0, "Log verbosity; 1 includes initialization details.")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of nexusctl",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
}

// newLogger writes structured log lines to the command's error stream.
func newLogger(cmd *cobra.Command) logr.Logger {
	out := cmd.ErrOrStderr()
	return funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(out, "%s: %s\n", prefix, args)
			return
		}
		fmt.Fprintln(out, args)
	}, funcr.Options{Verbosity: verbosity})
}

func Execute() error {
	return rootCmd.Execute()
}
