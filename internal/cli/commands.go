// Package cli implements the waypoint command line: serve the demo app,
// print its route table and report build failures.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/toyz/waypoint/internal/config"
	"github.com/toyz/waypoint/internal/demo"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

type rootOptions struct {
	configPath string
	verbose    bool
}

// NewRootCommand builds the waypoint command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "waypoint",
		Short:         "Declaration-driven controllers on top of your HTTP router",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./waypoint.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "print error chains")

	root.AddCommand(
		newServeCommand(opts),
		newRoutesCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI and reports failures on stderr.
func Execute() int {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		verbose, _ := root.PersistentFlags().GetBool("verbose")
		NewDiagnosticReporter(root.ErrOrStderr(), verbose).ReportError(err)
		return 1
	}
	return 0
}

func newRoutesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the compiled route table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			warnInsecureSecret(cmd.ErrOrStderr(), cfg, opts.verbose)
			client := newRedisClient(cfg)
			if client != nil {
				defer client.Close()
			}
			app, err := demo.NewApp(demo.Options{Config: cfg, Logger: zap.NewNop(), Redis: client})
			if err != nil {
				return err
			}
			return PrintRoutes(cmd.OutOrStdout(), app.Routes())
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "waypoint %s\n", Version)
		},
	}
}

// warnInsecureSecret flags the random per-process JWT secret the demo falls
// back to.
func warnInsecureSecret(w io.Writer, cfg *config.Config, verbose bool) {
	if cfg.Auth.JWTSecret == "" {
		NewDiagnosticReporter(w, verbose).ReportWarning(
			"auth.jwt_secret is empty: tokens are signed with a random secret and will not survive a restart")
	}
}

func writeLine(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format+"\n", args...)
}
