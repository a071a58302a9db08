// Command forgerunner supervises a Forge server and its playit tunnel.
//
// Usage:
//
//	forgerunner serve [--config path] [--no-console] [--start]
//	forgerunner token --subject name --role operator
//	forgerunner runs [--limit n] [--outcome graceful]
//	forgerunner version
//
// The configuration path defaults to configs/config.yaml and can be set with
// --config or the FORGERUNNER_CONFIG environment variable.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/forgerunner/forgerunner/migrations" // registers the journal schema

	"github.com/forgerunner/forgerunner/internal/infrastructure/config"
)

// Build information, set via ldflags.
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// configEnv overrides the default configuration path.
const configEnv = "FORGERUNNER_CONFIG"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	// After the first signal the default handlers return, so a second one
	// kills a supervisor that is waiting out world generation.
	context.AfterFunc(ctx, cancel)

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	configPath string
}

// resolveConfigPath returns the flag value, then FORGERUNNER_CONFIG, then
// the default path.
func (o *rootOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return config.DefaultPath
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "forgerunner",
		Short:         "Supervise a Forge server and its playit tunnel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"configuration file (default "+config.DefaultPath+", or $"+configEnv+")")

	root.AddCommand(
		newServeCmd(opts),
		newTokenCmd(opts),
		newRunsCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "forgerunner %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
