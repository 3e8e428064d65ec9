// Command astm-bridge receives ASTM E1381/E1394 transmissions from lab
// instruments over TCP and writes the results into the practice ledgers.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/arloliu/go-astm/config"
	"github.com/arloliu/go-astm/logger"
)

var exampleUsage = strings.TrimSpace(`
  astm-bridge --listen :3000 --database /var/lib/astm/ledger.db --catalog catalog.yaml
  astm-bridge --config /etc/astm-bridge.toml --dump-dir /var/log/astm --dump-compression zstd
  astm-bridge journal list --journal-dir /var/lib/astm/journal
  astm-bridge dump cat /var/log/astm/20240101T100000.000Z-4f1c.astm.zst
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}

	return "dev"
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "astm-bridge:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := config.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "astm-bridge",
		Short:         "Receive ASTM lab results and write them to the practice ledgers",
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfgPath == "" {
				cfgPath = os.Getenv(config.EnvPrefix + "CONFIG")
			}

			if err := config.Resolve(cmd.Flags(), &cfg, cfgPath); err != nil {
				return err
			}

			return runServe(cmd.Context(), &cfg, newLogger(&cfg))
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to a TOML config file (env "+config.EnvPrefix+"CONFIG)")
	config.BindFlags(root.Flags(), &cfg)

	root.AddCommand(newJournalCommand(), newDumpCommand(), newCatalogCommand())

	return root
}

// newLogger builds the process logger and installs it as the package
// default.
func newLogger(cfg *config.Config) logger.Logger {
	level, _ := logger.ParseLevel(cfg.LogLevel)

	var l logger.Logger
	switch cfg.LogBackend {
	case config.LogBackendZerolog:
		console := os.Getenv("ENV") == "development" || term.IsTerminal(int(os.Stderr.Fd())) //nolint:gosec
		l = logger.NewZerolog(os.Stderr, level, console)
	default:
		l = logger.NewSlog(level, false)
	}

	logger.SetLogger(l)

	return l
}
