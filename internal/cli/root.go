// Package cli implements pricectl, the operator tool for the price store.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"agriassist-prices/internal/app"
	"agriassist-prices/internal/config"
	"agriassist-prices/internal/logging"
)

// Global flags
type globals struct {
	dataDir  string
	logLevel string
}

// NewRootCmd builds the pricectl command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "pricectl",
		Short:         "pricectl – inspect and maintain the mandi price store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.dataDir, "data-dir", "", "Data directory (default: $DATA_DIR or ./data)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (default: $LOG_LEVEL or warn)")

	root.AddCommand(
		newRefreshCmd(g),
		newCleanupCmd(g),
		newRebuildMetaCmd(g),
		newQueryCmd(g),
		newExportCmd(g),
		newPopularCmd(g),
		newUsageCmd(g),
	)
	return root
}

// Execute runs pricectl and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// load builds the application from env plus flag overrides.
func (g *globals) load(cmd *cobra.Command, withArchive bool) (*app.App, error) {
	_ = godotenv.Load()
	cfg := config.Load()
	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	level := g.logLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level == "" {
		level = "warn"
	}
	slog.SetDefault(logging.New(cmd.ErrOrStderr(), level, "text"))

	return app.New(cfg, app.Options{SkipArchive: !withArchive})
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
