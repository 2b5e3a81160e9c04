// Command vl is the verseledger CLI: a local-first practice log for
// sung lyrics with spaced-repetition review and ledger sync.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/versebound/verseledger/internal/config"
	"github.com/versebound/verseledger/internal/engine"
	"github.com/versebound/verseledger/internal/ledger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "vl",
	Short: "Local-first lyric practice log with ledger sync",
	Long: `verseledger records lyric practice sessions in a local SQLite
database, schedules per-line review with spaced repetition, and syncs
practice history to a per-user remote ledger on demand.

All commands work offline; only 'vl sync', 'vl import', and the
'vl remote' group reach the ledger.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default ~/.verseledger/config.yaml)")
	rootCmd.AddGroup(
		&cobra.Group{ID: "practice", Title: "Practice Commands:"},
		&cobra.Group{ID: "sync", Title: "Ledger Commands:"},
	)
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// openEngine builds the engine from config. Callers must Close it.
func openEngine() (*engine.Engine, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	songs, err := openCatalog(cfg.Songs.CatalogPath)
	if err != nil {
		return nil, nil, err
	}

	eng, err := engine.New(&engine.Config{
		DataDir: cfg.DataDir,
		Logger:  newLogger(cfg),
	}, songs)
	if err != nil {
		return nil, nil, err
	}
	return eng, cfg, nil
}

// newLogger sends log lines to the configured rotating file, or stderr
// when no file is set.
func newLogger(cfg *config.Config) *log.Logger {
	var sink io.Writer = os.Stderr
	if cfg.Logging.File != "" {
		sink = &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		}
	}
	return log.New(sink, "[vl] ", log.LstdFlags)
}

// dialLedger opens the remote connection described by config.
func dialLedger(cfg *config.Config) (*ledger.Remote, error) {
	if cfg.Ledger.URL == "" {
		return nil, fmt.Errorf("ledger.url is not configured (set it in the config file or VL_LEDGER_URL)")
	}
	if cfg.Ledger.Address == "" {
		return nil, fmt.Errorf("ledger.address is not configured")
	}
	return ledger.Dial(cfg.Ledger.URL, cfg.Ledger.AuthToken, cfg.Ledger.Address)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
