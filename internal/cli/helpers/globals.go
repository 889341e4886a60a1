package helpers

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/coral-mesh/strobe/internal/config"
	"github.com/coral-mesh/strobe/internal/logging"
	"github.com/coral-mesh/strobe/pkg/debuginfo"
)

// Globals are the persistent flags every command shares.
type Globals struct {
	ConfigPath string
	LogLevel   string
	Pretty     bool
}

// Register binds the global flags to fs.
func (g *Globals) Register(fs *pflag.FlagSet) {
	fs.StringVar(&g.ConfigPath, "config", "", "Config file (default $STROBE_CONFIG/config.yaml or ~/.strobe/config.yaml)")
	fs.StringVar(&g.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error, off)")
	fs.BoolVar(&g.Pretty, "pretty", false, "Human-readable log output")
}

// LoadConfig reads the config file named by --config, or the default one,
// and applies the log flags on top.
func (g *Globals) LoadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.ConfigPath != "" {
		cfg, err = config.LoadFile(g.ConfigPath)
	} else {
		cfg, err = config.NewLoader().Load()
	}
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		if !logging.ValidLevel(g.LogLevel) {
			return nil, fmt.Errorf("invalid log level %q", g.LogLevel)
		}
		cfg.Log.Level = g.LogLevel
	}
	if g.Pretty {
		cfg.Log.Pretty = true
	}
	return cfg, nil
}

// Logger builds the command logger writing to w.
func Logger(cfg *config.Config, w io.Writer) zerolog.Logger {
	lc := cfg.Log
	lc.Output = w
	return logging.NewWithComponent(lc, "cli")
}

// OpenIndex parses the binary at path with the configured symbol lookup,
// waiting at most cfg.Index.Timeout.
func OpenIndex(ctx context.Context, cfg *config.Config, logger zerolog.Logger, path string) (*debuginfo.Index, error) {
	h := debuginfo.Spawn(logger, path, debuginfo.Options{
		SymbolsPath: cfg.Index.SymbolsPath,
		SearchRoot:  cfg.Index.SearchRoot,
	})
	if cfg.Index.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Index.Timeout)
		defer cancel()
	}
	idx, err := h.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load debug info from %s: %w", path, err)
	}
	return idx, nil
}
