// Package inspect implements the offline commands that query a binary's
// debug info without attaching to a process.
package inspect

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/strobe/internal/cli/helpers"
	"github.com/coral-mesh/strobe/internal/config"
	"github.com/coral-mesh/strobe/pkg/debuginfo"
)

// Opener loads the index of the binary at path.
type Opener func(ctx context.Context, cfg *config.Config, logger zerolog.Logger, path string) (*debuginfo.Index, error)

// Env is what the inspect commands need from the root command.
type Env struct {
	Globals *helpers.Globals
	// Open defaults to helpers.OpenIndex.
	Open Opener
}

type loaded struct {
	cfg    *config.Config
	logger zerolog.Logger
	idx    *debuginfo.Index
}

func (e *Env) load(cmd *cobra.Command, path string) (*loaded, error) {
	cfg, err := e.Globals.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := helpers.Logger(cfg, cmd.ErrOrStderr())
	open := e.Open
	if open == nil {
		open = helpers.OpenIndex
	}
	idx, err := open(cmd.Context(), cfg, logger, path)
	if err != nil {
		return nil, err
	}
	logger.Debug().
		Str("binary", path).
		Int("functions", idx.FunctionCount()).
		Int("variables", idx.VariableCount()).
		Msg("Debug info loaded")
	return &loaded{cfg: cfg, logger: logger, idx: idx}, nil
}

// Commands returns every inspect command.
func Commands(env *Env) []*cobra.Command {
	return []*cobra.Command{
		newSymbolsCmd(env),
		newVarsCmd(env),
		newResolveCmd(env),
		newLineCmd(env),
		newAddrCmd(env),
		newLocalsCmd(env),
	}
}

func parseAddress(s string) (uint64, error) {
	addr, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return addr, nil
}

// parseFileLine splits "file:line" at the last colon.
func parseFileLine(s string) (string, uint32, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return "", 0, fmt.Errorf("expected file:line, got %q", s)
	}
	line, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil || line == 0 {
		return "", 0, fmt.Errorf("invalid line in %q", s)
	}
	return s[:i], uint32(line), nil
}

func location(file string, line uint32) string {
	if file == "" {
		return "-"
	}
	if line == 0 {
		return file
	}
	return fmt.Sprintf("%s:%d", file, line)
}
