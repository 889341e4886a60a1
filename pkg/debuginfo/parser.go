package debuginfo

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	strobeerrors "github.com/coral-mesh/strobe/internal/errors"
)

// Options controls where debug info is looked up.
type Options struct {
	// SymbolsPath names an explicit file holding the DWARF data.
	SymbolsPath string

	// SearchRoot is an extra directory searched for dSYM bundles and
	// detached .debug files.
	SearchRoot string
}

// Open parses the debug info of the binary at path. Code and the image base
// always come from the binary itself; DWARF may come from a detached file.
func Open(logger zerolog.Logger, path string, opts Options) (*Index, error) {
	logger = logger.With().Str("component", "debuginfo").Str("binary", path).Logger()
	start := time.Now()

	img, err := openImage(path)
	if err != nil {
		return nil, err
	}
	cs := closers{img.closer}

	dwarfImg := img
	switch {
	case opts.SymbolsPath != "":
		dimg, err := openImage(opts.SymbolsPath)
		if err != nil {
			strobeerrors.DeferClose(logger, cs, "Failed to release binary")
			return nil, fmt.Errorf("failed to open symbols file: %w", err)
		}
		cs = append(cs, dimg.closer)
		dwarfImg = dimg

	case img.dwarf == nil:
		for _, cand := range img.debugCandidates(opts.SearchRoot) {
			dimg, err := openImage(cand)
			if err != nil {
				continue
			}
			if dimg.dwarf == nil {
				strobeerrors.DeferClose(logger, dimg.closer, "Failed to release debug file candidate")
				continue
			}
			logger.Debug().Str("debug_file", cand).Msg("Using detached debug info")
			cs = append(cs, dimg.closer)
			dwarfImg = dimg
			break
		}
	}

	if dwarfImg.dwarf == nil {
		strobeerrors.DeferClose(logger, cs, "Failed to release binary")
		if dwarfImg.dwarfErr != nil {
			return nil, fmt.Errorf("%s: %w: %v", dwarfImg.path, ErrNoDebugInfo, dwarfImg.dwarfErr)
		}
		return nil, fmt.Errorf("%s: %w", dwarfImg.path, ErrNoDebugInfo)
	}

	// Symbols from the detached file help resolve DW_OP_addrx globals.
	if dwarfImg != img {
		for name, addr := range dwarfImg.symbols {
			if _, ok := img.symbols[name]; !ok {
				img.symbols[name] = addr
			}
		}
	}

	tables, err := parseDWARF(logger, dwarfImg.dwarf, img)
	if err != nil {
		strobeerrors.DeferClose(logger, cs, "Failed to release binary")
		return nil, err
	}
	tables.Closer = io.Closer(cs)

	idx := NewIndex(logger, tables)
	logger.Info().
		Int("functions", idx.FunctionCount()).
		Int("variables", idx.VariableCount()).
		Str("arch", idx.Arch()).
		Str("image_base", fmt.Sprintf("0x%x", idx.ImageBase())).
		Dur("elapsed", time.Since(start)).
		Msg("Parsed debug info")
	return idx, nil
}
