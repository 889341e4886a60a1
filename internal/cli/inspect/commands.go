package inspect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/strobe/internal/cli/helpers"
	"github.com/coral-mesh/strobe/internal/safe"
	"github.com/coral-mesh/strobe/pkg/debuginfo"
	"github.com/coral-mesh/strobe/pkg/resolver"
)

type symbolRow struct {
	Name     string `header:"FUNCTION" json:"name"`
	Address  uint64 `header:"ADDRESS" hex:"true" json:"address"`
	Size     uint64 `header:"SIZE" json:"size"`
	Location string `header:"LOCATION" json:"location"`
	RawName  string `json:"raw_name,omitempty"`
}

func newSymbolsCmd(env *Env) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "symbols <binary> [pattern]",
		Short: "List functions, optionally filtered by a namespace glob or @file:<path>",
		Example: `  strobe symbols ./engine 'audio::*'
  strobe symbols ./engine '@file:midi/handler'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := env.load(cmd, args[0])
			if err != nil {
				return err
			}
			fns := l.idx.Functions()
			if len(args) == 2 {
				if fns, err = resolver.New(l.logger, l.idx).ResolveTargets(args[1]); err != nil {
					return err
				}
			}
			rows := make([]symbolRow, len(fns))
			for i, fn := range fns {
				rows[i] = symbolRow{
					Name:     fn.Name,
					Address:  fn.LowPC,
					Size:     fn.Size(),
					Location: location(fn.File, fn.Line),
					RawName:  fn.RawName,
				}
			}
			return helpers.Write(cmd, format, rows)
		},
	}
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.SupportedFormats)
	return cmd
}

type varRow struct {
	Name     string `header:"VARIABLE" json:"name"`
	Address  uint64 `header:"ADDRESS" hex:"true" json:"address"`
	Size     uint64 `header:"SIZE" json:"size"`
	Type     string `header:"TYPE" json:"type"`
	Location string `header:"LOCATION" json:"location"`
}

func newVarsCmd(env *Env) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "vars <binary> [pattern]",
		Short: "List global variables",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := env.load(cmd, args[0])
			if err != nil {
				return err
			}
			vars := l.idx.Variables()
			if len(args) == 2 {
				vars = l.idx.FindVariables(args[1])
			}
			rows := make([]varRow, len(vars))
			for i, v := range vars {
				rows[i] = varRow{
					Name:     v.Name,
					Address:  v.Address,
					Size:     v.Size,
					Type:     v.TypeName,
					Location: v.Location.String(),
				}
			}
			return helpers.Write(cmd, format, rows)
		},
	}
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.SupportedFormats)
	return cmd
}

type recipeRow struct {
	Label     string `header:"EXPRESSION" json:"label"`
	Base      uint64 `header:"BASE" hex:"true" json:"base_address"`
	Chain     string `header:"DEREF CHAIN" json:"deref_chain"`
	Size      uint8  `header:"SIZE" json:"size"`
	Type      string `header:"TYPE" json:"type"`
	Truncated bool   `header:"TRUNCATED" json:"truncated,omitempty"`
}

func recipeToRow(r resolver.Recipe, truncated bool) recipeRow {
	chain := make([]string, len(r.DerefChain))
	for i, off := range r.DerefChain {
		chain[i] = fmt.Sprintf("+%d", off)
	}
	c := strings.Join(chain, " ")
	if c == "" {
		c = "-"
	}
	return recipeRow{
		Label:     r.Label,
		Base:      r.BaseAddress,
		Chain:     c,
		Size:      r.FinalSize,
		Type:      r.TypeName,
		Truncated: truncated,
	}
}

func newResolveCmd(env *Env) *cobra.Command {
	var (
		format string
		depth  int
	)
	cmd := &cobra.Command{
		Use:   "resolve <binary> <expression>",
		Short: "Compile a value expression such as gGame->player->health into a read recipe",
		Long: `Compile a value expression into a read recipe: the file-relative base
address, the member offsets to dereference and the final value size. A
pointer to a struct is expanded into one recipe per member, down to --depth
levels of nested pointers.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := env.load(cmd, args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("depth") {
				depth = l.cfg.Index.StructDepth
			}
			if depth < 0 || depth > debuginfo.MaxExpandDepth {
				return fmt.Errorf("depth must be between 0 and %d", debuginfo.MaxExpandDepth)
			}
			rt, err := resolver.New(l.logger, l.idx).ResolveReadTarget(args[1], depth)
			if err != nil {
				return err
			}
			rows := []recipeRow{recipeToRow(rt.Recipe, false)}
			for _, f := range rt.Fields {
				rows = append(rows, recipeToRow(f.Recipe, f.Truncated))
			}
			return helpers.Write(cmd, format, rows)
		},
	}
	cmd.Flags().IntVar(&depth, "depth", debuginfo.DefaultExpandDepth, "Struct expansion depth")
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.SupportedFormats)
	return cmd
}

type lineRow struct {
	File     string `header:"FILE" json:"file"`
	Line     uint32 `header:"LINE" json:"line"`
	Address  uint64 `header:"ADDRESS" hex:"true" json:"address"`
	Function string `header:"FUNCTION" json:"function"`
}

func newLineCmd(env *Env) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "line <binary> <file:line>",
		Short: "Resolve a source line to the address of its first statement",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, line, err := parseFileLine(args[1])
			if err != nil {
				return err
			}
			l, err := env.load(cmd, args[0])
			if err != nil {
				return err
			}
			loc, err := resolver.New(l.logger, l.idx, resolver.WithNearestLines(l.cfg.Index.NearestLines)).
				ResolveBreakpoint(resolver.Target{File: file, Line: line})
			if err != nil {
				return err
			}
			if loc.Line != line {
				l.logger.Info().Uint32("requested", line).Uint32("actual", loc.Line).Msg("Line snapped to next statement")
			}
			return helpers.Write(cmd, format, []lineRow{{
				File:     loc.File,
				Line:     loc.Line,
				Address:  loc.Address,
				Function: loc.Function.Name,
			}})
		},
	}
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.SupportedFormats)
	return cmd
}

type addrRow struct {
	Address  uint64 `header:"ADDRESS" hex:"true" json:"address"`
	Function string `header:"FUNCTION" json:"function"`
	Offset   uint64 `header:"OFFSET" hex:"true" json:"offset"`
	Location string `header:"LOCATION" json:"location"`
}

// fileAddress converts a runtime address to a file address given a slide
// written as an unsigned hex or decimal number.
func fileAddress(addr uint64, slideFlag string) (uint64, error) {
	if slideFlag == "" {
		return addr, nil
	}
	raw, err := parseAddress(slideFlag)
	if err != nil {
		return 0, fmt.Errorf("invalid slide: %w", err)
	}
	slide, clamped := safe.Uint64ToInt64(raw)
	if clamped {
		return 0, fmt.Errorf("slide 0x%x is out of range", raw)
	}
	out, wrapped := safe.Offset(addr, -slide)
	if wrapped {
		return 0, fmt.Errorf("address 0x%x is below slide 0x%x", addr, raw)
	}
	return out, nil
}

func newAddrCmd(env *Env) *cobra.Command {
	var (
		format string
		slide  string
	)
	cmd := &cobra.Command{
		Use:   "addr <binary> <address>...",
		Short: "Map addresses to function and source line",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := env.load(cmd, args[0])
			if err != nil {
				return err
			}
			rows := make([]addrRow, 0, len(args)-1)
			for _, arg := range args[1:] {
				addr, err := parseAddress(arg)
				if err != nil {
					return err
				}
				fa, err := fileAddress(addr, slide)
				if err != nil {
					return err
				}
				fn, ok := l.idx.FunctionContaining(fa)
				if !ok {
					return fmt.Errorf("address 0x%x: %w", fa, debuginfo.ErrNotFound)
				}
				row := addrRow{Address: fa, Function: fn.Name, Offset: fa - fn.LowPC, Location: "-"}
				if e, ok := l.idx.ResolveAddress(fa); ok {
					row.Location = location(e.File, e.Line)
				}
				rows = append(rows, row)
			}
			return helpers.Write(cmd, format, rows)
		},
	}
	cmd.Flags().StringVar(&slide, "slide", "", "Load slide to subtract from runtime addresses")
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.SupportedFormats)
	return cmd
}

type localRow struct {
	Name     string `header:"NAME" json:"name"`
	Kind     string `header:"KIND" json:"kind"`
	Type     string `header:"TYPE" json:"type"`
	Size     uint64 `header:"SIZE" json:"size"`
	Location string `header:"LOCATION" json:"location"`
}

func newLocalsCmd(env *Env) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "locals <binary> <address|function>",
		Short: "List the parameters and locals in scope at an address or function entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := env.load(cmd, args[0])
			if err != nil {
				return err
			}
			pc, err := parseAddress(args[1])
			if err != nil {
				loc, rerr := resolver.New(l.logger, l.idx).ResolveBreakpoint(resolver.Target{Function: args[1]})
				if rerr != nil {
					return errors.Join(err, rerr)
				}
				pc = loc.Address
			}
			locals, err := l.idx.Locals(pc)
			if err != nil {
				return err
			}
			rows := make([]localRow, len(locals))
			for i, lv := range locals {
				kind := "local"
				if lv.Kind == debuginfo.LocalParameter {
					kind = "param"
				}
				rows[i] = localRow{
					Name:     lv.Name,
					Kind:     kind,
					Type:     lv.TypeName,
					Size:     lv.Size,
					Location: lv.Location.String(),
				}
			}
			return helpers.Write(cmd, format, rows)
		},
	}
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, helpers.SupportedFormats)
	return cmd
}
