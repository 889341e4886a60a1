// Package trace implements `strobe trace`, which attaches to a running
// process and streams watch and logpoint events as JSON lines.
package trace

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/strobe/internal/breakpoint"
	"github.com/coral-mesh/strobe/internal/cli/helpers"
	"github.com/coral-mesh/strobe/internal/event"
	"github.com/coral-mesh/strobe/internal/session"
	"github.com/coral-mesh/strobe/pkg/resolver"
)

type options struct {
	pid       int32
	watches   []string
	exprs     []string
	logpoints []string
	duration  time.Duration
}

// NewTraceCmd creates the trace command.
func NewTraceCmd(g *helpers.Globals) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "trace <pattern>...",
		Short: "Trace functions of a running process and stream events",
		Long: `Attach to a running process, intercept every function the patterns select
and print one JSON event per line on stdout.

Slot watches (--watch) are read inline on every traced call; at most four
may be given. Append @glob[,glob] to scope a watch to matching functions.
Expression watches (--expr) are read by the host while draining and may
follow any number of pointers. Logpoints (--logpoint target=template)
render {expression} placeholders from the call's parameters.`,
		Example: `  strobe trace --pid 4242 --watch gCounter --watch 'gPointPtr->x@midi::*' 'audio::*'
  strobe trace --pid 4242 --logpoint 'engine.cpp:42=frames={frames}' --duration 30s main`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, g, opts, args)
		},
	}
	cmd.Flags().Int32Var(&opts.pid, "pid", 0, "Process to attach to")
	cmd.Flags().StringArrayVar(&opts.watches, "watch", nil, "Slot watch expression[@scope]")
	cmd.Flags().StringArrayVar(&opts.exprs, "expr", nil, "Host-evaluated expression watch[@scope]")
	cmd.Flags().StringArrayVar(&opts.logpoints, "logpoint", nil, "Logpoint target=template")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Stop after this long (default: until interrupted)")
	_ = cmd.MarkFlagRequired("pid")
	return cmd
}

func run(cmd *cobra.Command, g *helpers.Globals, opts options, patterns []string) error {
	watches := make([]session.WatchSpec, len(opts.watches))
	for i, w := range opts.watches {
		watches[i] = parseWatch(w)
	}
	logpoints := make([]breakpoint.LogpointSpec, len(opts.logpoints))
	for i, lp := range opts.logpoints {
		spec, err := parseLogpoint(lp)
		if err != nil {
			return err
		}
		logpoints[i] = spec
	}

	cfg, err := g.LoadConfig()
	if err != nil {
		return err
	}
	logger := helpers.Logger(cfg, cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	mgr, err := session.NewManager(logger, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			logger.Warn().Err(err).Msg("Teardown reported errors")
		}
	}()

	sess, err := mgr.Attach(ctx, opts.pid, session.Options{Sink: event.NewWriterSink(logger, cmd.OutOrStdout())})
	if err != nil {
		return err
	}

	if len(watches) > 0 {
		if _, err := sess.UpdateWatchSlots(ctx, watches); err != nil {
			return err
		}
	}
	for _, e := range opts.exprs {
		if err := sess.AddExpressionWatch(ctx, parseWatch(e)); err != nil {
			return err
		}
	}
	for _, spec := range logpoints {
		if _, err := sess.InstallLogpoint(ctx, spec); err != nil {
			return err
		}
	}
	for _, p := range patterns {
		if _, err := sess.TraceFunctions(ctx, p); err != nil {
			return err
		}
	}

	<-ctx.Done()
	st := sess.Stats()
	logger.Info().
		Uint64("stored", st.Ring.Stored).
		Uint64("overflow", st.Ring.Overflow).
		Uint64("sampled_out", st.Sampled).
		Int("traced", st.Traced).
		Msg("Trace finished")
	return nil
}

// parseWatch splits "expr@glob,glob".
func parseWatch(s string) session.WatchSpec {
	spec := session.WatchSpec{Expression: strings.TrimSpace(s)}
	if i := strings.LastIndexByte(s, '@'); i > 0 {
		spec.Expression = strings.TrimSpace(s[:i])
		for _, scope := range strings.Split(s[i+1:], ",") {
			if scope = strings.TrimSpace(scope); scope != "" {
				spec.Scope = append(spec.Scope, scope)
			}
		}
	}
	return spec
}

// parseTarget reads "file:line" when the text after the last colon is a
// line number, and a function pattern otherwise.
func parseTarget(s string) resolver.Target {
	if i := strings.LastIndexByte(s, ':'); i > 0 && i < len(s)-1 && s[i-1] != ':' {
		if line, err := strconv.ParseUint(s[i+1:], 10, 32); err == nil {
			return resolver.Target{File: s[:i], Line: uint32(line)}
		}
	}
	return resolver.Target{Function: s}
}

func parseLogpoint(s string) (breakpoint.LogpointSpec, error) {
	target, message, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(target) == "" {
		return breakpoint.LogpointSpec{}, fmt.Errorf("logpoint %q: expected target=template", s)
	}
	return breakpoint.LogpointSpec{Target: parseTarget(strings.TrimSpace(target)), Message: message}, nil
}
