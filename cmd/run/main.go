package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/lua-threads/config"
	"github.com/wippyai/lua-threads/engine"
	"github.com/wippyai/lua-threads/runtime"
)

type options struct {
	eval        string
	configPath  string
	interactive bool
	verbose     bool
	metrics     bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "run [script.lua | -]",
		Short: "Run Lua scripts with native threads sharing one interpreter",
		Long: `Run Lua scripts whose threads share one interpreter.

Scripts get the thread library (spawn, join, sleep, condvar, mutex) and,
unless disabled, the wasm library for calling WebAssembly modules.

With no script and a terminal on stdin, an interactive prompt starts.

Examples:
  run script.lua
  run -e 'thread.spawn(function() print("hi") end):join()'
  run -c lthread.yaml --metrics script.lua
  echo 'print(1 + 1)' | run -`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.eval, "eval", "e", "", "evaluate a chunk and print its results")
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "start the interactive prompt (after the script, if any)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", false, "print metrics to stderr on exit")

	return cmd
}

func run(cmd *cobra.Command, opts *options, args []string) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	if opts.metrics {
		cfg.Metrics.Enabled = true
	}

	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	engine.SetLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	interactive := opts.interactive || (len(args) == 0 && opts.eval == "" && stdinIsTerminal())

	var out io.Writer = cmd.OutOrStdout()
	var captured *syncBuffer
	if interactive {
		captured = &syncBuffer{}
		out = captured
	}

	rt, err := runtime.New(ctx, cfg, runtime.WithOutput(out), runtime.WithLogger(log))
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Close(cctx); err != nil {
			log.Warn("runtime close", zap.Error(err))
		}
	}()

	switch {
	case opts.eval != "":
		vals, err := rt.Eval(ctx, opts.eval)
		if err != nil {
			return describe(err)
		}
		for _, v := range vals {
			fmt.Fprintln(cmd.OutOrStdout(), formatValue(v))
		}

	case len(args) == 1 && args[0] == "-":
		src, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		if err := rt.Exec(ctx, "stdin", string(src)); err != nil {
			return describe(err)
		}

	case len(args) == 1:
		if err := rt.ExecFile(ctx, args[0]); err != nil {
			return describe(err)
		}

	case !interactive:
		src, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		if err := rt.Exec(ctx, "stdin", string(src)); err != nil {
			return describe(err)
		}
	}

	if interactive {
		if captured.Len() > 0 {
			fmt.Fprint(cmd.OutOrStdout(), captured.Take())
		}
		if err := runInteractive(ctx, rt, captured); err != nil {
			return err
		}
	}

	if opts.metrics {
		if err := rt.WriteMetrics(cmd.ErrOrStderr()); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

// describe turns a script failure carrying a non-string value into a
// readable error.
func describe(err error) error {
	if v, ok := runtime.FailureValue(err); ok {
		return fmt.Errorf("%w (value: %s)", err, formatValue(runtime.ToGo(v)))
	}
	return err
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return fmt.Sprintf("%q", x)
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
