// Command munin is the host CLI harness around the munin embedding
// surface: run a script file, disassemble its compiled bytecode, or
// drop into an interactive line-at-a-time REPL.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/munin-lang/munin"
	"github.com/munin-lang/munin/stdlib/mathlib"
)

func newRuntime() (*munin.Runtime, *munin.Context, *munin.Namespace) {
	rt := munin.NewRuntime(munin.NewConfig())
	ctx := rt.NewContext()
	ns := rt.DefaultNamespace(ctx)
	mathlib.Install(ctx, ns)
	return rt, ctx, ns
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "munin:", err)
	for _, t := range munin.Traceback(err) {
		fmt.Fprintf(os.Stderr, "  at %s (%s:%d)\n", t.Name, t.File, t.Line)
	}
	os.Exit(1)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "Compile and run a script file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rt, ctx, ns := newRuntime()
			defer rt.Release(ctx)
			_, err = munin.Eval(ctx, args[0], src, ns)
			if err != nil {
				fail(err)
			}
			return nil
		},
	}
}

func newDisasmCmd() *cobra.Command {
	var highlight bool
	cmd := &cobra.Command{
		Use:   "disasm <file>",
		Short: "Compile a script file and print its bytecode listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rt, ctx, _ := newRuntime()
			defer rt.Release(ctx)
			tr, root, err := munin.Parse(args[0], src)
			if err != nil {
				fail(err)
			}
			prog, err := munin.Codegen(ctx, tr, root, args[0], "<toplevel>")
			if err != nil {
				fail(err)
			}
			if highlight {
				fmt.Println(prog.HighlightPrettyString())
			} else {
				fmt.Println(prog.PrettyString())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&highlight, "color", false, "colorize the listing")
	return cmd
}

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive read-eval-print loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepl()
		},
	}
}

func runRepl() error {
	rl, err := readline.New("munin> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	rt, ctx, ns := newRuntime()
	defer rt.Release(ctx)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		v, err := munin.Eval(ctx, "<repl>", []byte(line), ns)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			for _, t := range munin.Traceback(err) {
				fmt.Fprintf(os.Stderr, "  at %s (%s:%d)\n", t.Name, t.File, t.Line)
			}
			continue
		}
		fmt.Println(munin.Display(v))
	}
}

func main() {
	root := &cobra.Command{
		Use:   "munin",
		Short: "munin runs and inspects scripts on the munin embeddable VM",
	}
	root.AddCommand(newRunCmd(), newDisasmCmd(), newReplCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
