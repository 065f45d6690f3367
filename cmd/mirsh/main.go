package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/mirsh/compiler"
	"github.com/slowlang/mirsh/compiler/format"
)

func main() {
	lowerCmd := &cli.Command{
		Name:        "lower",
		Description: "lower syntax trees and print MIR",
		Action:      lowerAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("color", "auto", "color opcodes: auto, always, never"),
		},
	}

	runCmd := &cli.Command{
		Name:        "run",
		Description: "lower and execute syntax trees",
		Action:      runAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("max-depth", 0, "call depth limit, 0 is the config or default value"),
		},
	}

	checkCmd := &cli.Command{
		Name:        "check",
		Description: "lower and verify syntax trees",
		Action:      checkAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "mirsh",
		Description: "mirsh lowers shell syntax trees into MIR and runs them",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("verbosity,v", "", "logger verbosity topics"),
			cli.NewFlag("config,c", "", "yaml config file"),
			cli.NewFlag("strict", false, "fail on lowering diagnostics"),
		},
		Commands: []*cli.Command{
			lowerCmd,
			runCmd,
			checkCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	tlog.SetVerbosity(c.String("verbosity"))

	return nil
}

func setup(c *cli.Command) (context.Context, afero.Fs, compiler.Config, error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	fs := afero.NewOsFs()

	cfg, err := compiler.LoadConfig(fs, c.String("config"))
	if err != nil {
		return ctx, fs, cfg, err
	}

	if c.Bool("strict") {
		cfg.Strict = true
	}

	return ctx, fs, cfg, nil
}

func lowerAct(c *cli.Command) (err error) {
	ctx, fs, cfg, err := setup(c)
	if err != nil {
		return err
	}

	opts := &format.Options{}

	if useColor(c.String("color")) {
		col := color.New(color.FgCyan, color.Bold)
		col.EnableColor()

		opts.Opcode = func(op string) string { return col.Sprint(op) }
	}

	var b []byte

	for _, a := range c.Args {
		u, err := compiler.LowerFile(ctx, fs, a, cfg.Strict)
		if u != nil {
			printDiags(u)
		}
		if err != nil {
			return errors.Wrap(err, "lower %v", a)
		}

		opts.Unreachable = u.Report.Unreachable

		b, err = format.Program(ctx, b[:0], u.Program, opts)
		if err != nil {
			return errors.Wrap(err, "format %v", a)
		}

		_, err = os.Stdout.Write(b)
		if err != nil {
			return errors.Wrap(err, "write")
		}
	}

	return nil
}

func runAct(c *cli.Command) (err error) {
	ctx, fs, cfg, err := setup(c)
	if err != nil {
		return err
	}

	if d := c.Int("max-depth"); d != 0 {
		cfg.Exec.MaxDepth = d
	}

	cfg.Exec.Runner = osRunner{}

	for _, a := range c.Args {
		v, u, err := compiler.RunFile(ctx, fs, a, cfg)
		if u != nil {
			printDiags(u)
		}
		if err != nil {
			return errors.Wrap(err, "run %v", a)
		}

		fmt.Printf("%v\n", v)
	}

	return nil
}

func checkAct(c *cli.Command) (err error) {
	ctx, fs, cfg, err := setup(c)
	if err != nil {
		return err
	}

	for _, a := range c.Args {
		u, err := compiler.LowerFile(ctx, fs, a, cfg.Strict)
		if u != nil {
			printDiags(u)
		}
		if err != nil {
			return errors.Wrap(err, "check %v", a)
		}

		for _, name := range u.Program.Order {
			if ids := u.Report.Unreachable[name]; len(ids) != 0 {
				fmt.Fprintf(os.Stderr, "%v: %v: unreachable blocks %v\n", a, name, ids)
			}
		}

		fmt.Printf("%v: ok\n", a)
	}

	return nil
}

func printDiags(u *compiler.Unit) {
	for _, d := range u.Diags {
		fmt.Fprintf(os.Stderr, "%v:%v\n", u.Name, d)
	}
}

func useColor(mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}

	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
