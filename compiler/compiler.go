package compiler

import (
	"context"

	"github.com/spf13/afero"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/mirsh/compiler/ast"
	"github.com/slowlang/mirsh/compiler/check"
	"github.com/slowlang/mirsh/compiler/exec"
	"github.com/slowlang/mirsh/compiler/lower"
	"github.com/slowlang/mirsh/compiler/mir"
)

type (
	Unit struct {
		Name string

		Program *mir.Program
		Diags   []lower.Diagnostic
		Report  check.Report
	}
)

var ErrDiagnostics = errors.New("lowering diagnostics")

func LowerFile(ctx context.Context, fs afero.Fs, name string, strict bool) (*Unit, error) {
	text, err := afero.ReadFile(fs, name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	return Lower(ctx, name, text, strict)
}

// Lower decodes, lowers and checks a syntax tree.
// In strict mode any lowering diagnostic fails it.
func Lower(ctx context.Context, name string, text []byte, strict bool) (u *Unit, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compiler: lower", "name", name)
	defer tr.Finish("err", &err)

	root, err := ast.Decode(text)
	if err != nil {
		return nil, errors.Wrap(err, "decode tree")
	}

	var l lower.Lowerer

	u = &Unit{
		Name:    name,
		Program: l.Program(ctx, root),
	}

	u.Diags = l.Diags

	if strict && len(u.Diags) != 0 {
		return u, errors.Wrap(ErrDiagnostics, "%v: %d, first: %v", name, len(u.Diags), u.Diags[0])
	}

	u.Report, err = check.Program(ctx, u.Program)
	if err != nil {
		return u, errors.Wrap(err, "check")
	}

	return u, nil
}

func RunFile(ctx context.Context, fs afero.Fs, name string, cfg Config) (mir.Value, *Unit, error) {
	u, err := LowerFile(ctx, fs, name, cfg.Strict)
	if err != nil {
		return mir.Value{}, u, err
	}

	v, err := Run(ctx, u, cfg.Exec)

	return v, u, err
}

func Run(ctx context.Context, u *Unit, cfg exec.Config) (v mir.Value, err error) {
	e, err := exec.New(cfg)
	if err != nil {
		return mir.Value{}, err
	}

	v, err = e.Main(ctx, u.Program)
	if err != nil {
		return mir.Value{}, errors.Wrap(err, "exec %v", u.Name)
	}

	return v, nil
}
