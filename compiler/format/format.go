package format

import (
	"context"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/slowlang/mirsh/compiler/mir"
)

type (
	Options struct {
		// Opcode decorates instruction names, for example with terminal colors.
		Opcode func(op string) string

		// Unreachable blocks are marked in the listing.
		Unreachable map[string][]mir.BlockID
	}
)

// Program appends a text listing of p to b. Functions go in declaration order.
func Program(ctx context.Context, b []byte, p *mir.Program, opts *Options) (_ []byte, err error) {
	if opts == nil {
		opts = &Options{}
	}

	for i, name := range p.Order {
		f, ok := p.Funcs[name]
		if !ok {
			return nil, errors.New("no function %v", name)
		}

		if i != 0 {
			b = append(b, '\n')
		}

		b, err = formatFunc(ctx, b, f, opts)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", name)
		}
	}

	return b, nil
}

func Func(ctx context.Context, b []byte, f *mir.Func, opts *Options) ([]byte, error) {
	if opts == nil {
		opts = &Options{}
	}

	return formatFunc(ctx, b, f, opts)
}

func formatFunc(ctx context.Context, b []byte, f *mir.Func, opts *Options) (_ []byte, err error) {
	b = app(b, 0, "func %v(", f.Name)

	for i, name := range f.Params {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = app(b, 0, "%v", name)

		if i < len(f.ParamRegs) {
			b = app(b, 0, " %v", f.ParamRegs[i])
		}
	}

	b = app(b, 0, ") regs %d {\n", f.NumRegs)

	unr := map[mir.BlockID]bool{}

	for _, id := range opts.Unreachable[f.Name] {
		unr[id] = true
	}

	for _, blk := range f.Blocks {
		b = app(b, 0, "b%d:", blk.ID)

		if blk.ID == f.Entry {
			b = append(b, " // entry"...)
		} else if unr[blk.ID] {
			b = append(b, " // unreachable"...)
		}

		b = append(b, '\n')

		for i, x := range blk.Code {
			b, err = formatInstr(ctx, b, x, opts)
			if err != nil {
				return nil, errors.Wrap(err, "b%d:%d", blk.ID, i)
			}
		}
	}

	b = app(b, 0, "}\n")

	return b, nil
}

// Instr appends a single line listing x.
func Instr(ctx context.Context, b []byte, x mir.Instr, opts *Options) ([]byte, error) {
	if opts == nil {
		opts = &Options{}
	}

	return formatInstr(ctx, b, x, opts)
}

func formatInstr(ctx context.Context, b []byte, x mir.Instr, opts *Options) ([]byte, error) {
	op := func(dst mir.Reg, name string) {
		b = app(b, 1, "")

		if dst != mir.NoReg {
			b = app(b, 0, "%v = ", dst)
		}

		if opts.Opcode != nil {
			name = opts.Opcode(name)
		}

		b = append(b, name...)
	}

	if name, y, ok := binary(x); ok {
		op(y.Dest, name)
		b = app(b, 0, " %v, %v\n", y.L, y.R)

		return b, nil
	}

	switch x := x.(type) {
	case mir.LoadImmediate:
		op(x.Dest, "load")
		b = app(b, 0, " %v", x.Value)
	case mir.Move:
		op(x.Dest, "move")
		b = app(b, 0, " %v", x.Src)
	case mir.RegexMatch:
		name := "regex"
		if x.Negate {
			name = "not_regex"
		}

		op(x.Dest, name)
		b = app(b, 0, " %v, %v", x.L, x.R)
	case mir.AndSC:
		op(x.Dest, "and_sc")
		b = app(b, 0, " %v skip %d", x.Left, x.Skip)
	case mir.OrSC:
		op(x.Dest, "or_sc")
		b = app(b, 0, " %v skip %d", x.Left, x.Skip)
	case mir.Call:
		op(x.Dest, "call")
		b = app(b, 0, " %v", x.Func)
		b = args(b, x.Args)
	case mir.ClosureCall:
		op(x.Dest, "call_closure")
		b = app(b, 0, " %v", x.Closure)
		b = args(b, x.Args)
	case mir.ExecuteCommand:
		op(x.Dest, "exec")
		b = app(b, 0, " %q", x.Name)
		b = args(b, x.Args)
	case mir.ClosureCreate:
		op(x.Dest, "closure")
		b = app(b, 0, " b%d (", x.Block)

		for i, r := range x.Params {
			if i != 0 {
				b = append(b, ", "...)
			}

			if i < len(x.ParamNames) {
				b = app(b, 0, "%v ", x.ParamNames[i])
			}

			b = app(b, 0, "%v", r)
		}

		b = append(b, ')')

		if len(x.Captures) != 0 {
			b = append(b, " captures"...)

			for i, c := range x.Captures {
				if i != 0 {
					b = append(b, ',')
				}

				b = app(b, 0, " %v = %v", c.Reg, c.Value)
			}
		}
	case mir.MatchDispatch:
		op(x.Dest, "match")
		b = app(b, 0, " %v [", x.Scrutinee)

		for i, a := range x.Arms {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = app(b, 0, "%v: b%d", a.Pattern, a.Block)
		}

		b = append(b, ']')

		if x.Default != mir.NoBlock {
			b = app(b, 0, " default b%d", x.Default)
		}
	case mir.Try:
		op(x.Dest, "try")
		b = app(b, 0, " b%d", x.Body)

		if x.Catch != mir.NoBlock {
			b = app(b, 0, " catch %v b%d", x.CatchReg, x.Catch)
		}

		if x.Finally != mir.NoBlock {
			b = app(b, 0, " finally b%d", x.Finally)
		}
	case mir.Return:
		op(mir.NoReg, "return")
		b = app(b, 0, " %v", x.Value)
	case mir.ClosureReturn:
		op(mir.NoReg, "closure_return")
		b = app(b, 0, " %v", x.Value)
	case mir.Yield:
		op(mir.NoReg, "yield")
		b = app(b, 0, " %v", x.Value)
	case mir.Throw:
		op(mir.NoReg, "throw")
		b = app(b, 0, " %v", x.Value)
	default:
		return nil, errors.New("unsupported instruction: %T", x)
	}

	b = append(b, '\n')

	return b, nil
}

func binary(x mir.Instr) (string, mir.Binary, bool) {
	switch x := x.(type) {
	case mir.Add:
		return "add", mir.Binary(x), true
	case mir.Sub:
		return "sub", mir.Binary(x), true
	case mir.Mul:
		return "mul", mir.Binary(x), true
	case mir.Div:
		return "div", mir.Binary(x), true
	case mir.Mod:
		return "mod", mir.Binary(x), true
	case mir.Pow:
		return "pow", mir.Binary(x), true
	case mir.Eq:
		return "eq", mir.Binary(x), true
	case mir.Ne:
		return "ne", mir.Binary(x), true
	case mir.Lt:
		return "lt", mir.Binary(x), true
	case mir.Le:
		return "le", mir.Binary(x), true
	case mir.Gt:
		return "gt", mir.Binary(x), true
	case mir.Ge:
		return "ge", mir.Binary(x), true
	case mir.BitAnd:
		return "and", mir.Binary(x), true
	case mir.BitOr:
		return "or", mir.Binary(x), true
	case mir.BitXor:
		return "xor", mir.Binary(x), true
	case mir.Shl:
		return "shl", mir.Binary(x), true
	case mir.Shr:
		return "shr", mir.Binary(x), true
	}

	return "", mir.Binary{}, false
}

func args(b []byte, args []mir.Value) []byte {
	b = append(b, '(')

	for i, a := range args {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = app(b, 0, "%v", a)
	}

	return append(b, ')')
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t"
	b = append(b, tabs[:d]...)
	b = hfmt.Appendf(b, f, args...)
	return b
}
