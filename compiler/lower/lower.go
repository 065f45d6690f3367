package lower

import (
	"context"
	"fmt"
	"strconv"

	"github.com/anmitsu/go-shlex"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/mirsh/compiler/ast"
	"github.com/slowlang/mirsh/compiler/mir"
)

type (
	// Lowerer turns a syntax tree into a MIR program.
	// It never fails: input it can't lower becomes Null and a Diagnostic.
	Lowerer struct {
		Diags []Diagnostic

		// OnDiag is called for each Diagnostic as it's recorded.
		OnDiag func(Diagnostic)
	}

	Diagnostic struct {
		Msg  string
		Line int
		Col  int

		From loc.PC
	}
)

var binops = map[string]func(mir.Binary) mir.Instr{
	"+":  func(x mir.Binary) mir.Instr { return mir.Add(x) },
	"-":  func(x mir.Binary) mir.Instr { return mir.Sub(x) },
	"*":  func(x mir.Binary) mir.Instr { return mir.Mul(x) },
	"/":  func(x mir.Binary) mir.Instr { return mir.Div(x) },
	"%":  func(x mir.Binary) mir.Instr { return mir.Mod(x) },
	"**": func(x mir.Binary) mir.Instr { return mir.Pow(x) },
	"==": func(x mir.Binary) mir.Instr { return mir.Eq(x) },
	"!=": func(x mir.Binary) mir.Instr { return mir.Ne(x) },
	"<":  func(x mir.Binary) mir.Instr { return mir.Lt(x) },
	"<=": func(x mir.Binary) mir.Instr { return mir.Le(x) },
	">":  func(x mir.Binary) mir.Instr { return mir.Gt(x) },
	">=": func(x mir.Binary) mir.Instr { return mir.Ge(x) },
	"&":  func(x mir.Binary) mir.Instr { return mir.BitAnd(x) },
	"|":  func(x mir.Binary) mir.Instr { return mir.BitOr(x) },
	"^":  func(x mir.Binary) mir.Instr { return mir.BitXor(x) },
	"<<": func(x mir.Binary) mir.Instr { return mir.Shl(x) },
	">>": func(x mir.Binary) mir.Instr { return mir.Shr(x) },
	"=~": func(x mir.Binary) mir.Instr { return mir.RegexMatch{Dest: x.Dest, L: x.L, R: x.R} },
	"!~": func(x mir.Binary) mir.Instr { return mir.RegexMatch{Dest: x.Dest, L: x.L, R: x.R, Negate: true} },
}

// Program lowers root and drops diagnostics.
func Program(ctx context.Context, root ast.Node) *mir.Program {
	var l Lowerer

	return l.Program(ctx, root)
}

func (l *Lowerer) Program(ctx context.Context, root ast.Node) (p *mir.Program) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "lower: program")
	defer func() {
		tr.Finish("funcs", p.Order, "diags", len(l.Diags))
	}()

	p = mir.NewProgram()

	pc := &pkgContext{
		Program: p,
		l:       l,
	}

	main := mir.NewFunc(mir.MainFunc, nil)
	p.Add(main)

	s := funcScope(pc, main)

	var stmts []ast.Node

	switch x := root.(type) {
	case *ast.Program:
		stmts = x.Stmts
	case *ast.StatementList:
		stmts = x.Stmts
	case nil:
	default:
		stmts = []ast.Node{x}
	}

	l.lowerBody(ctx, s, main.Block(main.Entry), stmts)

	if tr.If("dump_mir") {
		for _, name := range p.Order {
			f := p.Funcs[name]

			for _, b := range f.Blocks {
				for i, x := range b.Code {
					tr.Printw("mir", "func", name, "block", b.ID, "i", i, "typ", tlog.NextAsType, x, "val", x)
				}
			}
		}
	}

	return p
}

// lowerBody lowers a function or closure body and makes sure b ends with a return.
func (l *Lowerer) lowerBody(ctx context.Context, s *Scope, b *mir.Block, stmts []ast.Node) {
	last := l.lowerStmts(ctx, s, b, stmts)

	if b.Terminated() {
		return
	}

	b.Append(s.ret(val(last)))
}

// lowerStmts lowers statements into b until one of them terminates it.
func (l *Lowerer) lowerStmts(ctx context.Context, s *Scope, b *mir.Block, stmts []ast.Node) (last mir.Reg) {
	last = mir.NoReg

	for _, x := range stmts {
		last = l.lowerNode(ctx, s, b, x)

		if b.Terminated() {
			break
		}
	}

	return last
}

func (l *Lowerer) lowerNode(ctx context.Context, s *Scope, b *mir.Block, x ast.Node) (r mir.Reg) {
	if tlog.If("lower_node") {
		defer func() {
			tlog.Printw("lower node", "typ", tlog.NextAsType, x, "func", s.Func.Name, "block", b.ID, "reg", r, "from", loc.Callers(1, 2))
		}()
	}

	switch x := x.(type) {
	case nil:
		return mir.NoReg
	case *ast.Program:
		return l.lowerStmts(ctx, s, b, x.Stmts)
	case *ast.StatementList:
		return l.lowerStmts(ctx, s, b, x.Stmts)
	case *ast.NumberLiteral:
		return s.load(b, l.number(ctx, x))
	case *ast.StringLiteral:
		return s.load(b, mir.Str(x.Value))
	case *ast.Word:
		if r, ok := s.lookup(x.Name); ok {
			return r
		}

		return s.load(b, mir.Str(x.Name))
	case *ast.Assign:
		r = l.lowerNode(ctx, s, b, x.Value)
		if r == mir.NoReg {
			r = s.load(b, mir.Null())
		}

		s.bind(x.Name, r)

		return r
	case *ast.FunctionDecl:
		l.lowerFunc(ctx, s, x)

		return mir.NoReg
	case *ast.FunctionCall:
		return l.lowerCall(ctx, s, b, x)
	case *ast.Closure:
		return l.lowerClosure(ctx, s, b, x)
	case *ast.Binary:
		return l.lowerBinary(ctx, s, b, x)
	case *ast.Match:
		return l.lowerMatch(ctx, s, b, x)
	case *ast.Try:
		return l.lowerTry(ctx, s, b, x)
	case *ast.Return:
		v := val(l.lowerNode(ctx, s, b, x.Value))

		b.Append(s.ret(v))

		return mir.NoReg
	case *ast.Throw:
		v := val(l.lowerNode(ctx, s, b, x.Value))

		b.Append(mir.Throw{Value: v})

		return mir.NoReg
	case *ast.Command:
		return l.lowerCommand(ctx, s, b, x)
	case *ast.MacroInvocation:
		return l.lowerExec(ctx, s, b, x.Name, nil, x.Args)
	default:
		l.warn(ctx, x, "unsupported node: %T", x)

		return s.load(b, mir.Null())
	}
}

func (l *Lowerer) number(ctx context.Context, x *ast.NumberLiteral) mir.Value {
	if v, err := strconv.ParseInt(x.Text, 10, 64); err == nil {
		return mir.Int(v)
	}

	if v, err := strconv.ParseInt(x.Text, 0, 64); err == nil {
		return mir.Int(v)
	}

	if v, err := strconv.ParseFloat(x.Text, 64); err == nil {
		return mir.Float(v)
	}

	l.warn(ctx, x, "bad number literal: %q", x.Text)

	return mir.Null()
}

// lowerFunc adds a new function to the program. Its body sees none of the enclosing names.
func (l *Lowerer) lowerFunc(ctx context.Context, par *Scope, x *ast.FunctionDecl) {
	if x.Name == mir.MainFunc || x.Name == "" {
		l.warn(ctx, x, "can't declare function %q", x.Name)
		return
	}

	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "lower: func", "name", x.Name, "params", x.Params)
	defer tr.Finish()

	f := mir.NewFunc(x.Name, x.Params)

	s := funcScope(par.pkgContext, f)

	for i, name := range x.Params {
		s.bind(name, f.ParamRegs[i])
	}

	l.lowerBody(ctx, s, f.Block(f.Entry), bodyStmts(x.Body))

	par.Add(f)
}

func (l *Lowerer) lowerCall(ctx context.Context, s *Scope, b *mir.Block, x *ast.FunctionCall) mir.Reg {
	var call mir.Instr

	if w, ok := x.Callee.(*ast.Word); ok {
		if r, ok := s.lookup(w.Name); ok {
			call = mir.ClosureCall{Closure: r}
		} else {
			call = mir.Call{Func: w.Name}
		}
	} else {
		r := l.lowerNode(ctx, s, b, x.Callee)
		if r == mir.NoReg {
			l.warn(ctx, x, "callee produces no value: %T", x.Callee)

			return s.load(b, mir.Null())
		}

		call = mir.ClosureCall{Closure: r}
	}

	args := l.lowerArgs(ctx, s, b, x.Args)
	dst := s.NewReg()

	switch c := call.(type) {
	case mir.Call:
		c.Dest = dst
		c.Args = args
		call = c
	case mir.ClosureCall:
		c.Dest = dst
		c.Args = args
		call = c
	}

	b.Append(call)

	return dst
}

func (l *Lowerer) lowerArgs(ctx context.Context, s *Scope, b *mir.Block, xs []ast.Node) []mir.Value {
	if len(xs) == 0 {
		return nil
	}

	args := make([]mir.Value, len(xs))

	for i, a := range xs {
		args[i] = val(l.lowerNode(ctx, s, b, a))
	}

	return args
}

// lowerClosure lowers the body into a new block of the current function
// and emits ClosureCreate into b.
func (l *Lowerer) lowerClosure(ctx context.Context, s *Scope, b *mir.Block, x *ast.Closure) mir.Reg {
	body := s.NewBlock()

	cs := s.closureScope()
	c := cs.closure

	params := make([]mir.Reg, len(x.Params))

	for i, name := range x.Params {
		params[i] = cs.NewReg()
		cs.bind(name, params[i])
	}

	for _, name := range x.Captures {
		v := mir.Str(name)

		if r, ok := s.lookup(name); ok {
			v = mir.RegRef(r)
		} else {
			l.warn(ctx, x, "captured name is not bound, capturing it as a word: %v", name)
		}

		c.capture(cs, name, v)
	}

	l.lowerBody(ctx, cs, body, bodyStmts(x.Body))

	dst := s.NewReg()

	b.Append(mir.ClosureCreate{
		Dest:       dst,
		Block:      body.ID,
		Captures:   c.captures,
		Params:     params,
		ParamNames: x.Params,
	})

	tlog.V("closure").Printw("closure", "func", s.Func.Name, "block", body.ID, "captures", len(c.captures), "reg", dst)

	return dst
}

func (l *Lowerer) lowerBinary(ctx context.Context, s *Scope, b *mir.Block, x *ast.Binary) mir.Reg {
	left := l.lowerNode(ctx, s, b, x.Left)

	switch x.Op {
	case "&&", "and":
		return l.lowerShortCircuit(ctx, s, b, x, left, false)
	case "||", "or":
		return l.lowerShortCircuit(ctx, s, b, x, left, true)
	}

	op, ok := binops[x.Op]
	if !ok {
		l.warn(ctx, x, "unsupported operator: %q", x.Op)

		return s.load(b, mir.Null())
	}

	right := l.lowerNode(ctx, s, b, x.Right)
	dst := s.NewReg()

	b.Append(op(mir.Binary{
		Dest: dst,
		L:    val(left),
		R:    val(right),
	}))

	return dst
}

// lowerShortCircuit emits AndSC/OrSC followed by the right operand code.
// Skip is patched to the exact number of instructions the right operand took,
// the trailing Move included.
func (l *Lowerer) lowerShortCircuit(ctx context.Context, s *Scope, b *mir.Block, x *ast.Binary, left mir.Reg, or bool) mir.Reg {
	dst := s.NewReg()

	sc := mir.ShortCircuit{
		Dest:  dst,
		Left:  val(left),
		Right: mir.Null(),
	}

	i := b.Append(patchSC(sc, or))
	pre := b.Len()

	// assignments in the right operand are not visible after it:
	// its code may never run.
	rs := s.branch()

	right := l.lowerNode(ctx, rs, b, x.Right)
	if right != mir.NoReg {
		b.Append(mir.Move{Dest: dst, Src: right})

		sc.Right = mir.RegRef(right)
	}

	post := b.Len()
	sc.Skip = post - pre

	b.Code[i] = patchSC(sc, or)

	tlog.V("short_circuit").Printw("short circuit", "or", or, "block", b.ID, "at", i, "skip", sc.Skip, "dst", dst)

	return dst
}

func patchSC(sc mir.ShortCircuit, or bool) mir.Instr {
	if or {
		return mir.OrSC(sc)
	}

	return mir.AndSC(sc)
}

func (l *Lowerer) lowerCommand(ctx context.Context, s *Scope, b *mir.Block, x *ast.Command) mir.Reg {
	name := x.Name
	var words []string

	if x.Line != "" {
		var err error

		words, err = shlex.Split(x.Line, true)
		if err != nil || len(words) == 0 {
			l.warn(ctx, x, "bad command line %q: %v", x.Line, err)

			return s.load(b, mir.Null())
		}

		if name == "" {
			name, words = words[0], words[1:]
		}
	}

	return l.lowerExec(ctx, s, b, name, words, x.Args)
}

func (l *Lowerer) lowerExec(ctx context.Context, s *Scope, b *mir.Block, name string, words []string, xs []ast.Node) mir.Reg {
	var args []mir.Value

	for _, w := range words {
		args = append(args, mir.Str(w))
	}

	args = append(args, l.lowerArgs(ctx, s, b, xs)...)

	dst := s.NewReg()

	b.Append(mir.ExecuteCommand{
		Dest: dst,
		Name: name,
		Args: args,
	})

	return dst
}

func (s *Scope) load(b *mir.Block, v mir.Value) mir.Reg {
	r := s.NewReg()

	b.Append(mir.LoadImmediate{
		Dest:  r,
		Value: v,
	})

	return r
}

func (s *Scope) ret(v mir.Value) mir.Instr {
	if s.closure != nil {
		return mir.ClosureReturn{Value: v}
	}

	return mir.Return{Value: v}
}

func (l *Lowerer) warn(ctx context.Context, x ast.Node, format string, args ...any) {
	d := Diagnostic{
		Msg:  fmt.Sprintf(format, args...),
		From: loc.Caller(1),
	}

	d.Line, d.Col = ast.Position(x)

	l.Diags = append(l.Diags, d)

	tlog.SpanFromContext(ctx).Printw("lowering degraded to null", "msg", d.Msg, "line", d.Line, "col", d.Col, "from", d.From)

	if l.OnDiag != nil {
		l.OnDiag(d)
	}
}

func (d Diagnostic) String() string {
	if d.Line == 0 {
		return d.Msg
	}

	return fmt.Sprintf("%d:%d: %s", d.Line, d.Col, d.Msg)
}

func val(r mir.Reg) mir.Value {
	if r == mir.NoReg {
		return mir.Null()
	}

	return mir.RegRef(r)
}

func bodyStmts(x ast.Node) []ast.Node {
	switch x := x.(type) {
	case nil:
		return nil
	case *ast.StatementList:
		return x.Stmts
	case *ast.Program:
		return x.Stmts
	default:
		return []ast.Node{x}
	}
}
