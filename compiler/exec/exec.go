package exec

import (
	"context"
	"regexp"

	"github.com/go-playground/validator/v10"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/mirsh/compiler/mir"
)

type (
	// CommandRunner runs external commands for ExecuteCommand.
	CommandRunner interface {
		RunCommand(ctx context.Context, name string, args []string) (mir.Value, error)
	}

	CommandRunnerFunc func(ctx context.Context, name string, args []string) (mir.Value, error)

	Config struct {
		// MaxDepth bounds calls and nested blocks entered at once.
		MaxDepth int `yaml:"max_depth" validate:"min=1,max=65536"`

		Runner CommandRunner `yaml:"-" validate:"-"`
	}

	// Executor runs programs. Each Main call has its own state,
	// so one Executor may run any number of programs concurrently.
	Executor struct {
		cfg Config
	}

	machine struct {
		*Executor

		p *mir.Program

		depth int
		regex map[string]*regexp.Regexp

		trace bool
	}

	frame struct {
		f    *mir.Func
		regs []mir.Value
	}

	exit int
)

const (
	exitNone exit = iota
	exitYield
	exitReturn
)

const (
	DefaultMaxDepth = 4096

	// MaxDepthLimit is the largest MaxDepth the interpreter can reach
	// within the goroutine stack limit.
	MaxDepthLimit = 1 << 16
)

var validate = validator.New()

func DefaultConfig() Config {
	return Config{
		MaxDepth: DefaultMaxDepth,
	}
}

func New(cfg Config) (*Executor, error) {
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}

	err := validate.Struct(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "executor config")
	}

	return &Executor{cfg: cfg}, nil
}

// Main runs p with the default config.
func Main(ctx context.Context, p *mir.Program) (mir.Value, error) {
	e := &Executor{cfg: DefaultConfig()}

	return e.Main(ctx, p)
}

// Main runs the main function of p and returns what it returned.
func (e *Executor) Main(ctx context.Context, p *mir.Program) (res mir.Value, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "exec: main", "funcs", len(p.Order))
	defer tr.Finish("res", &res, "err", &err)

	m := &machine{
		Executor: e,
		p:        p,
		regex:    make(map[string]*regexp.Regexp),
		trace:    tr.If("exec_trace"),
	}

	return m.call(ctx, mir.MainFunc, nil)
}

func (m *machine) call(ctx context.Context, name string, args []mir.Value) (mir.Value, error) {
	f, ok := m.p.Func(name)
	if !ok {
		return mir.Value{}, newError(UndefinedFunction, "%v", name)
	}

	if m.depth >= m.cfg.MaxDepth {
		return mir.Value{}, newError(StackOverflow, "call depth %d calling %v", m.depth, name)
	}

	m.depth++
	defer func() {
		m.depth--
	}()

	tlog.SpanFromContext(ctx).V("exec_call").Printw("call", "func", name, "args", args, "depth", m.depth)

	fr := newFrame(f)

	for i, r := range f.ParamRegs {
		err := fr.set(r, arg(args, i))
		if err != nil {
			return mir.Value{}, err
		}
	}

	v, _, err := m.runBlock(ctx, fr, f.Entry)

	return v, err
}

func (m *machine) callClosure(ctx context.Context, c *mir.Closure, args []mir.Value) (mir.Value, error) {
	f, ok := m.p.Func(c.Func)
	if !ok {
		return mir.Value{}, newError(UndefinedFunction, "closure function %v", c.Func)
	}

	if m.depth >= m.cfg.MaxDepth {
		return mir.Value{}, newError(StackOverflow, "call depth %d calling closure %v.b%d", m.depth, c.Func, c.Block)
	}

	m.depth++
	defer func() {
		m.depth--
	}()

	tlog.SpanFromContext(ctx).V("exec_call").Printw("call closure", "func", c.Func, "block", c.Block, "args", args, "depth", m.depth)

	fr := newFrame(f)

	for _, cp := range c.Captures {
		err := fr.set(cp.Reg, cp.Value)
		if err != nil {
			return mir.Value{}, err
		}
	}

	for i, r := range c.Params {
		err := fr.set(r, arg(args, i))
		if err != nil {
			return mir.Value{}, err
		}
	}

	v, _, err := m.runBlock(ctx, fr, c.Block)

	return v, err
}

// runBlock runs block id in fr until a terminator.
func (m *machine) runBlock(ctx context.Context, fr *frame, id mir.BlockID) (v mir.Value, ex exit, err error) {
	b := fr.f.Block(id)
	if b == nil {
		return mir.Value{}, exitNone, newError(InvalidBlockReference, "%v has no block %d", fr.f.Name, id)
	}

	for ip := 0; ip < len(b.Code); ip++ {
		x := b.Code[ip]

		if m.trace {
			tlog.SpanFromContext(ctx).Printw("instr", "func", fr.f.Name, "block", id, "ip", ip, "typ", tlog.NextAsType, x, "val", x)
		}

		var skip int

		v, ex, skip, err = m.instr(ctx, fr, x)
		if err != nil {
			return mir.Value{}, exitNone, locate(err, fr, id, ip)
		}

		if ex != exitNone {
			return v, ex, nil
		}

		ip += skip
	}

	return mir.Value{}, exitNone, locate(newError(InvalidBlockReference, "block is not terminated"), fr, id, len(b.Code))
}

func (m *machine) instr(ctx context.Context, fr *frame, x mir.Instr) (v mir.Value, ex exit, skip int, err error) {
	switch x := x.(type) {
	case mir.LoadImmediate:
		v, err = fr.get(x.Value)
		if err != nil {
			return
		}

		return v, exitNone, 0, fr.set(x.Dest, v)
	case mir.Move:
		v, err = fr.get(mir.RegRef(x.Src))
		if err != nil {
			return
		}

		return v, exitNone, 0, fr.set(x.Dest, v)
	case mir.Add, mir.Sub, mir.Mul, mir.Div, mir.Mod, mir.Pow,
		mir.Eq, mir.Ne, mir.Lt, mir.Le, mir.Gt, mir.Ge,
		mir.BitAnd, mir.BitOr, mir.BitXor, mir.Shl, mir.Shr:
		return m.binary(fr, x)
	case mir.RegexMatch:
		var l, r mir.Value

		l, r, err = fr.get2(x.L, x.R)
		if err != nil {
			return
		}

		var ok bool

		ok, err = m.match(l, r)
		if err != nil {
			return
		}

		return v, exitNone, 0, fr.set(x.Dest, mir.Bool(ok != x.Negate))
	case mir.AndSC:
		return m.shortCircuit(fr, mir.ShortCircuit(x), false)
	case mir.OrSC:
		return m.shortCircuit(fr, mir.ShortCircuit(x), true)
	case mir.Call:
		var args []mir.Value

		args, err = fr.getAll(x.Args)
		if err != nil {
			return
		}

		v, err = m.call(ctx, x.Func, args)
		if err != nil {
			return
		}

		return v, exitNone, 0, fr.set(x.Dest, v)
	case mir.ClosureCreate:
		c := &mir.Closure{
			Func:     fr.f.Name,
			Block:    x.Block,
			Params:   x.Params,
			Captures: make([]mir.Capture, len(x.Captures)),
		}

		for i, cp := range x.Captures {
			c.Captures[i].Reg = cp.Reg

			c.Captures[i].Value, err = fr.get(cp.Value)
			if err != nil {
				return
			}
		}

		return v, exitNone, 0, fr.set(x.Dest, mir.ClosureVal(c))
	case mir.ClosureCall:
		v, err = m.closureCall(ctx, fr, x)
		if err != nil {
			return
		}

		return v, exitNone, 0, fr.set(x.Dest, v)
	case mir.ExecuteCommand:
		v, err = m.command(ctx, fr, x)
		if err != nil {
			return
		}

		return v, exitNone, 0, fr.set(x.Dest, v)
	case mir.MatchDispatch:
		return m.matchDispatch(ctx, fr, x)
	case mir.Try:
		return m.try(ctx, fr, x)
	case mir.Return:
		v, err = fr.get(x.Value)
		return v, exitReturn, 0, err
	case mir.ClosureReturn:
		v, err = fr.get(x.Value)
		return v, exitReturn, 0, err
	case mir.Yield:
		v, err = fr.get(x.Value)
		return v, exitYield, 0, err
	case mir.Throw:
		v, err = fr.get(x.Value)
		if err != nil {
			return
		}

		return mir.Value{}, exitNone, 0, &Error{Kind: Thrown, Msg: v.Text(), Value: v, Block: mir.NoBlock}
	default:
		return mir.Value{}, exitNone, 0, newError(InvalidBlockReference, "unknown instruction %T", x)
	}
}

func (m *machine) shortCircuit(fr *frame, x mir.ShortCircuit, or bool) (v mir.Value, ex exit, skip int, err error) {
	l, err := fr.get(x.Left)
	if err != nil {
		return
	}

	if l.Truthy() == or {
		return v, exitNone, x.Skip, fr.set(x.Dest, mir.Bool(or))
	}

	// right operand produced no register: nothing will Move to Dest
	if !x.Right.IsReg() {
		return v, exitNone, 0, fr.set(x.Dest, mir.Null())
	}

	return v, exitNone, 0, nil
}

func (m *machine) closureCall(ctx context.Context, fr *frame, x mir.ClosureCall) (mir.Value, error) {
	c, ok := fr.lookup(x.Closure)
	if !ok {
		return mir.Value{}, newError(UndefinedVariable, "call through unset register %v", x.Closure)
	}

	args, err := fr.getAll(x.Args)
	if err != nil {
		return mir.Value{}, err
	}

	switch c.Kind {
	case mir.KindClosure:
		return m.callClosure(ctx, c.C, args)
	case mir.KindString:
		return m.call(ctx, c.S, args)
	}

	return mir.Value{}, newError(TypeMismatch, "%v is not callable: %v", c.Kind, c)
}

func (m *machine) command(ctx context.Context, fr *frame, x mir.ExecuteCommand) (mir.Value, error) {
	if m.cfg.Runner == nil {
		return mir.Value{}, newError(UndefinedFunction, "command %v: no command runner", x.Name)
	}

	vals, err := fr.getAll(x.Args)
	if err != nil {
		return mir.Value{}, err
	}

	args := make([]string, len(vals))

	for i, v := range vals {
		args[i] = v.Text()
	}

	tlog.SpanFromContext(ctx).V("exec_command").Printw("command", "name", x.Name, "args", args)

	v, err := m.cfg.Runner.RunCommand(ctx, x.Name, args)
	if err != nil {
		e := newError(CommandFailed, "%v", x.Name)
		e.Err = err

		return mir.Value{}, e
	}

	if !v.Valid() {
		v = mir.Null()
	}

	return v, nil
}

func (m *machine) matchDispatch(ctx context.Context, fr *frame, x mir.MatchDispatch) (v mir.Value, ex exit, skip int, err error) {
	scr, err := fr.get(x.Scrutinee)
	if err != nil {
		return
	}

	blk := x.Default

	for _, arm := range x.Arms {
		var pat mir.Value

		pat, err = fr.get(arm.Pattern)
		if err != nil {
			return
		}

		if equal(scr, pat) {
			blk = arm.Block
			break
		}
	}

	if blk == mir.NoBlock {
		return v, exitNone, 0, fr.set(x.Dest, mir.Null())
	}

	v, ex, err = m.nested(ctx, fr, blk)
	if err != nil || ex == exitReturn {
		return
	}

	return v, exitNone, 0, fr.set(x.Dest, v)
}

func (m *machine) try(ctx context.Context, fr *frame, x mir.Try) (v mir.Value, ex exit, skip int, err error) {
	v, ex, err = m.nested(ctx, fr, x.Body)

	if err != nil && x.Catch != mir.NoBlock {
		if caught, ok := catchable(err); ok {
			tlog.SpanFromContext(ctx).V("exec_try").Printw("caught", "err", err, "value", caught)

			err = fr.set(x.CatchReg, caught)
			if err == nil {
				v, ex, err = m.nested(ctx, fr, x.Catch)
			}
		}
	}

	if x.Finally != mir.NoBlock {
		fv, fex, ferr := m.nested(ctx, fr, x.Finally)
		if ferr != nil {
			return mir.Value{}, exitNone, 0, ferr
		}

		if fex == exitReturn {
			return fv, exitReturn, 0, nil
		}
	}

	if err != nil || ex == exitReturn {
		return
	}

	return v, exitNone, 0, fr.set(x.Dest, v)
}

// nested runs a match arm or try section in fr.
// It takes a level of depth like a call does.
func (m *machine) nested(ctx context.Context, fr *frame, id mir.BlockID) (mir.Value, exit, error) {
	if m.depth >= m.cfg.MaxDepth {
		return mir.Value{}, exitNone, newError(StackOverflow, "depth %d entering %v.b%d", m.depth, fr.f.Name, id)
	}

	m.depth++
	defer func() {
		m.depth--
	}()

	return m.runBlock(ctx, fr, id)
}

// catchable returns the value a catch clause receives for err.
func catchable(err error) (mir.Value, bool) {
	e, ok := err.(*Error)
	if !ok || e.Kind == StackOverflow {
		return mir.Value{}, false
	}

	if e.Kind == Thrown {
		return e.Value, true
	}

	return mir.Str(e.Error()), true
}

func locate(err error, fr *frame, id mir.BlockID, ip int) error {
	e, ok := err.(*Error)
	if !ok || e.located() {
		return err
	}

	e.Func = fr.f.Name
	e.Block = id
	e.Instr = ip

	return e
}

func newFrame(f *mir.Func) *frame {
	return &frame{
		f:    f,
		regs: make([]mir.Value, f.NumRegs),
	}
}

func (fr *frame) get(v mir.Value) (mir.Value, error) {
	if !v.IsReg() {
		return v, nil
	}

	x, ok := fr.lookup(v.Reg())
	if !ok {
		return mir.Value{}, newError(InvalidRegisterReference, "read of unset register %v", v.Reg())
	}

	return x, nil
}

func (fr *frame) get2(l, r mir.Value) (lv, rv mir.Value, err error) {
	lv, err = fr.get(l)
	if err != nil {
		return
	}

	rv, err = fr.get(r)

	return
}

func (fr *frame) getAll(vs []mir.Value) ([]mir.Value, error) {
	if len(vs) == 0 {
		return nil, nil
	}

	res := make([]mir.Value, len(vs))

	for i, v := range vs {
		x, err := fr.get(v)
		if err != nil {
			return nil, err
		}

		res[i] = x
	}

	return res, nil
}

func (fr *frame) lookup(r mir.Reg) (mir.Value, bool) {
	if r < 0 || int(r) >= len(fr.regs) || !fr.regs[r].Valid() {
		return mir.Value{}, false
	}

	return fr.regs[r], true
}

func (fr *frame) set(r mir.Reg, v mir.Value) error {
	if r < 0 || int(r) >= len(fr.regs) {
		return newError(InvalidRegisterReference, "write to %v: %v has %d registers", r, fr.f.Name, len(fr.regs))
	}

	fr.regs[r] = v

	return nil
}

func arg(args []mir.Value, i int) mir.Value {
	if i < len(args) {
		return args[i]
	}

	return mir.Null()
}

func (f CommandRunnerFunc) RunCommand(ctx context.Context, name string, args []string) (mir.Value, error) {
	return f(ctx, name, args)
}
