package mir

type (
	Reg     int
	BlockID int

	Program struct {
		Funcs map[string]*Func
		Order []string
	}

	Func struct {
		Name string

		Params    []string
		ParamRegs []Reg

		Blocks []*Block
		Entry  BlockID

		NumRegs int
	}

	Block struct {
		ID   BlockID
		Code []Instr
	}

	Instr any

	Binary struct {
		Dest Reg
		L, R Value
	}

	Add    Binary
	Sub    Binary
	Mul    Binary
	Div    Binary
	Mod    Binary
	Pow    Binary
	Eq     Binary
	Ne     Binary
	Lt     Binary
	Le     Binary
	Gt     Binary
	Ge     Binary
	BitAnd Binary
	BitOr  Binary
	BitXor Binary
	Shl    Binary
	Shr    Binary

	RegexMatch struct {
		Dest   Reg
		L, R   Value
		Negate bool
	}

	LoadImmediate struct {
		Dest  Reg
		Value Value
	}

	Move struct {
		Dest Reg
		Src  Reg
	}

	// AndSC and OrSC evaluate Left and either write the short-circuit
	// result to Dest and skip the next Skip instructions,
	// or fall through into the right operand code which ends with Move to Dest.
	AndSC ShortCircuit
	OrSC  ShortCircuit

	ShortCircuit struct {
		Dest  Reg
		Left  Value
		Right Value
		Skip  int
	}

	Call struct {
		Dest Reg
		Func string
		Args []Value
	}

	ClosureCreate struct {
		Dest       Reg
		Block      BlockID
		Captures   []Capture
		Params     []Reg
		ParamNames []string
	}

	ClosureCall struct {
		Dest    Reg
		Closure Reg
		Args    []Value
	}

	Capture struct {
		Value Value
		Reg   Reg
	}

	ExecuteCommand struct {
		Dest Reg
		Name string
		Args []Value
	}

	MatchDispatch struct {
		Dest      Reg
		Scrutinee Value
		Arms      []MatchArm
		Default   BlockID
	}

	MatchArm struct {
		Pattern Value
		Block   BlockID
	}

	Try struct {
		Dest     Reg
		Body     BlockID
		Catch    BlockID
		CatchReg Reg
		Finally  BlockID
	}

	Return struct {
		Value Value
	}

	ClosureReturn struct {
		Value Value
	}

	// Yield ends a nested block (match arm, try section)
	// and hands its value back to the instruction that entered it.
	Yield struct {
		Value Value
	}

	Throw struct {
		Value Value
	}
)

const (
	NoReg   Reg     = -1
	NoBlock BlockID = -1
)

const MainFunc = "main"

func NewProgram() *Program {
	return &Program{
		Funcs: make(map[string]*Func),
	}
}

// Add inserts f. Redeclaring a name replaces the function but keeps its original position.
func (p *Program) Add(f *Func) {
	if _, ok := p.Funcs[f.Name]; !ok {
		p.Order = append(p.Order, f.Name)
	}

	p.Funcs[f.Name] = f
}

func (p *Program) Func(name string) (*Func, bool) {
	f, ok := p.Funcs[name]
	return f, ok
}

func (p *Program) Main() *Func {
	return p.Funcs[MainFunc]
}

func NewFunc(name string, params []string) *Func {
	f := &Func{
		Name:   name,
		Params: params,
	}

	f.Entry = f.NewBlock().ID

	for range params {
		f.ParamRegs = append(f.ParamRegs, f.NewReg())
	}

	return f
}

func (f *Func) NewReg() Reg {
	r := Reg(f.NumRegs)
	f.NumRegs++

	return r
}

func (f *Func) NewBlock() *Block {
	b := &Block{ID: BlockID(len(f.Blocks))}
	f.Blocks = append(f.Blocks, b)

	return b
}

func (f *Func) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(f.Blocks) {
		return nil
	}

	return f.Blocks[id]
}

func (b *Block) Append(x Instr) int {
	b.Code = append(b.Code, x)
	return len(b.Code) - 1
}

func (b *Block) Len() int { return len(b.Code) }

func (b *Block) Terminated() bool {
	if len(b.Code) == 0 {
		return false
	}

	return IsTerminator(b.Code[len(b.Code)-1])
}

func IsTerminator(x Instr) bool {
	switch x.(type) {
	case Return, ClosureReturn, Yield, Throw:
		return true
	}

	return false
}

// Operands returns the register x writes (NoReg if none) and the values it reads.
// Nested block references and closure-local registers are not included.
func Operands(x Instr) (out Reg, in []Value) {
	switch x := x.(type) {
	case Add:
		return x.Dest, []Value{x.L, x.R}
	case Sub:
		return x.Dest, []Value{x.L, x.R}
	case Mul:
		return x.Dest, []Value{x.L, x.R}
	case Div:
		return x.Dest, []Value{x.L, x.R}
	case Mod:
		return x.Dest, []Value{x.L, x.R}
	case Pow:
		return x.Dest, []Value{x.L, x.R}
	case Eq:
		return x.Dest, []Value{x.L, x.R}
	case Ne:
		return x.Dest, []Value{x.L, x.R}
	case Lt:
		return x.Dest, []Value{x.L, x.R}
	case Le:
		return x.Dest, []Value{x.L, x.R}
	case Gt:
		return x.Dest, []Value{x.L, x.R}
	case Ge:
		return x.Dest, []Value{x.L, x.R}
	case BitAnd:
		return x.Dest, []Value{x.L, x.R}
	case BitOr:
		return x.Dest, []Value{x.L, x.R}
	case BitXor:
		return x.Dest, []Value{x.L, x.R}
	case Shl:
		return x.Dest, []Value{x.L, x.R}
	case Shr:
		return x.Dest, []Value{x.L, x.R}
	case RegexMatch:
		return x.Dest, []Value{x.L, x.R}
	case LoadImmediate:
		return x.Dest, []Value{x.Value}
	case Move:
		return x.Dest, []Value{RegRef(x.Src)}
	case AndSC:
		return x.Dest, []Value{x.Left}
	case OrSC:
		return x.Dest, []Value{x.Left}
	case Call:
		return x.Dest, x.Args
	case ClosureCreate:
		in = make([]Value, len(x.Captures))
		for i, c := range x.Captures {
			in[i] = c.Value
		}

		return x.Dest, in
	case ClosureCall:
		return x.Dest, append([]Value{RegRef(x.Closure)}, x.Args...)
	case ExecuteCommand:
		return x.Dest, x.Args
	case MatchDispatch:
		in = []Value{x.Scrutinee}
		for _, a := range x.Arms {
			in = append(in, a.Pattern)
		}

		return x.Dest, in
	case Try:
		return x.Dest, nil
	case Return:
		return NoReg, []Value{x.Value}
	case ClosureReturn:
		return NoReg, []Value{x.Value}
	case Yield:
		return NoReg, []Value{x.Value}
	case Throw:
		return NoReg, []Value{x.Value}
	}

	return NoReg, nil
}
