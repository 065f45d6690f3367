package mir

import (
	"fmt"
	"math"
	"strconv"

	"tlog.app/go/tlog/tlwire"
)

type (
	Kind uint8

	// Value is immutable once written to a register.
	// Zero Value is the unset register content, not Null.
	Value struct {
		Kind Kind

		I int64
		F float64
		S string
		C *Closure
	}

	Closure struct {
		Func  string
		Block BlockID

		Params   []Reg
		Captures []Capture
	}
)

const (
	KindInvalid Kind = iota
	KindNull
	KindInt
	KindFloat
	KindString
	KindBool
	KindReg
	KindClosure
)

func Null() Value                 { return Value{Kind: KindNull} }
func Int(v int64) Value           { return Value{Kind: KindInt, I: v} }
func Float(v float64) Value       { return Value{Kind: KindFloat, F: v} }
func Str(v string) Value          { return Value{Kind: KindString, S: v} }
func RegRef(r Reg) Value          { return Value{Kind: KindReg, I: int64(r)} }
func ClosureVal(c *Closure) Value { return Value{Kind: KindClosure, C: c} }

func Bool(v bool) Value {
	x := Value{Kind: KindBool}
	if v {
		x.I = 1
	}

	return x
}

func (v Value) Valid() bool  { return v.Kind != KindInvalid }
func (v Value) IsNull() bool { return v.Kind == KindNull }
func (v Value) IsReg() bool  { return v.Kind == KindReg }

func (v Value) Reg() Reg { return Reg(v.I) }

func (v Value) AsBool() bool { return v.I != 0 }

func (v Value) Truthy() bool {
	switch v.Kind {
	case KindInt, KindBool:
		return v.I != 0
	case KindFloat:
		return v.F != 0 && !math.IsNaN(v.F)
	case KindString:
		return v.S != ""
	case KindClosure:
		return true
	default:
		return false
	}
}

// Text is the value as a command argument or regex operand sees it.
func (v Value) Text() string {
	switch v.Kind {
	case KindString:
		return v.S
	case KindNull, KindInvalid:
		return ""
	default:
		return v.String()
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindInt:
		return strconv.FormatInt(v.I, 10)
	case KindFloat:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.S)
	case KindBool:
		return strconv.FormatBool(v.AsBool())
	case KindReg:
		return fmt.Sprintf("%%%d", v.I)
	case KindClosure:
		return fmt.Sprintf("closure(%s.b%d)", v.C.Func, v.C.Block)
	default:
		return "<unset>"
	}
}

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindReg:
		return "reg"
	case KindClosure:
		return "closure"
	default:
		return "unset"
	}
}

func (r Reg) String() string {
	return fmt.Sprintf("%%%d", int(r))
}

func (v Value) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if v.Kind == KindInvalid {
		return e.AppendNil(b)
	}

	return e.AppendFormat(b, "%v", v)
}

func (r Reg) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if r == NoReg {
		return e.AppendNil(b)
	}

	return e.AppendFormat(b, "%%%d", int(r))
}
