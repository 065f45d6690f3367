package exec

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/slowlang/mirsh/compiler/mir"
)

func (m *machine) binary(fr *frame, x mir.Instr) (v mir.Value, ex exit, skip int, err error) {
	var b mir.Binary
	var op string

	switch x := x.(type) {
	case mir.Add:
		b, op = mir.Binary(x), "+"
	case mir.Sub:
		b, op = mir.Binary(x), "-"
	case mir.Mul:
		b, op = mir.Binary(x), "*"
	case mir.Div:
		b, op = mir.Binary(x), "/"
	case mir.Mod:
		b, op = mir.Binary(x), "%"
	case mir.Pow:
		b, op = mir.Binary(x), "**"
	case mir.Eq:
		b, op = mir.Binary(x), "=="
	case mir.Ne:
		b, op = mir.Binary(x), "!="
	case mir.Lt:
		b, op = mir.Binary(x), "<"
	case mir.Le:
		b, op = mir.Binary(x), "<="
	case mir.Gt:
		b, op = mir.Binary(x), ">"
	case mir.Ge:
		b, op = mir.Binary(x), ">="
	case mir.BitAnd:
		b, op = mir.Binary(x), "&"
	case mir.BitOr:
		b, op = mir.Binary(x), "|"
	case mir.BitXor:
		b, op = mir.Binary(x), "^"
	case mir.Shl:
		b, op = mir.Binary(x), "<<"
	case mir.Shr:
		b, op = mir.Binary(x), ">>"
	}

	l, r, err := fr.get2(b.L, b.R)
	if err != nil {
		return
	}

	v, err = Binary(op, l, r)
	if err != nil {
		return
	}

	return v, exitNone, 0, fr.set(b.Dest, v)
}

// Binary applies a binary operator to two values.
func Binary(op string, l, r mir.Value) (mir.Value, error) {
	switch op {
	case "+", "-", "*", "/", "%", "**":
		return arith(op, l, r)
	case "==":
		return mir.Bool(equal(l, r)), nil
	case "!=":
		return mir.Bool(!equal(l, r)), nil
	case "<", "<=", ">", ">=":
		ok, err := order(op, l, r)
		if err != nil {
			return mir.Value{}, err
		}

		return mir.Bool(ok), nil
	case "&", "|", "^", "<<", ">>":
		return bitwise(op, l, r)
	}

	return mir.Value{}, newError(TypeMismatch, "unknown operator %q", op)
}

// number converts v to a number. Strings holding a number are converted too.
func number(v mir.Value) (i int64, f float64, isFloat, ok bool) {
	switch v.Kind {
	case mir.KindInt:
		return v.I, float64(v.I), false, true
	case mir.KindFloat:
		return 0, v.F, true, true
	case mir.KindString:
		s := strings.TrimSpace(v.S)

		if x, err := strconv.ParseInt(s, 10, 64); err == nil {
			return x, float64(x), false, true
		}

		if x, err := strconv.ParseFloat(s, 64); err == nil {
			return 0, x, true, true
		}
	}

	return 0, 0, false, false
}

func arith(op string, l, r mir.Value) (mir.Value, error) {
	li, lf, lfl, lok := number(l)
	ri, rf, rfl, rok := number(r)

	if !lok || !rok {
		return mir.Value{}, newError(TypeMismatch, "%v %s %v", l.Kind, op, r.Kind)
	}

	if !lfl && !rfl {
		return intArith(op, li, ri), nil
	}

	return mir.Float(floatArith(op, lf, rf)), nil
}

func intArith(op string, l, r int64) mir.Value {
	switch op {
	case "+":
		return mir.Int(l + r)
	case "-":
		return mir.Int(l - r)
	case "*":
		return mir.Int(l * r)
	case "/":
		if r == 0 {
			return mir.Float(floatArith(op, float64(l), 0))
		}

		if r == -1 {
			return mir.Int(-l)
		}

		if l%r == 0 {
			return mir.Int(l / r)
		}

		return mir.Float(float64(l) / float64(r))
	case "%":
		if r == 0 {
			return mir.Float(math.NaN())
		}

		if r == -1 {
			return mir.Int(0)
		}

		return mir.Int(l % r)
	default: // **
		if r < 0 {
			return mir.Float(math.Pow(float64(l), float64(r)))
		}

		return mir.Int(ipow(l, r))
	}
}

func floatArith(op string, l, r float64) float64 {
	switch op {
	case "+":
		return l + r
	case "-":
		return l - r
	case "*":
		return l * r
	case "/":
		if r == 0 {
			switch {
			case l > 0:
				return math.Inf(1)
			case l < 0:
				return math.Inf(-1)
			default:
				return math.NaN()
			}
		}

		return l / r
	case "%":
		return math.Mod(l, r)
	default:
		return math.Pow(l, r)
	}
}

func ipow(x, n int64) int64 {
	res := int64(1)

	for n > 0 {
		if n&1 != 0 {
			res *= x
		}

		x *= x
		n >>= 1
	}

	return res
}

func bitwise(op string, l, r mir.Value) (mir.Value, error) {
	li, _, lfl, lok := number(l)
	ri, _, rfl, rok := number(r)

	if !lok || !rok || lfl || rfl {
		return mir.Value{}, newError(TypeMismatch, "%v %s %v: integers expected", l.Kind, op, r.Kind)
	}

	switch op {
	case "&":
		return mir.Int(li & ri), nil
	case "|":
		return mir.Int(li | ri), nil
	case "^":
		return mir.Int(li ^ ri), nil
	}

	if ri < 0 {
		return mir.Value{}, newError(TypeMismatch, "negative shift count %d", ri)
	}

	if op == "<<" {
		return mir.Int(li << uint64(ri)), nil
	}

	return mir.Int(li >> uint64(ri)), nil
}

// equal is == semantics: numbers compare by value, other kinds must match exactly.
func equal(l, r mir.Value) bool {
	if isNum(l) && isNum(r) {
		if l.Kind == mir.KindInt && r.Kind == mir.KindInt {
			return l.I == r.I
		}

		return toFloat(l) == toFloat(r)
	}

	if l.Kind != r.Kind {
		return false
	}

	switch l.Kind {
	case mir.KindNull:
		return true
	case mir.KindString:
		return l.S == r.S
	case mir.KindBool:
		return l.AsBool() == r.AsBool()
	case mir.KindClosure:
		return l.C == r.C
	}

	return false
}

// order is < <= > >= semantics. Comparisons with NaN are false.
func order(op string, l, r mir.Value) (bool, error) {
	var c int

	switch {
	case l.Kind == mir.KindInt && r.Kind == mir.KindInt:
		c = cmp(l.I, r.I)
	case isNum(l) && isNum(r):
		lf, rf := toFloat(l), toFloat(r)
		if math.IsNaN(lf) || math.IsNaN(rf) {
			return false, nil
		}

		c = cmp(lf, rf)
	case l.Kind == mir.KindString && r.Kind == mir.KindString:
		c = strings.Compare(l.S, r.S)
	default:
		return false, newError(TypeMismatch, "%v %s %v", l.Kind, op, r.Kind)
	}

	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

func cmp[T int64 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func isNum(v mir.Value) bool {
	return v.Kind == mir.KindInt || v.Kind == mir.KindFloat
}

func toFloat(v mir.Value) float64 {
	if v.Kind == mir.KindInt {
		return float64(v.I)
	}

	return v.F
}

// match reports whether l matches regular expression r.
// Compiled expressions are kept for the rest of the run.
func (m *machine) match(l, r mir.Value) (bool, error) {
	re, ok := m.regex[r.Text()]
	if !ok {
		var err error

		re, err = regexp.Compile(r.Text())
		if err != nil {
			e := newError(RegexCompileError, "%q", r.Text())
			e.Err = err

			return false, e
		}

		m.regex[r.Text()] = re
	}

	return re.MatchString(l.Text()), nil
}
