package mir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgramAdd(t *testing.T) {
	p := NewProgram()

	p.Add(NewFunc("a", nil))
	p.Add(NewFunc("b", []string{"x", "y"}))

	a2 := NewFunc("a", []string{"z"})
	p.Add(a2)

	assert.Equal(t, []string{"a", "b"}, p.Order)

	f, ok := p.Func("a")
	assert.True(t, ok)
	assert.Same(t, a2, f)

	b, _ := p.Func("b")
	assert.Equal(t, []Reg{0, 1}, b.ParamRegs)
	assert.Equal(t, 2, b.NumRegs)
	assert.Equal(t, BlockID(0), b.Entry)
	assert.Nil(t, b.Block(1))
	assert.Nil(t, b.Block(NoBlock))
}

func TestBlockTerminated(t *testing.T) {
	f := NewFunc("f", nil)
	b := f.Block(f.Entry)

	assert.False(t, b.Terminated())

	assert.Equal(t, 0, b.Append(LoadImmediate{Dest: f.NewReg(), Value: Int(1)}))
	assert.False(t, b.Terminated())

	b.Append(Throw{Value: RegRef(0)})
	assert.True(t, b.Terminated())
	assert.Equal(t, 2, b.Len())
}

func TestOperands(t *testing.T) {
	out, in := Operands(Add{Dest: 2, L: RegRef(0), R: Int(1)})
	assert.Equal(t, Reg(2), out)
	assert.Equal(t, []Value{RegRef(0), Int(1)}, in)

	out, in = Operands(ClosureCall{Dest: 3, Closure: 1, Args: []Value{RegRef(2)}})
	assert.Equal(t, Reg(3), out)
	assert.Equal(t, []Value{RegRef(1), RegRef(2)}, in)

	out, in = Operands(Return{Value: Null()})
	assert.Equal(t, NoReg, out)
	assert.Equal(t, []Value{Null()}, in)
}

func TestValue(t *testing.T) {
	assert.False(t, Value{}.Valid())
	assert.True(t, Null().Valid())

	assert.False(t, Null().Truthy())
	assert.False(t, Int(0).Truthy())
	assert.True(t, Int(-1).Truthy())
	assert.False(t, Str("").Truthy())
	assert.True(t, Str("0").Truthy())
	assert.False(t, Float(math.NaN()).Truthy())
	assert.True(t, Bool(true).Truthy())

	assert.Equal(t, "", Null().Text())
	assert.Equal(t, "a b", Str("a b").Text())
	assert.Equal(t, "42", Int(42).Text())
	assert.Equal(t, "+Inf", Float(math.Inf(1)).Text())

	assert.Equal(t, `"a b"`, Str("a b").String())
	assert.Equal(t, "%7", RegRef(7).String())
	assert.Equal(t, "closure(main.b2)", ClosureVal(&Closure{Func: "main", Block: 2}).String())
}
