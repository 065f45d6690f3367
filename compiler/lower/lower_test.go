package lower

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/mirsh/compiler/ast"
	"github.com/slowlang/mirsh/compiler/mir"
)

func lowerText(t *testing.T, text string) (*mir.Program, []Diagnostic) {
	t.Helper()

	root, err := ast.Decode([]byte(text))
	require.NoError(t, err)

	var l Lowerer

	p := l.Program(context.Background(), root)

	return p, l.Diags
}

func TestLowerStraightLine(t *testing.T) {
	p, diags := lowerText(t, `
- assign: {name: x, value: 40}
- binary: {left: x, op: "+", right: 2}
`)
	require.Empty(t, diags)

	f := p.Main()
	require.NotNil(t, f)
	require.Len(t, f.Blocks, 1)

	assert.Equal(t, []mir.Instr{
		mir.LoadImmediate{Dest: 0, Value: mir.Int(40)},
		mir.LoadImmediate{Dest: 1, Value: mir.Int(2)},
		mir.Add{Dest: 2, L: mir.RegRef(0), R: mir.RegRef(1)},
		mir.Return{Value: mir.RegRef(2)},
	}, f.Blocks[0].Code)
	assert.Equal(t, 3, f.NumRegs)
}

func TestLowerEmptyProgram(t *testing.T) {
	p, diags := lowerText(t, ``)
	require.Empty(t, diags)

	assert.Equal(t, []string{mir.MainFunc}, p.Order)
	assert.Equal(t, []mir.Instr{mir.Return{Value: mir.Null()}}, p.Main().Blocks[0].Code)
}

func TestLowerShortCircuitSkip(t *testing.T) {
	p, diags := lowerText(t, `
- binary: {left: a, op: "&&", right: {binary: {left: b, op: "+", right: c}}}
`)
	require.Empty(t, diags)

	code := p.Main().Blocks[0].Code

	assert.Equal(t, []mir.Instr{
		mir.LoadImmediate{Dest: 0, Value: mir.Str("a")},
		mir.AndSC{Dest: 1, Left: mir.RegRef(0), Right: mir.RegRef(4), Skip: 4},
		mir.LoadImmediate{Dest: 2, Value: mir.Str("b")},
		mir.LoadImmediate{Dest: 3, Value: mir.Str("c")},
		mir.Add{Dest: 4, L: mir.RegRef(2), R: mir.RegRef(3)},
		mir.Move{Dest: 1, Src: 4},
		mir.Return{Value: mir.RegRef(1)},
	}, code)
}

func TestLowerShortCircuitScopesAssignment(t *testing.T) {
	p, diags := lowerText(t, `
- assign: {name: x, value: 1}
- binary: {left: 0, op: "||", right: {assign: {name: x, value: 2}}}
- x
`)
	require.Empty(t, diags)

	code := p.Main().Blocks[0].Code
	sc, ok := code[2].(mir.OrSC)
	require.True(t, ok, "%T", code[2])
	assert.Equal(t, 2, sc.Skip)

	assert.Equal(t, mir.Return{Value: mir.RegRef(0)}, code[len(code)-1])
}

func TestLowerFunctionScope(t *testing.T) {
	p, diags := lowerText(t, `
- assign: {name: x, value: 1}
- func: {name: f, params: [a], body: [x, a]}
- call: {callee: f, args: [x]}
`)
	require.Empty(t, diags)

	assert.Equal(t, []string{mir.MainFunc, "f"}, p.Order)

	f, ok := p.Func("f")
	require.True(t, ok)

	assert.Equal(t, []mir.Reg{0}, f.ParamRegs)
	assert.Equal(t, []mir.Instr{
		mir.LoadImmediate{Dest: 1, Value: mir.Str("x")},
		mir.Return{Value: mir.RegRef(0)},
	}, f.Blocks[0].Code)

	assert.Equal(t, []mir.Instr{
		mir.LoadImmediate{Dest: 0, Value: mir.Int(1)},
		mir.Call{Dest: 1, Func: "f", Args: []mir.Value{mir.RegRef(0)}},
		mir.Return{Value: mir.RegRef(1)},
	}, p.Main().Blocks[0].Code)
}

func TestLowerRedeclareKeepsOrder(t *testing.T) {
	p, diags := lowerText(t, `
- func: {name: f, body: [1]}
- func: {name: g, body: [2]}
- func: {name: f, body: [3]}
`)
	require.Empty(t, diags)

	assert.Equal(t, []string{mir.MainFunc, "f", "g"}, p.Order)

	f, _ := p.Func("f")
	assert.Equal(t, mir.LoadImmediate{Dest: 0, Value: mir.Int(3)}, f.Blocks[0].Code[0])
}

func TestLowerClosure(t *testing.T) {
	p, diags := lowerText(t, `
- assign: {name: x, value: 1}
- assign: {name: f, value: {closure: {params: [y], captures: [x], body: [{binary: {left: x, op: "+", right: y}}]}}}
`)
	require.Empty(t, diags)

	f := p.Main()
	require.Len(t, f.Blocks, 2)

	assert.Equal(t, []mir.Instr{
		mir.LoadImmediate{Dest: 0, Value: mir.Int(1)},
		mir.ClosureCreate{
			Dest:       4,
			Block:      1,
			Captures:   []mir.Capture{{Value: mir.RegRef(0), Reg: 2}},
			Params:     []mir.Reg{1},
			ParamNames: []string{"y"},
		},
		mir.Return{Value: mir.RegRef(4)},
	}, f.Blocks[0].Code)

	assert.Equal(t, []mir.Instr{
		mir.Add{Dest: 3, L: mir.RegRef(2), R: mir.RegRef(1)},
		mir.ClosureReturn{Value: mir.RegRef(3)},
	}, f.Blocks[1].Code)
}

func TestLowerImplicitCapture(t *testing.T) {
	p, diags := lowerText(t, `
- assign: {name: x, value: 1}
- closure: {body: [x, x]}
`)
	require.Empty(t, diags)

	cc, ok := p.Main().Blocks[0].Code[1].(mir.ClosureCreate)
	require.True(t, ok)

	assert.Equal(t, []mir.Capture{{Value: mir.RegRef(0), Reg: 1}}, cc.Captures, "captured once")
}

func TestLowerMatch(t *testing.T) {
	p, diags := lowerText(t, `
- assign: {name: x, value: 1}
- match:
    scrutinee: x
    arms:
      - pattern: 1
        body: [{assign: {name: x, value: 2}}]
      - pattern: _
        body: ["other"]
- x
`)
	require.Empty(t, diags)

	f := p.Main()
	require.Len(t, f.Blocks, 3)

	assert.Equal(t, []mir.Instr{
		mir.LoadImmediate{Dest: 0, Value: mir.Int(1)},
		mir.Move{Dest: 3, Src: 0},
		mir.MatchDispatch{
			Dest:      4,
			Scrutinee: mir.RegRef(0),
			Arms:      []mir.MatchArm{{Pattern: mir.Int(1), Block: 1}},
			Default:   2,
		},
		mir.Return{Value: mir.RegRef(3)},
	}, f.Blocks[0].Code)

	assert.Equal(t, []mir.Instr{
		mir.LoadImmediate{Dest: 1, Value: mir.Int(2)},
		mir.Move{Dest: 3, Src: 1},
		mir.Yield{Value: mir.RegRef(1)},
	}, f.Blocks[1].Code)

	assert.Equal(t, []mir.Instr{
		mir.LoadImmediate{Dest: 2, Value: mir.Str("other")},
		mir.Yield{Value: mir.RegRef(2)},
	}, f.Blocks[2].Code)
}

func TestLowerDeadCode(t *testing.T) {
	p, diags := lowerText(t, `
- return: 1
- command: {name: never}
`)
	require.Empty(t, diags)

	assert.Equal(t, []mir.Instr{
		mir.LoadImmediate{Dest: 0, Value: mir.Int(1)},
		mir.Return{Value: mir.RegRef(0)},
	}, p.Main().Blocks[0].Code)
}

func TestLowerDiagnostics(t *testing.T) {
	var seen []string

	root, err := ast.Decode([]byte(`
- binary: {left: 1, op: "<=>", right: 2}
- func: {name: main, body: [1]}
- number: "12abc"
- match: {scrutinee: 1, arms: [{pattern: {binary: {left: 1, op: "+", right: 1}}, body: [1]}]}
`))
	require.NoError(t, err)

	l := Lowerer{
		OnDiag: func(d Diagnostic) { seen = append(seen, d.Msg) },
	}

	p := l.Program(context.Background(), root)
	require.NotNil(t, p)

	require.Len(t, l.Diags, 4)
	assert.Len(t, seen, 4)

	assert.Contains(t, l.Diags[0].Msg, "unsupported operator")
	assert.Equal(t, 2, l.Diags[0].Line)
	assert.Contains(t, l.Diags[1].Msg, "main")
	assert.Contains(t, l.Diags[2].Msg, "bad number")
	assert.Contains(t, l.Diags[3].Msg, "not a literal")

	assert.Equal(t, []string{mir.MainFunc}, p.Order)
}

func TestLowerNumbers(t *testing.T) {
	var l Lowerer

	ctx := context.Background()

	assert.Equal(t, mir.Int(10), l.number(ctx, &ast.NumberLiteral{Text: "010"}))
	assert.Equal(t, mir.Int(255), l.number(ctx, &ast.NumberLiteral{Text: "0xff"}))
	assert.Equal(t, mir.Float(1.5), l.number(ctx, &ast.NumberLiteral{Text: "1.5"}))
	assert.Empty(t, l.Diags)
}

func TestLowerJoinStartsFromCapture(t *testing.T) {
	p, diags := lowerText(t, `
- assign: {name: x, value: 1}
- closure:
    captures: [x]
    body:
      - match: {scrutinee: 0, arms: [{pattern: 1, body: [{assign: {name: x, value: 5}}]}]}
      - x
`)
	require.Empty(t, diags)

	f := p.Main()
	require.Len(t, f.Blocks, 3)

	assert.Equal(t, []mir.Instr{
		mir.LoadImmediate{Dest: 2, Value: mir.Int(0)},
		mir.Move{Dest: 4, Src: 1},
		mir.MatchDispatch{
			Dest:      5,
			Scrutinee: mir.RegRef(2),
			Arms:      []mir.MatchArm{{Pattern: mir.Int(1), Block: 2}},
			Default:   mir.NoBlock,
		},
		mir.ClosureReturn{Value: mir.RegRef(4)},
	}, f.Blocks[1].Code)
}

func TestLowerJoinCapturesImplicitly(t *testing.T) {
	p, diags := lowerText(t, `
- assign: {name: x, value: 1}
- closure:
    body:
      - try: {body: [0], catches: [{body: [{assign: {name: x, value: 5}}]}]}
      - x
`)
	require.Empty(t, diags)

	code := p.Main().Blocks[0].Code
	cc, ok := code[len(code)-2].(mir.ClosureCreate)
	require.True(t, ok, "%T", code[len(code)-2])
	require.Len(t, cc.Captures, 1)
	assert.Equal(t, mir.RegRef(0), cc.Captures[0].Value)

	body := p.Main().Blocks[cc.Block].Code
	assert.Contains(t, body, mir.Move{Dest: 4, Src: cc.Captures[0].Reg})
}

func TestLowerSkipCoversRightOperand(t *testing.T) {
	p, diags := lowerText(t, `
- func: {name: c, body: [1]}
- assign: {name: a, value: 1}
- binary:
    left: a
    op: "&&"
    right: {binary: {left: b, op: "||", right: {call: {callee: c}}}}
- binary:
    left: a
    op: "||"
    right: {match: {scrutinee: a, arms: [{pattern: 1, body: [{assign: {name: a, value: 2}}, a]}]}}
`)
	require.Empty(t, diags)

	code := p.Main().Blocks[0].Code
	n := 0

	for i, x := range code {
		var sc mir.ShortCircuit

		switch x := x.(type) {
		case mir.AndSC:
			sc = mir.ShortCircuit(x)
		case mir.OrSC:
			sc = mir.ShortCircuit(x)
		default:
			continue
		}

		n++

		require.Less(t, i+sc.Skip, len(code))
		assert.Equal(t, mir.Move{Dest: sc.Dest, Src: sc.Right.Reg()}, code[i+sc.Skip], "skip of %v at %d", x, i)
	}

	assert.Equal(t, 3, n)
}
