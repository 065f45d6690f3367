package check

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/mirsh/compiler/ast"
	"github.com/slowlang/mirsh/compiler/lower"
	"github.com/slowlang/mirsh/compiler/mir"
)

func TestLoweredProgramsPass(t *testing.T) {
	for _, text := range []string{
		``,
		`[{binary: {left: a, op: "&&", right: {binary: {left: b, op: "||", right: c}}}}]`,
		`
- assign: {name: x, value: 1}
- func: {name: f, params: [a, b], body: [{return: a}]}
- assign: {name: c, value: {closure: {params: [y], body: [{binary: {left: x, op: "+", right: y}}]}}}
- match:
    scrutinee: {call: {callee: c, args: [1]}}
    arms:
      - pattern: 2
        body: [{assign: {name: x, value: 3}}]
    default: [{throw: "no"}]
- try:
    body: [{call: {callee: f, args: [x]}}]
    catches:
      - pattern: "a"
        body: [1]
      - var: e
        pattern: "b"
        body: [e]
    finally: [{command: "echo done"}]
`,
	} {
		root, err := ast.Decode([]byte(text))
		require.NoError(t, err)

		p := lower.Program(context.Background(), root)

		rep, err := Program(context.Background(), p)
		assert.NoError(t, err, "%s", text)
		assert.Empty(t, rep.Unreachable)
	}
}

func TestProblems(t *testing.T) {
	p := mir.NewProgram()
	f := mir.NewFunc(mir.MainFunc, nil)
	p.Add(f)

	r := f.NewReg()

	b := f.Block(f.Entry)
	b.Append(mir.AndSC{Dest: r, Left: mir.Int(1), Skip: 5})
	b.Append(mir.Move{Dest: r, Src: 7})
	b.Append(mir.Yield{Value: mir.RegRef(r)})
	b.Append(mir.MatchDispatch{Dest: r, Scrutinee: mir.Int(1), Default: 9})

	f.NewBlock()

	_, err := Program(context.Background(), p)
	require.Error(t, err)

	var ps Problems
	require.ErrorAs(t, err, &ps)

	var msgs []string
	for _, p := range ps {
		msgs = append(msgs, p.String())
	}

	assert.Equal(t, []string{
		"main.b0:0: skip 5 leaves the block",
		"main.b0:1: register %7 out of range [0, 1)",
		"main.b0:1: %7 is read but never written",
		"main.b0:2: mir.Yield before the end of block",
		"main.b0:2: yield outside of a nested block",
		"main.b0:3: block is not terminated",
		"main.b0:3: reference to missing block 9",
	}, msgs)
}

func TestUnreachable(t *testing.T) {
	p := mir.NewProgram()
	f := mir.NewFunc(mir.MainFunc, nil)
	p.Add(f)

	f.Block(f.Entry).Append(mir.Return{Value: mir.Null()})

	dead := f.NewBlock()
	dead.Append(mir.Yield{Value: mir.Int(1)})

	rep, err := Program(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, map[string][]mir.BlockID{mir.MainFunc: {1}}, rep.Unreachable)
}

func TestNoMain(t *testing.T) {
	_, err := Program(context.Background(), mir.NewProgram())
	assert.EqualError(t, err, "no main function")
}
