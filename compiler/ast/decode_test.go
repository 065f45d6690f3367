package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeShorthands(t *testing.T) {
	x, err := Decode([]byte(`
- assign: {name: a, value: 40}
- assign: {name: s, value: "hello"}
- binary: {left: a, op: "+", right: 2}
`))
	require.NoError(t, err)

	p, ok := x.(*Program)
	require.True(t, ok, "%T", x)
	require.Len(t, p.Stmts, 3)

	a, ok := p.Stmts[0].(*Assign)
	require.True(t, ok, "%T", p.Stmts[0])
	assert.Equal(t, "a", a.Name)
	assert.Equal(t, "40", a.Value.(*NumberLiteral).Text)

	s := p.Stmts[1].(*Assign)
	assert.IsType(t, &StringLiteral{}, s.Value)
	assert.Equal(t, "hello", s.Value.(*StringLiteral).Value)

	b := p.Stmts[2].(*Binary)
	assert.Equal(t, "+", b.Op)
	assert.Equal(t, "a", b.Left.(*Word).Name)
	assert.Equal(t, "2", b.Right.(*NumberLiteral).Text)

	line, col := Position(b)
	assert.Equal(t, 4, line)
	assert.Equal(t, 3, col)
}

func TestDecodeNested(t *testing.T) {
	x, err := Decode([]byte(`
program:
  - func:
      name: add
      params: [a, b]
      body:
        - return: {binary: {left: a, op: "+", right: b}}
  - try:
      body:
        - throw: "boom"
      catches:
        - var: e
          pattern: "boom"
          body: [e]
        - body: [null]
      finally:
        - command: echo done
  - match:
      scrutinee: 2
      arms:
        - pattern: 1
          body: ["one"]
        - pattern: _
          body: ["other"]
`))
	require.NoError(t, err)

	p := x.(*Program)
	require.Len(t, p.Stmts, 3)

	f := p.Stmts[0].(*FunctionDecl)
	assert.Equal(t, "add", f.Name)
	assert.Equal(t, []string{"a", "b"}, f.Params)
	require.IsType(t, &StatementList{}, f.Body)
	assert.IsType(t, &Return{}, f.Body.(*StatementList).Stmts[0])

	tr := p.Stmts[1].(*Try)
	require.Len(t, tr.Catches, 2)
	assert.Equal(t, "e", tr.Catches[0].Var)
	assert.Equal(t, "boom", tr.Catches[0].Pattern.(*StringLiteral).Value)
	assert.Nil(t, tr.Catches[1].Pattern)
	assert.Equal(t, "echo done", tr.Finally.(*StatementList).Stmts[0].(*Command).Line)

	m := p.Stmts[2].(*Match)
	require.Len(t, m.Arms, 2)
	assert.Equal(t, "_", m.Arms[1].Pattern.(*Word).Name)
}

func TestDecodeErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		text string
	}{
		{"unknown_kind", `[{loop: 1}]`},
		{"two_keys", `[{word: a, number: 1}]`},
		{"unknown_field", `[{assign: {name: a, val: 1}}]`},
		{"missing_field", `[{binary: {left: 1, right: 2}}]`},
		{"bad_params", `[{func: {name: f, params: a}}]`},
		{"empty_command", `[{command: {args: [a]}}]`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.text))
			assert.Error(t, err)
		})
	}
}

func TestDecodeEmpty(t *testing.T) {
	x, err := Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, &Program{}, x)
}
