package format

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/mirsh/compiler/ast"
	"github.com/slowlang/mirsh/compiler/lower"
	"github.com/slowlang/mirsh/compiler/mir"
)

func TestGolden(t *testing.T) {
	g := goldie.New(t, goldie.WithFixtureDir(filepath.Join("testdata", "golden")))

	for _, name := range []string{"straight", "control"} {
		t.Run(name, func(t *testing.T) {
			text, err := os.ReadFile(filepath.Join("testdata", "trees", name+".yaml"))
			require.NoError(t, err)

			root, err := ast.Decode(text)
			require.NoError(t, err)

			var l lower.Lowerer

			p := l.Program(context.Background(), root)
			require.Empty(t, l.Diags)

			b, err := Program(context.Background(), nil, p, nil)
			require.NoError(t, err)

			g.Assert(t, name, b)
		})
	}
}

func TestOptions(t *testing.T) {
	p := mir.NewProgram()
	f := mir.NewFunc(mir.MainFunc, nil)
	p.Add(f)

	f.Block(f.Entry).Append(mir.Return{Value: mir.Null()})
	f.NewBlock().Append(mir.Yield{Value: mir.Str("x")})

	b, err := Program(context.Background(), nil, p, &Options{
		Opcode:      strings.ToUpper,
		Unreachable: map[string][]mir.BlockID{mir.MainFunc: {1}},
	})
	require.NoError(t, err)

	assert.Equal(t, "func main() regs 0 {\nb0: // entry\n\tRETURN null\nb1: // unreachable\n\tYIELD \"x\"\n}\n", string(b))
}

func TestInstr(t *testing.T) {
	b, err := Instr(context.Background(), nil, mir.RegexMatch{Dest: 3, L: mir.RegRef(1), R: mir.Str("^a"), Negate: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "\t%3 = not_regex %1, \"^a\"\n", string(b))

	_, err = Instr(context.Background(), nil, struct{}{}, nil)
	assert.Error(t, err)
}
