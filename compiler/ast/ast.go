package ast

type (
	Node interface {
	}

	Base struct {
		Line int
		Col  int
	}

	Program struct {
		Base `tlog:",embed"`

		Stmts []Node
	}

	StatementList struct {
		Base `tlog:",embed"`

		Stmts []Node
	}

	FunctionDecl struct {
		Base `tlog:",embed"`

		Name   string
		Params []string
		Body   Node
	}

	FunctionCall struct {
		Base `tlog:",embed"`

		Callee Node
		Args   []Node
	}

	NumberLiteral struct {
		Base `tlog:",embed"`

		Text string
	}

	StringLiteral struct {
		Base `tlog:",embed"`

		Value string
	}

	Word struct {
		Base `tlog:",embed"`

		Name string
	}

	Assign struct {
		Base `tlog:",embed"`

		Name  string
		Value Node
	}

	Closure struct {
		Base `tlog:",embed"`

		Params   []string
		Captures []string
		Body     Node
	}

	Binary struct {
		Base `tlog:",embed"`

		Left  Node
		Op    string
		Right Node
	}

	Match struct {
		Base `tlog:",embed"`

		Scrutinee Node
		Arms      []*MatchArm
		Default   Node
	}

	MatchArm struct {
		Pattern Node
		Body    Node
	}

	Try struct {
		Base `tlog:",embed"`

		Body    Node
		Catches []*Catch
		Finally Node
	}

	// Catch with a nil Pattern handles everything.
	Catch struct {
		Var     string
		Pattern Node
		Body    Node
	}

	Return struct {
		Base `tlog:",embed"`

		Value Node
	}

	Throw struct {
		Base `tlog:",embed"`

		Value Node
	}

	// Command is handed to the process execution backend.
	// Line, if set, is split shell-style into Name and Args.
	Command struct {
		Base `tlog:",embed"`

		Name string
		Args []Node
		Line string
	}

	MacroInvocation struct {
		Base `tlog:",embed"`

		Name string
		Args []Node
	}
)

func (b Base) Position() Base { return b }

// Position returns where x came from in the source tree, if known.
func Position(x Node) (line, col int) {
	p, ok := x.(interface{ Position() Base })
	if !ok {
		return 0, 0
	}

	b := p.Position()

	return b.Line, b.Col
}
