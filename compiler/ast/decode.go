package ast

import (
	"fmt"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"
)

type (
	// DecodeError points at the tree node that could not be decoded.
	DecodeError struct {
		Line int
		Col  int
		Msg  string
	}

	decoder func(n *yaml.Node, b Base) (Node, error)

	fields map[string]*yaml.Node
)

var decoders map[string]decoder

func init() {
	decoders = map[string]decoder{
		"program": decodeProgram,
		"block":   decodeBlock,
		"func":    decodeFunc,
		"call":    decodeCall,
		"number":  decodeNumber,
		"string":  decodeString,
		"word":    decodeWord,
		"assign":  decodeAssign,
		"closure": decodeClosure,
		"binary":  decodeBinary,
		"match":   decodeMatch,
		"try":     decodeTry,
		"return":  decodeReturn,
		"throw":   decodeThrow,
		"command": decodeCommand,
		"macro":   decodeMacro,
	}
}

// Decode reads a syntax tree serialized as YAML.
//
// Every node is a single-key mapping naming its kind (`assign: {name: x, value: 1}`).
// Scalars are shorthands: numbers are NumberLiteral, quoted strings are StringLiteral
// and plain strings are Word. A top-level sequence is a Program.
func Decode(data []byte) (Node, error) {
	var doc yaml.Node

	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, errors.Wrap(err, "yaml")
	}

	n := &doc
	if n.Kind == 0 {
		return &Program{}, nil
	}

	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return &Program{}, nil
		}

		n = n.Content[0]
	}

	if n.Kind == yaml.SequenceNode {
		stmts, err := decodeList(n)
		if err != nil {
			return nil, err
		}

		return &Program{Base: pos(n), Stmts: stmts}, nil
	}

	x, err := decodeNode(n)
	if err != nil {
		return nil, err
	}

	if _, ok := x.(*Program); ok {
		return x, nil
	}

	return &Program{Base: pos(n), Stmts: []Node{x}}, nil
}

func decodeNode(n *yaml.Node) (Node, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return decodeScalar(n)
	case yaml.MappingNode:
	case yaml.SequenceNode:
		stmts, err := decodeList(n)
		if err != nil {
			return nil, err
		}

		return &StatementList{Base: pos(n), Stmts: stmts}, nil
	default:
		return nil, newDecodeError(n, "unexpected yaml node kind %v", n.Kind)
	}

	if len(n.Content) != 2 {
		return nil, newDecodeError(n, "node must have exactly one kind key, got %d keys", len(n.Content)/2)
	}

	kind := n.Content[0].Value

	d, ok := decoders[kind]
	if !ok {
		return nil, newDecodeError(n, "unknown node kind: %q", kind)
	}

	x, err := d(n.Content[1], pos(n))
	if err != nil {
		return nil, errors.Wrap(err, "%v", kind)
	}

	return x, nil
}

func decodeScalar(n *yaml.Node) (Node, error) {
	b := pos(n)

	if n.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle) != 0 {
		return &StringLiteral{Base: b, Value: n.Value}, nil
	}

	switch n.ShortTag() {
	case "!!int", "!!float":
		return &NumberLiteral{Base: b, Text: n.Value}, nil
	case "!!null":
		return nil, nil
	}

	return &Word{Base: b, Name: n.Value}, nil
}

func decodeList(n *yaml.Node) (l []Node, err error) {
	if n.Kind != yaml.SequenceNode {
		x, err := decodeNode(n)
		if err != nil {
			return nil, err
		}

		return []Node{x}, nil
	}

	for i, c := range n.Content {
		x, err := decodeNode(c)
		if err != nil {
			return nil, errors.Wrap(err, "item %d", i)
		}

		l = append(l, x)
	}

	return l, nil
}

func decodeBody(n *yaml.Node) (Node, error) {
	if n == nil {
		return nil, nil
	}

	if n.Kind == yaml.SequenceNode {
		stmts, err := decodeList(n)
		if err != nil {
			return nil, err
		}

		return &StatementList{Base: pos(n), Stmts: stmts}, nil
	}

	return decodeNode(n)
}

func decodeProgram(n *yaml.Node, b Base) (Node, error) {
	stmts, err := decodeList(n)
	if err != nil {
		return nil, err
	}

	return &Program{Base: b, Stmts: stmts}, nil
}

func decodeBlock(n *yaml.Node, b Base) (Node, error) {
	stmts, err := decodeList(n)
	if err != nil {
		return nil, err
	}

	return &StatementList{Base: b, Stmts: stmts}, nil
}

func decodeFunc(n *yaml.Node, b Base) (Node, error) {
	f, err := mapping(n, "name", "params", "body")
	if err != nil {
		return nil, err
	}

	x := &FunctionDecl{Base: b}

	if x.Name, err = f.str("name", true); err != nil {
		return nil, err
	}

	if x.Params, err = f.strs("params"); err != nil {
		return nil, err
	}

	if x.Body, err = decodeBody(f["body"]); err != nil {
		return nil, errors.Wrap(err, "body")
	}

	return x, nil
}

func decodeCall(n *yaml.Node, b Base) (Node, error) {
	f, err := mapping(n, "callee", "args")
	if err != nil {
		return nil, err
	}

	x := &FunctionCall{Base: b}

	if x.Callee, err = f.node("callee", true); err != nil {
		return nil, err
	}

	if x.Args, err = f.list("args"); err != nil {
		return nil, err
	}

	return x, nil
}

func decodeNumber(n *yaml.Node, b Base) (Node, error) {
	if n.Kind != yaml.ScalarNode {
		return nil, newDecodeError(n, "number must be a scalar")
	}

	return &NumberLiteral{Base: b, Text: n.Value}, nil
}

func decodeString(n *yaml.Node, b Base) (Node, error) {
	if n.Kind != yaml.ScalarNode {
		return nil, newDecodeError(n, "string must be a scalar")
	}

	return &StringLiteral{Base: b, Value: n.Value}, nil
}

func decodeWord(n *yaml.Node, b Base) (Node, error) {
	if n.Kind != yaml.ScalarNode {
		return nil, newDecodeError(n, "word must be a scalar")
	}

	return &Word{Base: b, Name: n.Value}, nil
}

func decodeAssign(n *yaml.Node, b Base) (Node, error) {
	f, err := mapping(n, "name", "value")
	if err != nil {
		return nil, err
	}

	x := &Assign{Base: b}

	if x.Name, err = f.str("name", true); err != nil {
		return nil, err
	}

	if x.Value, err = f.node("value", false); err != nil {
		return nil, err
	}

	return x, nil
}

func decodeClosure(n *yaml.Node, b Base) (Node, error) {
	f, err := mapping(n, "params", "captures", "body")
	if err != nil {
		return nil, err
	}

	x := &Closure{Base: b}

	if x.Params, err = f.strs("params"); err != nil {
		return nil, err
	}

	if x.Captures, err = f.strs("captures"); err != nil {
		return nil, err
	}

	if x.Body, err = decodeBody(f["body"]); err != nil {
		return nil, errors.Wrap(err, "body")
	}

	return x, nil
}

func decodeBinary(n *yaml.Node, b Base) (Node, error) {
	f, err := mapping(n, "left", "op", "right")
	if err != nil {
		return nil, err
	}

	x := &Binary{Base: b}

	if x.Op, err = f.str("op", true); err != nil {
		return nil, err
	}

	if x.Left, err = f.node("left", true); err != nil {
		return nil, err
	}

	if x.Right, err = f.node("right", true); err != nil {
		return nil, err
	}

	return x, nil
}

func decodeMatch(n *yaml.Node, b Base) (Node, error) {
	f, err := mapping(n, "scrutinee", "arms", "default")
	if err != nil {
		return nil, err
	}

	x := &Match{Base: b}

	if x.Scrutinee, err = f.node("scrutinee", true); err != nil {
		return nil, err
	}

	if x.Default, err = decodeBody(f["default"]); err != nil {
		return nil, errors.Wrap(err, "default")
	}

	arms := f["arms"]
	if arms == nil {
		return x, nil
	}

	if arms.Kind != yaml.SequenceNode {
		return nil, newDecodeError(arms, "arms must be a sequence")
	}

	for i, a := range arms.Content {
		af, err := mapping(a, "pattern", "body")
		if err != nil {
			return nil, errors.Wrap(err, "arm %d", i)
		}

		arm := &MatchArm{}

		if arm.Pattern, err = af.node("pattern", true); err != nil {
			return nil, errors.Wrap(err, "arm %d", i)
		}

		if arm.Body, err = decodeBody(af["body"]); err != nil {
			return nil, errors.Wrap(err, "arm %d: body", i)
		}

		x.Arms = append(x.Arms, arm)
	}

	return x, nil
}

func decodeTry(n *yaml.Node, b Base) (Node, error) {
	f, err := mapping(n, "body", "catches", "finally")
	if err != nil {
		return nil, err
	}

	x := &Try{Base: b}

	if x.Body, err = decodeBody(f["body"]); err != nil {
		return nil, errors.Wrap(err, "body")
	}

	if x.Finally, err = decodeBody(f["finally"]); err != nil {
		return nil, errors.Wrap(err, "finally")
	}

	catches := f["catches"]
	if catches == nil {
		return x, nil
	}

	if catches.Kind != yaml.SequenceNode {
		return nil, newDecodeError(catches, "catches must be a sequence")
	}

	for i, c := range catches.Content {
		cf, err := mapping(c, "var", "pattern", "body")
		if err != nil {
			return nil, errors.Wrap(err, "catch %d", i)
		}

		cx := &Catch{}

		if cx.Var, err = cf.str("var", false); err != nil {
			return nil, errors.Wrap(err, "catch %d", i)
		}

		if cx.Pattern, err = cf.node("pattern", false); err != nil {
			return nil, errors.Wrap(err, "catch %d", i)
		}

		if cx.Body, err = decodeBody(cf["body"]); err != nil {
			return nil, errors.Wrap(err, "catch %d: body", i)
		}

		x.Catches = append(x.Catches, cx)
	}

	return x, nil
}

func decodeReturn(n *yaml.Node, b Base) (Node, error) {
	v, err := decodeNode(n)
	if err != nil {
		return nil, err
	}

	return &Return{Base: b, Value: v}, nil
}

func decodeThrow(n *yaml.Node, b Base) (Node, error) {
	v, err := decodeNode(n)
	if err != nil {
		return nil, err
	}

	return &Throw{Base: b, Value: v}, nil
}

func decodeCommand(n *yaml.Node, b Base) (Node, error) {
	if n.Kind == yaml.ScalarNode {
		return &Command{Base: b, Line: n.Value}, nil
	}

	f, err := mapping(n, "name", "args", "line")
	if err != nil {
		return nil, err
	}

	x := &Command{Base: b}

	if x.Name, err = f.str("name", false); err != nil {
		return nil, err
	}

	if x.Line, err = f.str("line", false); err != nil {
		return nil, err
	}

	if x.Name == "" && x.Line == "" {
		return nil, newDecodeError(n, "command needs name or line")
	}

	if x.Args, err = f.list("args"); err != nil {
		return nil, err
	}

	return x, nil
}

func decodeMacro(n *yaml.Node, b Base) (Node, error) {
	f, err := mapping(n, "name", "args")
	if err != nil {
		return nil, err
	}

	x := &MacroInvocation{Base: b}

	if x.Name, err = f.str("name", true); err != nil {
		return nil, err
	}

	if x.Args, err = f.list("args"); err != nil {
		return nil, err
	}

	return x, nil
}

func mapping(n *yaml.Node, keys ...string) (fields, error) {
	if n.Kind != yaml.MappingNode {
		return nil, newDecodeError(n, "mapping expected")
	}

	f := make(fields, len(n.Content)/2)

	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i].Value

		known := false
		for _, key := range keys {
			known = known || key == k
		}

		if !known {
			return nil, newDecodeError(n.Content[i], "unknown field: %q", k)
		}

		f[k] = n.Content[i+1]
	}

	return f, nil
}

func (f fields) str(key string, required bool) (string, error) {
	n, ok := f[key]
	if !ok {
		if required {
			return "", errors.New("missing field: %v", key)
		}

		return "", nil
	}

	if n.Kind != yaml.ScalarNode {
		return "", newDecodeError(n, "%v: scalar expected", key)
	}

	return n.Value, nil
}

func (f fields) strs(key string) (l []string, err error) {
	n, ok := f[key]
	if !ok {
		return nil, nil
	}

	if n.Kind != yaml.SequenceNode {
		return nil, newDecodeError(n, "%v: sequence expected", key)
	}

	for _, c := range n.Content {
		if c.Kind != yaml.ScalarNode {
			return nil, newDecodeError(c, "%v: scalar expected", key)
		}

		l = append(l, c.Value)
	}

	return l, nil
}

func (f fields) node(key string, required bool) (Node, error) {
	n, ok := f[key]
	if !ok {
		if required {
			return nil, errors.New("missing field: %v", key)
		}

		return nil, nil
	}

	x, err := decodeNode(n)
	if err != nil {
		return nil, errors.Wrap(err, "%v", key)
	}

	return x, nil
}

func (f fields) list(key string) ([]Node, error) {
	n, ok := f[key]
	if !ok {
		return nil, nil
	}

	if n.Kind != yaml.SequenceNode {
		return nil, newDecodeError(n, "%v: sequence expected", key)
	}

	l, err := decodeList(n)
	if err != nil {
		return nil, errors.Wrap(err, "%v", key)
	}

	return l, nil
}

func pos(n *yaml.Node) Base {
	return Base{Line: n.Line, Col: n.Column}
}

func newDecodeError(n *yaml.Node, format string, args ...any) *DecodeError {
	return &DecodeError{
		Line: n.Line,
		Col:  n.Column,
		Msg:  fmt.Sprintf(format, args...),
	}
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Msg)
}
