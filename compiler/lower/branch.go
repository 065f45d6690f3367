package lower

import (
	"context"
	"sort"

	"tlog.app/go/tlog"

	"github.com/slowlang/mirsh/compiler/ast"
	"github.com/slowlang/mirsh/compiler/mir"
)

type (
	// branch is a nested block entered by MatchDispatch or Try.
	// It runs in the caller's frame and ends with Yield unless it returns or throws.
	branch struct {
		s    *Scope
		blk  *mir.Block
		last mir.Reg

		local string
	}
)

// DefaultPattern is the match arm pattern that matches anything.
const DefaultPattern = "_"

func (l *Lowerer) lowerMatch(ctx context.Context, s *Scope, b *mir.Block, x *ast.Match) mir.Reg {
	scr := val(l.lowerNode(ctx, s, b, x.Scrutinee))
	pre := s.snapshot()

	md := mir.MatchDispatch{
		Scrutinee: scr,
		Default:   mir.NoBlock,
	}

	var brs []*branch

	for _, arm := range x.Arms {
		if w, ok := arm.Pattern.(*ast.Word); ok && w.Name == DefaultPattern {
			if md.Default != mir.NoBlock {
				l.warn(ctx, x, "unreachable default arm")
				continue
			}

			br := l.lowerBranch(ctx, s, arm.Body, "", mir.NoReg)
			md.Default = br.blk.ID
			brs = append(brs, br)

			continue
		}

		pat := l.pattern(ctx, arm.Pattern)
		br := l.lowerBranch(ctx, s, arm.Body, "", mir.NoReg)

		md.Arms = append(md.Arms, mir.MatchArm{
			Pattern: pat,
			Block:   br.blk.ID,
		})
		brs = append(brs, br)
	}

	if x.Default != nil {
		if md.Default != mir.NoBlock {
			l.warn(ctx, x, "unreachable default arm")
		} else {
			br := l.lowerBranch(ctx, s, x.Default, "", mir.NoReg)
			md.Default = br.blk.ID
			brs = append(brs, br)
		}
	}

	l.join(ctx, s, b, pre, brs)

	md.Dest = s.NewReg()
	b.Append(md)

	return md.Dest
}

func (l *Lowerer) pattern(ctx context.Context, x ast.Node) mir.Value {
	switch x := x.(type) {
	case *ast.NumberLiteral:
		return l.number(ctx, x)
	case *ast.StringLiteral:
		return mir.Str(x.Value)
	case *ast.Word:
		return mir.Str(x.Name)
	}

	l.warn(ctx, x, "match pattern is not a literal: %T", x)

	return mir.Null()
}

// lowerTry lowers body, catch clauses and finally into their own blocks
// entered by a single Try instruction.
func (l *Lowerer) lowerTry(ctx context.Context, s *Scope, b *mir.Block, x *ast.Try) mir.Reg {
	pre := s.snapshot()

	body := l.lowerBranch(ctx, s, x.Body, "", mir.NoReg)
	brs := []*branch{body}

	t := mir.Try{
		Body:     body.blk.ID,
		Catch:    mir.NoBlock,
		CatchReg: mir.NoReg,
		Finally:  mir.NoBlock,
	}

	if len(x.Catches) != 0 {
		t.CatchReg = s.NewReg()

		var cbrs []*branch

		t.Catch, cbrs = l.lowerCatches(ctx, s, x, t.CatchReg)
		brs = append(brs, cbrs...)
	}

	l.join(ctx, s, b, pre, brs)

	if x.Finally != nil {
		fin := s.NewBlock()

		last := l.lowerStmts(ctx, s, fin, bodyStmts(x.Finally))
		if !fin.Terminated() {
			fin.Append(mir.Yield{Value: val(last)})
		}

		t.Finally = fin.ID
	}

	t.Dest = s.NewReg()
	b.Append(t)

	return t.Dest
}

// lowerCatches returns the block Try enters on error.
// A single catch-all clause is that block itself,
// otherwise clauses are dispatched on the caught value and unmatched values are rethrown.
func (l *Lowerer) lowerCatches(ctx context.Context, s *Scope, x *ast.Try, caught mir.Reg) (mir.BlockID, []*branch) {
	if len(x.Catches) == 1 && x.Catches[0].Pattern == nil {
		c := x.Catches[0]
		br := l.lowerBranch(ctx, s, c.Body, c.Var, caught)

		return br.blk.ID, []*branch{br}
	}

	cb := s.NewBlock()

	md := mir.MatchDispatch{
		Scrutinee: mir.RegRef(caught),
		Default:   mir.NoBlock,
	}

	var brs []*branch

	for _, c := range x.Catches {
		if c.Pattern == nil && md.Default != mir.NoBlock {
			l.warn(ctx, x, "unreachable catch clause")
			continue
		}

		br := l.lowerBranch(ctx, s, c.Body, c.Var, caught)
		brs = append(brs, br)

		if c.Pattern == nil {
			md.Default = br.blk.ID
			continue
		}

		md.Arms = append(md.Arms, mir.MatchArm{
			Pattern: l.pattern(ctx, c.Pattern),
			Block:   br.blk.ID,
		})
	}

	if md.Default == mir.NoBlock {
		rethrow := s.NewBlock()
		rethrow.Append(mir.Throw{Value: mir.RegRef(caught)})

		md.Default = rethrow.ID
	}

	md.Dest = s.NewReg()

	cb.Append(md)
	cb.Append(mir.Yield{Value: mir.RegRef(md.Dest)})

	return cb.ID, brs
}

func (l *Lowerer) lowerBranch(ctx context.Context, s *Scope, body ast.Node, local string, r mir.Reg) *branch {
	br := &branch{
		s:     s.branch(),
		blk:   s.NewBlock(),
		local: local,
	}

	if local != "" {
		br.s.bind(local, r)
	}

	br.last = l.lowerStmts(ctx, br.s, br.blk, bodyStmts(body))

	return br
}

// join finishes branches and merges names they rebound.
// Each such name gets a join register initialised in b before the branching instruction
// and overwritten by Move at the end of every branch that rebound it.
// Names captured by the enclosing closure start from the captured register.
func (l *Lowerer) join(ctx context.Context, s *Scope, b *mir.Block, pre map[string]mir.Reg, brs []*branch) {
	changed := make([][]string, len(brs))
	joins := map[string]mir.Reg{}
	var names []string

	for i, br := range brs {
		if br.blk.Terminated() {
			continue
		}

		for _, name := range br.s.changed(pre) {
			if name == br.local {
				continue
			}

			changed[i] = append(changed[i], name)

			if _, ok := joins[name]; ok {
				continue
			}

			joins[name] = mir.NoReg
			names = append(names, name)
		}
	}

	sort.Strings(names)

	for _, name := range names {
		j := s.NewReg()
		joins[name] = j

		r, ok := pre[name]
		if !ok {
			r, ok = s.lookup(name)
		}

		if ok {
			b.Append(mir.Move{Dest: j, Src: r})
		} else {
			b.Append(mir.LoadImmediate{Dest: j, Value: mir.Null()})
		}
	}

	for i, br := range brs {
		if br.blk.Terminated() {
			continue
		}

		for _, name := range changed[i] {
			br.blk.Append(mir.Move{Dest: joins[name], Src: br.s.vars[name]})
		}

		br.blk.Append(mir.Yield{Value: val(br.last)})
	}

	for _, name := range names {
		s.bind(name, joins[name])
	}

	if len(names) != 0 {
		tlog.SpanFromContext(ctx).V("join").Printw("join", "block", b.ID, "names", names, "branches", len(brs))
	}
}
