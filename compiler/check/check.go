package check

import (
	"context"
	"fmt"
	"strings"

	"nikand.dev/go/heap"
	"tlog.app/go/tlog"

	"github.com/slowlang/mirsh/compiler/mir"
	"github.com/slowlang/mirsh/compiler/set"
)

type (
	// Problem is a structural defect in a program.
	Problem struct {
		Func  string
		Block mir.BlockID
		Instr int
		Msg   string
	}

	// Problems is returned by Program when anything is wrong.
	Problems []Problem

	// Report is what Program found besides problems.
	Report struct {
		Unreachable map[string][]mir.BlockID
	}

	blockKind int

	job struct {
		id   mir.BlockID
		kind blockKind
	}

	checker struct {
		p *mir.Program
		f *mir.Func

		probs Problems
	}
)

const (
	funcBody blockKind = iota
	closureBody
	nested
)

// Program checks the invariants the executor relies on:
// every block is terminated and has no code after its terminator,
// registers and blocks referenced exist, short-circuit skips stay in their block,
// Yield ends only nested blocks and every register read is written somewhere.
func Program(ctx context.Context, p *mir.Program) (rep Report, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "check: program", "funcs", len(p.Order))
	defer tr.Finish("err", &err)

	c := &checker{p: p}

	if p.Main() == nil {
		c.problem(mir.NoBlock, -1, "no %v function", mir.MainFunc)
	}

	for _, name := range p.Order {
		f, ok := p.Funcs[name]
		if !ok {
			c.f = nil
			c.problem(mir.NoBlock, -1, "function %v is in order but not defined", name)
			continue
		}

		c.f = f

		unr := c.function()
		if len(unr) == 0 {
			continue
		}

		if rep.Unreachable == nil {
			rep.Unreachable = make(map[string][]mir.BlockID)
		}

		rep.Unreachable[name] = unr

		tr.V("unreachable").Printw("unreachable blocks", "func", name, "blocks", unr)
	}

	if len(c.probs) != 0 {
		return rep, c.probs
	}

	return rep, nil
}

// function checks c.f and returns blocks not reachable from its entry.
func (c *checker) function() []mir.BlockID {
	f := c.f

	if len(f.ParamRegs) != len(f.Params) {
		c.problem(mir.NoBlock, -1, "%d params but %d param registers", len(f.Params), len(f.ParamRegs))
	}

	written := set.MakeBits[mir.Reg](f.NumRegs)
	written.SetAll(f.ParamRegs...)

	for _, b := range f.Blocks {
		for _, x := range b.Code {
			c.writes(&written, x)
		}
	}

	seen := set.MakeBits[mir.BlockID](len(f.Blocks))
	jobs := heap.Heap[job]{Less: func(d []job, i, j int) bool {
		return d[i].id < d[j].id
	}}

	if f.Block(f.Entry) == nil {
		c.problem(f.Entry, -1, "entry block doesn't exist")
		return nil
	}

	jobs.Push(job{id: f.Entry, kind: funcBody})

	for jobs.Len() != 0 {
		j := jobs.Pop()

		if !seen.Add(j.id) {
			c.problem(j.id, -1, "block entered from more than one place")
			continue
		}

		b := f.Block(j.id)

		for _, ref := range c.block(b, j.kind, &written) {
			if f.Block(ref.id) == nil {
				continue
			}

			jobs.Push(ref)
		}
	}

	tlog.V("check_blocks").Printw("visited blocks", "func", f.Name, "blocks", seen)

	if seen.Size() == len(f.Blocks) {
		return nil
	}

	var unr []mir.BlockID

	for _, b := range f.Blocks {
		if !seen.IsSet(b.ID) {
			unr = append(unr, b.ID)
		}
	}

	return unr
}

// block checks b and returns the blocks it enters.
func (c *checker) block(b *mir.Block, kind blockKind, written *set.Bits[mir.Reg]) (refs []job) {
	if len(b.Code) == 0 {
		c.problem(b.ID, -1, "empty block")
		return nil
	}

	for i, x := range b.Code {
		last := i == len(b.Code)-1

		if mir.IsTerminator(x) != last {
			if last {
				c.problem(b.ID, i, "block is not terminated")
			} else {
				c.problem(b.ID, i, "%T before the end of block", x)
			}
		}

		out, in := mir.Operands(x)

		if out != mir.NoReg {
			c.reg(b.ID, i, out)
		}

		for _, v := range in {
			if !v.IsReg() {
				continue
			}

			c.reg(b.ID, i, v.Reg())

			if !written.IsSet(v.Reg()) {
				c.problem(b.ID, i, "%v is read but never written", v.Reg())
			}
		}

		switch x := x.(type) {
		case mir.AndSC:
			c.skip(b, i, x.Skip)
		case mir.OrSC:
			c.skip(b, i, x.Skip)
		case mir.Yield:
			if kind != nested {
				c.problem(b.ID, i, "yield outside of a nested block")
			}
		case mir.ClosureCreate:
			if len(x.Params) != len(x.ParamNames) {
				c.problem(b.ID, i, "closure: %d param registers but %d names", len(x.Params), len(x.ParamNames))
			}

			for _, r := range x.Params {
				c.reg(b.ID, i, r)
			}

			refs = append(refs, c.ref(b.ID, i, x.Block, closureBody))
		case mir.MatchDispatch:
			for _, a := range x.Arms {
				refs = append(refs, c.ref(b.ID, i, a.Block, nested))
			}

			if x.Default != mir.NoBlock {
				refs = append(refs, c.ref(b.ID, i, x.Default, nested))
			}
		case mir.Try:
			refs = append(refs, c.ref(b.ID, i, x.Body, nested))

			if x.Catch != mir.NoBlock {
				if x.CatchReg == mir.NoReg {
					c.problem(b.ID, i, "catch block without catch register")
				}

				refs = append(refs, c.ref(b.ID, i, x.Catch, nested))
			}

			if x.Finally != mir.NoBlock {
				refs = append(refs, c.ref(b.ID, i, x.Finally, nested))
			}
		}
	}

	return refs
}

func (c *checker) writes(w *set.Bits[mir.Reg], x mir.Instr) {
	out, _ := mir.Operands(x)
	if out >= 0 {
		w.Set(out)
	}

	switch x := x.(type) {
	case mir.ClosureCreate:
		for _, cp := range x.Captures {
			if cp.Reg >= 0 {
				w.Set(cp.Reg)
			}
		}

		for _, r := range x.Params {
			if r >= 0 {
				w.Set(r)
			}
		}
	case mir.Try:
		if x.CatchReg >= 0 {
			w.Set(x.CatchReg)
		}
	}
}

func (c *checker) reg(b mir.BlockID, i int, r mir.Reg) {
	if r < 0 || int(r) >= c.f.NumRegs {
		c.problem(b, i, "register %v out of range [0, %d)", r, c.f.NumRegs)
	}
}

func (c *checker) ref(b mir.BlockID, i int, id mir.BlockID, kind blockKind) job {
	switch {
	case c.f.Block(id) == nil:
		c.problem(b, i, "reference to missing block %d", id)
	case id == c.f.Entry:
		c.problem(b, i, "reference to entry block")
	}

	return job{id: id, kind: kind}
}

func (c *checker) skip(b *mir.Block, i, n int) {
	if n < 0 || i+n+1 >= len(b.Code) {
		c.problem(b.ID, i, "skip %d leaves the block", n)
	}
}

func (c *checker) problem(b mir.BlockID, i int, format string, args ...any) {
	p := Problem{
		Block: b,
		Instr: i,
		Msg:   fmt.Sprintf(format, args...),
	}

	if c.f != nil {
		p.Func = c.f.Name
	}

	c.probs = append(c.probs, p)
}

func (p Problem) String() string {
	switch {
	case p.Func == "":
		return p.Msg
	case p.Block == mir.NoBlock:
		return fmt.Sprintf("%s: %s", p.Func, p.Msg)
	case p.Instr < 0:
		return fmt.Sprintf("%s.b%d: %s", p.Func, p.Block, p.Msg)
	default:
		return fmt.Sprintf("%s.b%d:%d: %s", p.Func, p.Block, p.Instr, p.Msg)
	}
}

func (ps Problems) Error() string {
	var b strings.Builder

	for i, p := range ps {
		if i != 0 {
			b.WriteString("\n")
		}

		b.WriteString(p.String())
	}

	return b.String()
}
