package lower

import (
	"sort"

	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/mirsh/compiler/mir"
)

type (
	pkgContext struct {
		*mir.Program

		l *Lowerer
	}

	funContext struct {
		*mir.Func
	}

	// Scope maps names to registers for the code being lowered.
	// Rebinding a name never touches the register the old binding pointed to.
	Scope struct {
		*pkgContext
		*funContext

		vars map[string]mir.Reg

		closure *closureContext
	}

	// closureContext is shared by every scope of one closure body.
	// Names the body reads from enclosing scopes are captured here on first use.
	closureContext struct {
		par *Scope

		bound    map[string]mir.Reg
		captures []mir.Capture
	}
)

func funcScope(p *pkgContext, f *mir.Func) *Scope {
	return &Scope{
		pkgContext: p,
		funContext: &funContext{Func: f},
		vars:       make(map[string]mir.Reg),
	}
}

// closureScope starts a closure body. The enclosing scope s stays untouched.
func (s *Scope) closureScope() *Scope {
	return &Scope{
		pkgContext: s.pkgContext,
		funContext: s.funContext,
		vars:       make(map[string]mir.Reg),
		closure: &closureContext{
			par:   s,
			bound: make(map[string]mir.Reg),
		},
	}
}

// branch is a scope for a nested block executed conditionally in the same frame.
func (s *Scope) branch() *Scope {
	return &Scope{
		pkgContext: s.pkgContext,
		funContext: s.funContext,
		vars:       s.snapshot(),
		closure:    s.closure,
	}
}

func (s *Scope) snapshot() map[string]mir.Reg {
	vars := make(map[string]mir.Reg, len(s.vars))

	for name, r := range s.vars {
		vars[name] = r
	}

	return vars
}

func (s *Scope) lookup(name string) (mir.Reg, bool) {
	if r, ok := s.vars[name]; ok {
		return r, true
	}

	c := s.closure
	if c == nil {
		return mir.NoReg, false
	}

	if r, ok := c.bound[name]; ok {
		return r, true
	}

	outer, ok := c.par.lookup(name)
	if !ok {
		return mir.NoReg, false
	}

	r := c.capture(s, name, mir.RegRef(outer))

	tlog.V("capture").Printw("implicit capture", "name", name, "outer", outer, "reg", r, "from", loc.Callers(1, 2))

	return r, true
}

func (s *Scope) bind(name string, r mir.Reg) {
	tlog.V("bind").Printw("bind", "name", name, "reg", r, "func", s.Func.Name, "from", loc.Callers(1, 2))

	s.vars[name] = r
}

func (c *closureContext) capture(s *Scope, name string, v mir.Value) mir.Reg {
	r := s.NewReg()

	c.bound[name] = r
	c.captures = append(c.captures, mir.Capture{
		Value: v,
		Reg:   r,
	})

	return r
}

// changed lists names rebound in s compared to pre, sorted.
func (s *Scope) changed(pre map[string]mir.Reg) []string {
	var l []string

	for name, r := range s.vars {
		if old, ok := pre[name]; ok && old == r {
			continue
		}

		l = append(l, name)
	}

	sort.Strings(l)

	return l
}
