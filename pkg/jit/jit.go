// Package jit loads generated units and runs functions from them.
package jit

import (
	"context"
	"errors"
	"fmt"

	"github.com/xplshn/kaleido/pkg/ir"
)

var (
	ErrSymbolNotFound = errors.New("symbol not found")
	ErrUnknownHandle  = errors.New("unknown unit handle")
	ErrStackOverflow  = errors.New("call depth exceeded")
)

// Handle identifies a loaded unit.
type Handle int

// Engine is the load/lookup/execute/unload facility used by a session.
type Engine interface {
	Load(unit *ir.Program) (Handle, error)
	// Lookup reports whether name resolves to a defined function.
	Lookup(name string) error
	// Call runs the nullary function name and returns its result.
	Call(ctx context.Context, name string) (float64, error)
	Unload(h Handle) error
	Close() error
}

// units is the set of loaded units, kept in load order so that later
// definitions win when they are linked together.
type units struct {
	next   Handle
	order  []Handle
	loaded map[Handle]*ir.Program
	linked *ir.Program // nil after every load or unload
}

func newUnits() units { return units{loaded: make(map[Handle]*ir.Program)} }

func (u *units) load(unit *ir.Program) Handle {
	u.next++
	u.loaded[u.next] = unit
	u.order = append(u.order, u.next)
	u.linked = nil
	return u.next
}

func (u *units) unload(h Handle) error {
	if _, ok := u.loaded[h]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	delete(u.loaded, h)
	for i, o := range u.order {
		if o == h {
			u.order = append(u.order[:i], u.order[i+1:]...)
			break
		}
	}
	u.linked = nil
	return nil
}

func (u *units) link() *ir.Program {
	if u.linked == nil {
		progs := make([]*ir.Program, 0, len(u.order))
		for _, h := range u.order {
			progs = append(progs, u.loaded[h])
		}
		u.linked = ir.Link(progs...)
	}
	return u.linked
}

// definition returns the body name resolves to once every loaded unit is
// linked, or nil when the name is only declared.
func (u *units) definition(name string) *ir.Func {
	if fn := u.link().FindFunc(name); fn != nil && !fn.IsDeclaration() {
		return fn
	}
	return nil
}
