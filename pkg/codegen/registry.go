package codegen

import (
	"github.com/xplshn/kaleido/pkg/ast"
	"github.com/xplshn/kaleido/pkg/token"
)

// Entry is the latest prototype seen for a name. Defined records whether a
// body was successfully generated for it.
type Entry struct {
	Proto   ast.PrototypeNode
	Tok     token.Token
	Defined bool
}

// Registry holds every prototype seen by a session, so units generated later
// can call functions that live in units already handed to the engine.
type Registry struct {
	entries map[string]*Entry
}

func NewRegistry() *Registry { return &Registry{entries: make(map[string]*Entry)} }

func (r *Registry) Lookup(name string) (*Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Set installs proto under its name, replacing any previous entry. The
// Defined flag of the previous entry is carried over when keepDefined is set.
func (r *Registry) Set(proto ast.PrototypeNode, tok token.Token, keepDefined bool) *Entry {
	e := &Entry{Proto: proto, Tok: tok}
	if old, ok := r.entries[proto.Name]; ok && keepDefined {
		e.Defined = old.Defined
	}
	r.entries[proto.Name] = e
	return e
}

// SetDefined records whether name has a body loaded in the engine.
func (r *Registry) SetDefined(name string, defined bool) {
	if e, ok := r.entries[name]; ok {
		e.Defined = defined
	}
}

func (r *Registry) Delete(name string) { delete(r.entries, name) }
