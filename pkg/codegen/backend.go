package codegen

import (
	"github.com/xplshn/kaleido/pkg/config"
	"github.com/xplshn/kaleido/pkg/ir"
)

// Backend turns IR units into target code.
type Backend interface {
	// GenerateIR renders prog in the backend's textual intermediate language.
	GenerateIR(prog *ir.Program, cfg *config.Config) (string, error)
}
