//go:build !windows

package codegen

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xplshn/kaleido/pkg/config"
	"modernc.org/libqbe"
)

// AssembleQBE compiles QBE IL to assembly for cfg.QbeTarget in process.
func AssembleQBE(qbeIR string, cfg *config.Config) (*bytes.Buffer, error) {
	var asmBuf bytes.Buffer
	if err := libqbe.Main(cfg.QbeTarget, "input.ssa", strings.NewReader(qbeIR), &asmBuf, nil); err != nil {
		return nil, fmt.Errorf("\n--- QBE Compilation Failed ---\nGenerated IR:\n%s\n\nlibqbe error: %w", qbeIR, err)
	}
	return &asmBuf, nil
}
