package transform

import (
	"context"
	"fmt"

	"github.com/tetratelabs/watzero"
	"github.com/tetratelabs/wazero"

	"playfs/internal/extension"
)

// WAT compiles the WebAssembly text format to a binary module and checks
// that the result compiles.
func WAT() extension.TransformFunc {
	return func(ctx context.Context, tc *extension.Context) (string, error) {
		bin, err := watzero.Wat2Wasm(tc.Source)
		if err != nil {
			return "", fmt.Errorf("compiling text format: %w", err)
		}
		if err := validateWasm(ctx, bin); err != nil {
			return "", err
		}
		return string(bin), nil
	}
}

func validateWasm(ctx context.Context, bin []byte) error {
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)
	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		return fmt.Errorf("invalid module: %w", err)
	}
	transformLogger.Trace("Validated module with %d exported functions", len(compiled.ExportedFunctions()))
	return compiled.Close(ctx)
}
