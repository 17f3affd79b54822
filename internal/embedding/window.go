package embedding

import (
	"path/filepath"
	"strings"

	"github.com/hyperjump/kioku/internal/errs"
)

// overWindow reports inputs whose token count exceeds a fixed model window.
func overWindow(tok Tokenizer, inputs []string, window int) error {
	var ce *errs.CapacityError
	for i, in := range inputs {
		n := tok.Count(in)
		if n <= window {
			continue
		}
		if ce == nil {
			ce = &errs.CapacityError{Limit: window}
		}
		ce.Indices = append(ce.Indices, i)
		ce.Counts = append(ce.Counts, n)
	}
	if ce != nil {
		return ce
	}
	return nil
}

// onnxName derives an embedder tag from a model file path.
func onnxName(modelPath string) string {
	base := strings.TrimSuffix(filepath.Base(modelPath), filepath.Ext(modelPath))
	return "onnx_" + strings.NewReplacer("-", "_", ".", "_").Replace(strings.ToLower(base))
}
