//go:build !cgo
// +build !cgo

package embedding

import (
	"errors"
)

// ONNXProvider stub type when built without CGO (see onnx.go for real implementation).
type ONNXProvider struct{ Provider }

// NewONNXProvider returns an error when built without CGO (ONNX not available).
func NewONNXProvider(_ string, _, _ int) (*ONNXProvider, error) {
	return nil, errors.New("ONNX provider requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}
