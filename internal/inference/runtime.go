//go:build cgo

package inference

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	runtimeMu   sync.Mutex
	runtimeInit bool
)

// InitRuntime loads the ONNX Runtime shared library once per process.
// An empty libraryPath leaves the platform default in place.
func InitRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeInit {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		if err.Error() != "the ONNX runtime is already initialized" {
			return fmt.Errorf("%w: failed to initialize ONNX runtime: %v", ErrModelUnavailable, err)
		}
	}
	runtimeInit = true
	return nil
}

// ShutdownRuntime releases the ONNX Runtime environment.
func ShutdownRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !runtimeInit {
		return nil
	}
	runtimeInit = false
	return ort.DestroyEnvironment()
}
