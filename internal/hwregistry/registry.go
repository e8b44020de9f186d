// Package hwregistry is a process-wide, reference-counted cache of
// hardware-acceleration device contexts shared between the video encoder
// and decoder, keyed by accelerator name.
package hwregistry

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/asticode/go-astiav"

	"github.com/airan-project/airan/internal/logging"
)

// nameToDeviceType maps every accelerator name the pipelines probe to
// its FFmpeg device type.
var nameToDeviceType = map[string]astiav.HardwareDeviceType{
	"qsv":          astiav.HardwareDeviceTypeQSV,
	"nvenc":        astiav.HardwareDeviceTypeCUDA,
	"amf":          astiav.HardwareDeviceTypeD3D11VA,
	"videotoolbox": astiav.HardwareDeviceTypeVideoToolbox,
	"v4l2":         astiav.HardwareDeviceTypeDRM,
	"rkmpp":        astiav.HardwareDeviceTypeDRM,
}

// CandidatesForPlatform returns the accelerator names worth probing on
// the running OS, in priority order.
func CandidatesForPlatform() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"qsv", "nvenc", "amf"}
	case "darwin":
		return []string{"videotoolbox"}
	case "linux":
		return []string{"qsv", "nvenc", "v4l2", "rkmpp"}
	default:
		return nil
	}
}

type entry struct {
	ctx  *astiav.HardwareDeviceContext
	refs int
}

// Registry is safe for concurrent use; one process-wide instance (Shared)
// is normally sufficient, matching HardwareContextManager::instance().
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New constructs an empty Registry. Most callers should use Shared.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Shared is the process-wide registry instance, constructed once and
// visible rather than hidden behind a static initialiser.
var Shared = New()

// Acquire returns a reference-counted handle to the device context for
// name, creating it on first use. Callers must call Release with the same
// name exactly once per successful Acquire.
func (r *Registry) Acquire(name string) (*astiav.HardwareDeviceContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[name]; ok {
		e.refs++
		return e.ctx, nil
	}

	deviceType, ok := nameToDeviceType[name]
	if !ok || deviceType == astiav.HardwareDeviceTypeNone {
		return nil, fmt.Errorf("hwregistry: unknown or unsupported accelerator %q", name)
	}

	ctx, err := astiav.CreateHardwareDeviceContext(deviceType, "", nil, 0)
	if err != nil {
		return nil, fmt.Errorf("hwregistry: create device context for %q: %w", name, err)
	}

	r.entries[name] = &entry{ctx: ctx, refs: 1}
	logging.Debug("hwregistry: created shared device context for %s", name)
	return ctx, nil
}

// Release drops one reference to name's device context, freeing the
// underlying AVBufferRef once the last holder releases it.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}

	e.ctx.Free()
	delete(r.entries, name)
	logging.Debug("hwregistry: freed shared device context for %s", name)
}

// RefCount reports the current reference count for name (0 if absent),
// exposed for tests.
func (r *Registry) RefCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		return e.refs
	}
	return 0
}
