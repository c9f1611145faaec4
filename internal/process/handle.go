package process

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/comfyx/internal/buildconfig"
)

// Kind names a long-running operation.
type Kind string

const (
	KindBuildAndExport Kind = "BuildAndExport"
	KindCreatePackage  Kind = "CreatePackage"
)

// Operation is one launch request. It carries its own copy of the
// configuration so later edits never leak into a running procedure.
type Operation struct {
	Kind   Kind
	Config buildconfig.Configuration
}

// BuildAndExport archives the project and exports the archive.
func BuildAndExport(cfg buildconfig.Configuration) Operation {
	return Operation{Kind: KindBuildAndExport, Config: cfg.Clone()}
}

// CreatePackage wraps the exported app bundle in a disk image.
func CreatePackage(cfg buildconfig.Configuration) Operation {
	return Operation{Kind: KindCreatePackage, Config: cfg.Clone()}
}

// State is the lifecycle position of a handle.
type State int

const (
	StateRunning State = iota
	StateCompleted
)

func (s State) String() string {
	if s == StateCompleted {
		return "completed"
	}
	return "running"
}

// Status is a point-in-time view of a handle. ExitCode is only meaningful
// once State is StateCompleted.
type Status struct {
	State    State
	ExitCode int
}

// Completed reports whether the operation has finished.
func (s Status) Completed() bool { return s.State == StateCompleted }

// Succeeded reports a completed operation with exit code 0.
func (s Status) Succeeded() bool { return s.Completed() && s.ExitCode == 0 }

// Handle tracks one launched operation.
type Handle struct {
	ID        string
	Kind      Kind
	StartedAt time.Time

	mu       sync.Mutex
	state    State
	exitCode int
	done     chan struct{}
}

func newHandle(kind Kind, started time.Time) *Handle {
	return &Handle{
		ID:        uuid.NewString(),
		Kind:      kind,
		StartedAt: started,
		state:     StateRunning,
		done:      make(chan struct{}),
	}
}

// Poll returns the current status without blocking. Repeated calls after
// completion return the same status.
func (h *Handle) Poll() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Status{State: h.state, ExitCode: h.exitCode}
}

// Done is closed when the operation completes.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the operation completes or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Status, error) {
	select {
	case <-h.done:
		return h.Poll(), nil
	case <-ctx.Done():
		return h.Poll(), ctx.Err()
	}
}

func (h *Handle) complete(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateCompleted {
		return
	}
	h.state = StateCompleted
	h.exitCode = code
	close(h.done)
}
