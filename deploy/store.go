// Package deploy holds the single in-flight deployment handed from the
// caller to the console tab.
package deploy

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ajolex/surveycto-vc-agent/types"
)

// MsgNoDeployment is the error text for a missing or foreign deployment.
const MsgNoDeployment = "No deployment in progress"

// ErrNoActiveDeployment is returned by RetrieveIfOwner when nothing is
// staged or the caller is not the bound tab.
var ErrNoActiveDeployment = types.NewError(types.ErrorNoActiveDeployment, MsgNoDeployment, nil)

// Store is the deployment handoff buffer.
type Store interface {
	// Stage replaces whatever is in the slot. The previous binding and
	// result are discarded.
	Stage(payload types.DeploymentPayload, meta types.DeploymentMetadata) *types.DeploymentContext
	// BindTarget records the tab that will consume the staged payload.
	BindTarget(tabID types.TabID)
	// RetrieveIfOwner returns the staged deployment if tabID is its bound
	// target, ErrNoActiveDeployment otherwise.
	RetrieveIfOwner(tabID types.TabID) (*types.DeploymentContext, error)
	// RecordResult attaches an outcome. The payload stays in place.
	RecordResult(success bool, message string) *types.DeploymentContext
	// Query returns a copy of the slot, or nil when no payload is staged.
	Query() *types.DeploymentContext
	// ReleaseTab empties the slot if tabID is the bound target.
	ReleaseTab(tabID types.TabID) bool
}

// Slot is the in-memory Store. All methods are safe for concurrent use and
// return copies, never the slot itself.
type Slot struct {
	clock clockwork.Clock
	newID func() string

	mu  sync.Mutex
	cur *types.DeploymentContext
}

// Option configures a Slot.
type Option func(*Slot)

// WithClock sets the clock used for staging and completion times.
func WithClock(c clockwork.Clock) Option {
	return func(s *Slot) { s.clock = c }
}

// WithIDFunc overrides deployment id generation.
func WithIDFunc(f func() string) Option {
	return func(s *Slot) { s.newID = f }
}

// NewSlot creates an empty Slot.
func NewSlot(opts ...Option) *Slot {
	s := &Slot{clock: clockwork.NewRealClock(), newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stage implements Store.
func (s *Slot) Stage(payload types.DeploymentPayload, meta types.DeploymentMetadata) *types.DeploymentContext {
	d := &types.DeploymentContext{
		ID:       s.newID(),
		Payload:  payload,
		Metadata: meta,
		StagedAt: s.clock.Now().UTC(),
	}
	s.mu.Lock()
	s.cur = d
	s.mu.Unlock()
	return d.Clone()
}

// BindTarget implements Store. It is a no-op when nothing is staged.
func (s *Slot) BindTarget(tabID types.TabID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		s.cur.TargetTabID = tabID
	}
}

// RetrieveIfOwner implements Store.
func (s *Slot) RetrieveIfOwner(tabID types.TabID) (*types.DeploymentContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || len(s.cur.Payload.FileBlob) == 0 || !s.cur.Bound() || s.cur.TargetTabID != tabID {
		return nil, ErrNoActiveDeployment
	}
	return s.cur.Clone(), nil
}

// RecordResult implements Store. It returns the updated deployment, or nil
// when nothing is staged.
func (s *Slot) RecordResult(success bool, message string) *types.DeploymentContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil
	}
	s.cur.Result = &types.DeploymentResult{
		Success:     success,
		Message:     message,
		CompletedAt: s.clock.Now().UTC(),
	}
	return s.cur.Clone()
}

// Query implements Store.
func (s *Slot) Query() *types.DeploymentContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || len(s.cur.Payload.FileBlob) == 0 {
		return nil
	}
	return s.cur.Clone()
}

// ReleaseTab implements Store.
func (s *Slot) ReleaseTab(tabID types.TabID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || !s.cur.Bound() || s.cur.TargetTabID != tabID {
		return false
	}
	s.cur = nil
	return true
}

var _ Store = (*Slot)(nil)
