package users

import (
	"context"

	"github.com/angelmondragon/storefront-user-service/pkg/logger"
)

// DivergenceCounter counts operations that left the two systems of record apart.
type DivergenceCounter interface {
	IncDivergence(operation string)
}

// Divergence describes one such operation: which side committed and which did not.
type Divergence struct {
	SubjectID  string
	Operation  string
	IdPState   string
	LocalState string
	Err        error
}

// DivergenceRecorder logs identity.divergence events for manual reconciliation.
type DivergenceRecorder struct {
	logg    *logger.Logger
	counter DivergenceCounter
}

// NewDivergenceRecorder builds a recorder. Either dependency may be nil.
func NewDivergenceRecorder(logg *logger.Logger, counter DivergenceCounter) *DivergenceRecorder {
	return &DivergenceRecorder{logg: logg, counter: counter}
}

// Record emits the event. It is safe on a nil recorder.
func (r *DivergenceRecorder) Record(ctx context.Context, d Divergence) {
	if r == nil {
		return
	}
	if r.counter != nil {
		r.counter.IncDivergence(d.Operation)
	}
	if r.logg == nil {
		return
	}
	ctx = r.logg.WithFields(ctx, map[string]any{
		"subject_id":  d.SubjectID,
		"operation":   d.Operation,
		"idp_state":   d.IdPState,
		"local_state": d.LocalState,
	})
	r.logg.Error(ctx, "identity.divergence", d.Err)
}
