package prescriptions

import "context"

// Observer receives workflow outcomes. Logging and metrics hang off it so the
// service itself stays free of log calls.
type Observer interface {
	TransitionApplied(ctx context.Context, a Actor, p *Prescription, from Status)
	TransitionRejected(ctx context.Context, a Actor, prescriptionID int64, to Status, err error)
	SideEffectFailed(ctx context.Context, what string, prescriptionID int64, err error)
}

type NopObserver struct{}

func (NopObserver) TransitionApplied(context.Context, Actor, *Prescription, Status) {}
func (NopObserver) TransitionRejected(context.Context, Actor, int64, Status, error) {}
func (NopObserver) SideEffectFailed(context.Context, string, int64, error)          {}
