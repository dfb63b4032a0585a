// Package logx builds the service logger and the zerolog backed observers
// the domain services report to.
package logx

import (
	"context"
	"io"
	"os"

	"github.com/ariefcatur/medlink/internal/checkout"
	"github.com/ariefcatur/medlink/internal/events"
	"github.com/ariefcatur/medlink/internal/prescriptions"
	"github.com/rs/zerolog"
)

func New(env, level, service string) zerolog.Logger {
	return NewWithWriter(os.Stdout, env, level, service)
}

func NewWithWriter(w io.Writer, env, level, service string) zerolog.Logger {
	if env == "development" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", service).Logger()
}

// Observer logs workflow and checkout outcomes.
type Observer struct {
	log zerolog.Logger
}

func NewObserver(log zerolog.Logger) *Observer { return &Observer{log: log} }

func (o *Observer) with(ctx context.Context) *zerolog.Logger {
	l := o.log
	if id := events.TraceID(ctx); id != "" {
		l = l.With().Str("request_id", id).Logger()
	}
	return &l
}

func (o *Observer) TransitionApplied(ctx context.Context, a prescriptions.Actor, p *prescriptions.Prescription, from prescriptions.Status) {
	o.with(ctx).Info().
		Int64("prescription_id", p.ID).
		Str("actor_role", string(a.Role)).
		Int64("actor_id", a.ID).
		Str("from", string(from)).
		Str("to", string(p.Status)).
		Msg("status changed")
}

func (o *Observer) TransitionRejected(ctx context.Context, a prescriptions.Actor, prescriptionID int64, to prescriptions.Status, err error) {
	evt := o.with(ctx).Warn()
	if !prescriptions.IsBusinessError(err) {
		evt = o.with(ctx).Error()
	}
	evt.Err(err).
		Int64("prescription_id", prescriptionID).
		Str("actor_role", string(a.Role)).
		Int64("actor_id", a.ID).
		Str("to", string(to)).
		Msg("status change rejected")
}

func (o *Observer) CheckoutCompleted(ctx context.Context, req checkout.Request, res *checkout.Result) {
	o.with(ctx).Info().
		Int64("prescription_id", req.PrescriptionID).
		Int64("patient_id", req.PatientID).
		Str("reference", req.TransactionReference).
		Str("order_reference", res.OrderReference).
		Str("amount", res.Amount.StringFixed(2)).
		Str("currency", res.Currency).
		Bool("idempotent", res.Idempotent).
		Msg("checkout completed")
}

func (o *Observer) CheckoutFailed(ctx context.Context, req checkout.Request, err error) {
	evt := o.with(ctx).Warn()
	if !checkout.IsBusinessError(err) {
		evt = o.with(ctx).Error()
	}
	evt.Err(err).
		Int64("prescription_id", req.PrescriptionID).
		Int64("patient_id", req.PatientID).
		Str("reference", req.TransactionReference).
		Msg("checkout failed")
}

func (o *Observer) SideEffectFailed(ctx context.Context, what string, prescriptionID int64, err error) {
	o.with(ctx).Warn().Err(err).
		Int64("prescription_id", prescriptionID).
		Str("side_effect", what).
		Msg("post-commit step failed")
}
