package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ariefcatur/medlink/internal/checkout"
	"github.com/ariefcatur/medlink/internal/events"
	"github.com/ariefcatur/medlink/internal/prescriptions"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var m map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &m))
	return m
}

func TestNewWithWriter_Level(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "production", "warn", "medlink")
	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("shown")
	m := lastLine(t, &buf)
	assert.Equal(t, "shown", m["message"])
	assert.Equal(t, "medlink", m["service"])
}

func TestObserver_TransitionApplied(t *testing.T) {
	var buf bytes.Buffer
	o := NewObserver(NewWithWriter(&buf, "production", "info", "medlink"))
	ctx := events.WithTraceID(context.Background(), "req-9")

	o.TransitionApplied(ctx, prescriptions.Actor{ID: 2, Role: prescriptions.RoleHospital},
		&prescriptions.Prescription{ID: 5, Status: prescriptions.StatusHospitalReviewing}, prescriptions.StatusSubmitted)

	m := lastLine(t, &buf)
	assert.Equal(t, "status changed", m["message"])
	assert.Equal(t, "req-9", m["request_id"])
	assert.Equal(t, "Hospital reviewing", m["to"])
	assert.EqualValues(t, 5, m["prescription_id"])
}

func TestObserver_FailureLevels(t *testing.T) {
	var buf bytes.Buffer
	o := NewObserver(NewWithWriter(&buf, "production", "debug", "medlink"))
	req := checkout.Request{PrescriptionID: 5, TransactionReference: "ref"}

	o.CheckoutFailed(context.Background(), req, checkout.ErrAmountMismatch)
	assert.Equal(t, "warn", lastLine(t, &buf)["level"])

	o.CheckoutFailed(context.Background(), req, errors.New("connection reset"))
	assert.Equal(t, "error", lastLine(t, &buf)["level"])

	o.CheckoutCompleted(context.Background(), req, &checkout.Result{OrderReference: "ORD-2025-001", Amount: decimal.RequireFromString("21.53")})
	m := lastLine(t, &buf)
	assert.Equal(t, "21.53", m["amount"])
	assert.Equal(t, "ORD-2025-001", m["order_reference"])
}
