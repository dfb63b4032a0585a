package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	EventStatusChanged   = "PrescriptionStatusChanged"
	EventPaymentReceived = "PrescriptionPaymentReceived"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // prescription id
	Payload       json.RawMessage `json:"payload"`
}

type StatusChangedPayload struct {
	PrescriptionID int64  `json:"prescription_id"`
	PatientID      int64  `json:"patient_id"`
	HospitalID     int64  `json:"hospital_id"`
	PharmacyID     *int64 `json:"pharmacy_id,omitempty"`
	From           string `json:"from"`
	To             string `json:"to"`
	ActorRole      string `json:"actor_role"`
	TimelineText   string `json:"timeline_text"`
}

type PaymentReceivedPayload struct {
	PrescriptionID int64  `json:"prescription_id"`
	PatientID      int64  `json:"patient_id"`
	PharmacyID     *int64 `json:"pharmacy_id,omitempty"`
	OrderID        int64  `json:"order_id"`
	OrderReference string `json:"order_reference"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Channel        string `json:"channel"`
}

// Publisher delivers envelopes after the producing transaction committed.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, ev Envelope) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, []byte, Envelope) error { return nil }

type traceKey struct{}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func TraceID(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}

func New(ctx context.Context, eventType, producer string, prescriptionID int64, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       TraceID(ctx),
		CorrelationID: strconv.FormatInt(prescriptionID, 10),
		Payload:       b,
	}, nil
}

func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
