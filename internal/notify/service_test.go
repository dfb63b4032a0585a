package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/medlink/internal/events"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	rows []Notification
	err  error
}

func (m *memStore) Save(_ context.Context, ns []Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, ns...)
	return nil
}

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDedup) Seen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id], nil
}

func (d *memDedup) Mark(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[id] = true
	return nil
}

func statusEvent(t *testing.T, actor string, pharmacy *int64) events.Envelope {
	t.Helper()
	ev, err := events.New(context.Background(), events.EventStatusChanged, "medlink", 5, events.StatusChangedPayload{
		PrescriptionID: 5, PatientID: 1, HospitalID: 2, PharmacyID: pharmacy,
		From: "Submitted by patient", To: "Hospital reviewing", ActorRole: actor, TimelineText: "Hospital reviewing",
	})
	require.NoError(t, err)
	return ev
}

func TestPlan_StatusChangedSkipsActor(t *testing.T) {
	ns, err := Plan(statusEvent(t, "hospital", nil))
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, "patient", ns[0].RecipientRole)
	assert.Equal(t, int64(1), ns[0].RecipientID)
	assert.Equal(t, "Prescription #5 is now Hospital reviewing.", ns[0].Message)

	pharmacy := int64(3)
	ns, err = Plan(statusEvent(t, "system", &pharmacy))
	require.NoError(t, err)
	assert.Len(t, ns, 3)
}

func TestPlan_PaymentReceived(t *testing.T) {
	pharmacy := int64(3)
	ev, err := events.New(context.Background(), events.EventPaymentReceived, "medlink", 5, events.PaymentReceivedPayload{
		PrescriptionID: 5, PatientID: 1, PharmacyID: &pharmacy,
		OrderReference: "ORD-2025-001", Amount: "21.53", Currency: "GHS", Channel: "card",
	})
	require.NoError(t, err)

	ns, err := Plan(ev)
	require.NoError(t, err)
	require.Len(t, ns, 2)
	assert.Equal(t, "Payment of GHS 21.53 confirmed. Your order reference is ORD-2025-001.", ns[0].Message)
	assert.Equal(t, "pharmacy", ns[1].RecipientRole)
	assert.Contains(t, ns[1].Message, "ORD-2025-001")
}

func TestPlan_UnknownEventIgnored(t *testing.T) {
	ns, err := Plan(events.Envelope{EventType: "SomethingElse"})
	require.NoError(t, err)
	assert.Empty(t, ns)
}

func TestHandle_Dedup(t *testing.T) {
	store := &memStore{}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := &Service{Store: store, Dedup: &memDedup{seen: map[string]bool{}}, Log: zerolog.Nop(), Now: func() time.Time { return now }}
	ev := statusEvent(t, "hospital", nil)

	require.NoError(t, svc.Handle(context.Background(), ev))
	require.NoError(t, svc.Handle(context.Background(), ev))

	require.Len(t, store.rows, 1)
	assert.Equal(t, now, store.rows[0].CreatedAt)
	assert.Equal(t, ev.EventID, store.rows[0].EventID)
}

func TestHandle_SaveFailureIsRetried(t *testing.T) {
	store := &memStore{err: errors.New("db down")}
	dedup := &memDedup{seen: map[string]bool{}}
	svc := &Service{Store: store, Dedup: dedup, Log: zerolog.Nop()}
	ev := statusEvent(t, "hospital", nil)

	require.Error(t, svc.Handle(context.Background(), ev))
	assert.False(t, dedup.seen[ev.EventID], "failed events are not marked")

	store.err = nil
	require.NoError(t, svc.Handle(context.Background(), ev))
	assert.Len(t, store.rows, 1)
}

func TestHandleMessage_DropsGarbage(t *testing.T) {
	store := &memStore{}
	svc := &Service{Store: store, Log: zerolog.Nop()}

	assert.NoError(t, svc.HandleMessage(context.Background(), kafkago.Message{Value: []byte("not json")}))
	assert.Empty(t, store.rows)

	b, err := json.Marshal(statusEvent(t, "patient", nil))
	require.NoError(t, err)
	require.NoError(t, svc.HandleMessage(context.Background(), kafkago.Message{Value: b}))
	assert.Len(t, store.rows, 1, "hospital hears about the patient's change")
}
