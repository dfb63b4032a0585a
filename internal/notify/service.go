// Package notify turns prescription events into per-party notifications.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/medlink/internal/events"
	kafkax "github.com/ariefcatur/medlink/internal/kafka"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

type Notification struct {
	EventID        string    `json:"event_id"`
	RecipientRole  string    `json:"recipient_role"`
	RecipientID    int64     `json:"recipient_id"`
	PrescriptionID int64     `json:"prescription_id"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store saves notifications; saving the same event and recipient twice
// keeps one row.
type Store interface {
	Save(ctx context.Context, ns []Notification) error
}

type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type Service struct {
	Store Store
	Dedup Deduper
	Log   zerolog.Logger
	Now   func() time.Time
}

// HandleMessage is installed as the consumer handler.
func (s *Service) HandleMessage(ctx context.Context, m kafkago.Message) error {
	ev, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		// a payload we can never parse would block the partition forever
		s.Log.Error().Err(err).Str("topic", m.Topic).Msg("dropping undecodable message")
		return nil
	}
	return s.Handle(ctx, ev)
}

func (s *Service) Handle(ctx context.Context, ev events.Envelope) error {
	if s.Dedup != nil {
		seen, err := s.Dedup.Seen(ctx, ev.EventID)
		if err != nil {
			s.Log.Warn().Err(err).Str("event_id", ev.EventID).Msg("dedup lookup failed")
		}
		if seen {
			return nil
		}
	}

	ns, err := Plan(ev)
	if err != nil {
		return err
	}
	if len(ns) > 0 {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		at := now().UTC()
		for i := range ns {
			ns[i].CreatedAt = at
		}
		if err := s.Store.Save(ctx, ns); err != nil {
			return fmt.Errorf("save notifications for %s: %w", ev.EventID, err)
		}
	}

	if s.Dedup != nil {
		if err := s.Dedup.Mark(ctx, ev.EventID); err != nil {
			s.Log.Warn().Err(err).Str("event_id", ev.EventID).Msg("dedup mark failed")
		}
	}
	s.Log.Debug().
		Str("event_id", ev.EventID).
		Str("event_type", ev.EventType).
		Int("notifications", len(ns)).
		Msg("event handled")
	return nil
}

// Plan decides who hears about an event. The party that caused a status
// change is not notified of it.
func Plan(ev events.Envelope) ([]Notification, error) {
	switch ev.EventType {
	case events.EventStatusChanged:
		p, err := events.UnwrapPayload[events.StatusChangedPayload](ev.Payload)
		if err != nil {
			return nil, err
		}
		msg := fmt.Sprintf("Prescription #%d is now %s.", p.PrescriptionID, p.To)
		if p.TimelineText != "" && p.TimelineText != p.To {
			msg = fmt.Sprintf("Prescription #%d: %s", p.PrescriptionID, p.TimelineText)
		}
		var out []Notification
		add := func(role string, id int64) {
			if role == p.ActorRole || id == 0 {
				return
			}
			out = append(out, Notification{
				EventID: ev.EventID, RecipientRole: role, RecipientID: id,
				PrescriptionID: p.PrescriptionID, Message: msg,
			})
		}
		add("patient", p.PatientID)
		add("hospital", p.HospitalID)
		if p.PharmacyID != nil {
			add("pharmacy", *p.PharmacyID)
		}
		return out, nil

	case events.EventPaymentReceived:
		p, err := events.UnwrapPayload[events.PaymentReceivedPayload](ev.Payload)
		if err != nil {
			return nil, err
		}
		out := []Notification{{
			EventID: ev.EventID, RecipientRole: "patient", RecipientID: p.PatientID, PrescriptionID: p.PrescriptionID,
			Message: fmt.Sprintf("Payment of %s %s confirmed. Your order reference is %s.", p.Currency, p.Amount, p.OrderReference),
		}}
		if p.PharmacyID != nil {
			out = append(out, Notification{
				EventID: ev.EventID, RecipientRole: "pharmacy", RecipientID: *p.PharmacyID, PrescriptionID: p.PrescriptionID,
				Message: fmt.Sprintf("Order %s paid (%s %s via %s). Prepare prescription #%d.",
					p.OrderReference, p.Currency, p.Amount, p.Channel, p.PrescriptionID),
			})
		}
		return out, nil
	}
	return nil, nil
}
