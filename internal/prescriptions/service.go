package prescriptions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/medlink/internal/events"
	"github.com/shopspring/decimal"
)

type Service struct {
	store     Store
	cache     StatusCache
	publisher events.Publisher
	observer  Observer
	producer  string
	now       func() time.Time
}

type Option func(*Service)

// WithStatusCache sets the read-through status cache. A nil cache keeps
// the no-op default.
func WithStatusCache(c StatusCache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }

// WithPublisher sets where committed transitions are announced; producer
// names this service inside event envelopes.
func WithPublisher(p events.Publisher, producer string) Option {
	return func(s *Service) {
		s.publisher = p
		s.producer = producer
	}
}

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		cache:     nopCache{},
		publisher: events.NopPublisher{},
		observer:  NopObserver{},
		producer:  "medlink",
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// TransitionRequest carries the role specific extras of one status change.
type TransitionRequest struct {
	PrescriptionID        int64
	Status                Status
	ClarificationMessage  string
	ClarificationResponse string
	TimelineText          string
	// MedicinePrices maps medicine line id to the price a pharmacy quotes.
	MedicinePrices map[int64]decimal.Decimal
}

// ApplyTransition validates and applies one status change for actor a.
// The prescription update, any price updates and the timeline row are
// written in one transaction.
func (s *Service) ApplyTransition(ctx context.Context, a Actor, req TransitionRequest) (*Prescription, error) {
	if req.PrescriptionID <= 0 {
		return nil, fmt.Errorf("%w: prescription_id is required", ErrInvalidInput)
	}
	if a.Role == RoleSystem {
		return nil, fmt.Errorf("%w: system transitions go through checkout", ErrForbidden)
	}

	var (
		out  *Prescription
		from Status
		text string
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		p, err := tx.LockPrescription(ctx, req.PrescriptionID)
		if err != nil {
			return err
		}
		if err := p.authorize(a); err != nil {
			return err
		}
		from = p.Status
		if from.Terminal() {
			return fmt.Errorf("%w: prescription is closed (%q)", ErrInvalidTransition, from)
		}
		if !p.CanMoveTo(a.Role, req.Status) {
			return fmt.Errorf("%w: %s cannot move %q to %q", ErrInvalidTransition, a.Role, from, req.Status)
		}
		if err := s.prepare(ctx, tx, a, p, req); err != nil {
			return err
		}
		text = req.TimelineText
		if err := Advance(ctx, tx, a, p, req.Status, text, s.now()); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		s.observer.TransitionRejected(ctx, a, req.PrescriptionID, req.Status, err)
		return nil, err
	}
	if text == "" {
		text = string(out.Status)
	}
	s.Committed(ctx, a, out, from, text)
	return out, nil
}

// RespondToClarification records the patient's answer and hands the
// prescription back to the hospital.
func (s *Service) RespondToClarification(ctx context.Context, a Actor, prescriptionID int64, response string) (*Prescription, error) {
	if a.Role != RolePatient {
		return nil, fmt.Errorf("%w: only the patient can answer a clarification", ErrForbidden)
	}
	return s.ApplyTransition(ctx, a, TransitionRequest{
		PrescriptionID:        prescriptionID,
		Status:                StatusWaitingForHospital,
		ClarificationResponse: response,
	})
}

func (s *Service) prepare(ctx context.Context, tx Tx, a Actor, p *Prescription, req TransitionRequest) error {
	switch req.Status {
	case StatusClarificationRequested:
		msg := strings.TrimSpace(req.ClarificationMessage)
		if msg == "" {
			return fmt.Errorf("%w: clarification_message is required", ErrInvalidInput)
		}
		p.ClarificationMessage = appendNote(p.ClarificationMessage, msg)
	case StatusWaitingForHospital:
		resp := strings.TrimSpace(req.ClarificationResponse)
		if resp == "" {
			return fmt.Errorf("%w: clarification_response is required", ErrInvalidInput)
		}
		p.ClarificationResponse = appendNote(p.ClarificationResponse, resp)
	}

	if a.Role != RolePharmacy {
		return nil
	}
	if p.PharmacyID == nil {
		id := a.ID
		p.PharmacyID = &id
	}
	if len(req.MedicinePrices) > 0 {
		if req.Status != StatusPharmacyReviewing && req.Status != StatusAwaitingPayment {
			return fmt.Errorf("%w: prices can only be set while reviewing", ErrInvalidInput)
		}
		ids := make([]int64, 0, len(req.MedicinePrices))
		for id := range req.MedicinePrices {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			price := req.MedicinePrices[id]
			if !price.IsPositive() {
				return fmt.Errorf("%w: medicine %d priced at %s", ErrIncompletePricing, id, price)
			}
			if err := tx.SetMedicinePrice(ctx, p.ID, id, price); err != nil {
				return err
			}
		}
	}
	if req.Status == StatusAwaitingPayment {
		meds, err := tx.Medicines(ctx, p.ID)
		if err != nil {
			return err
		}
		total, err := Subtotal(meds)
		if err != nil {
			return err
		}
		p.TotalAmount = decimal.NewNullDecimal(total)
	}
	return nil
}

// Subtotal sums the medicine prices; every line must be priced above zero.
func Subtotal(meds []Medicine) (decimal.Decimal, error) {
	if len(meds) == 0 {
		return decimal.Zero, fmt.Errorf("%w: prescription has no medicines", ErrIncompletePricing)
	}
	total := decimal.Zero
	for _, m := range meds {
		if !m.Priced() {
			return decimal.Zero, fmt.Errorf("%w: %s (line %d) has no price", ErrIncompletePricing, m.Name, m.ID)
		}
		total = total.Add(m.Price.Decimal)
	}
	return total, nil
}

// Advance moves p to status to and appends exactly one timeline row. The
// caller owns the transaction and has already applied role specific fields.
// A system move on a held prescription only changes the status it resumes to.
func Advance(ctx context.Context, tx Tx, a Actor, p *Prescription, to Status, timelineText string, at time.Time) error {
	if !p.CanMoveTo(a.Role, to) {
		return fmt.Errorf("%w: %s cannot move %q to %q", ErrInvalidTransition, a.Role, p.Status, to)
	}
	switch {
	case p.Status == StatusOnHold && a.Role == RoleSystem:
		// stays held; the pharmacy resumes to the settled status
		p.HeldFromStatus = to
	case to == StatusOnHold:
		p.HeldFromStatus = p.Status
		p.Status = to
	case p.Status == StatusOnHold:
		p.HeldFromStatus = ""
		p.Status = to
	default:
		p.Status = to
	}
	p.UpdatedAt = at
	if timelineText == "" {
		timelineText = string(to)
	}
	if err := tx.UpdatePrescription(ctx, p); err != nil {
		return err
	}
	return tx.AppendTimeline(ctx, p.ID, timelineText, at)
}

// Committed runs the post-commit side effects of a transition: status cache
// refresh and the status changed event. Failures here never undo the change.
func (s *Service) Committed(ctx context.Context, a Actor, p *Prescription, from Status, timelineText string) {
	s.observer.TransitionApplied(ctx, a, p, from)

	if err := s.cache.SetStatus(ctx, p.ID, snapshotOf(p)); err != nil {
		s.observer.SideEffectFailed(ctx, "status cache", p.ID, err)
	}
	if from == p.Status {
		// settled while held; nothing visible changed
		return
	}

	ev, err := events.New(ctx, events.EventStatusChanged, s.producer, p.ID, events.StatusChangedPayload{
		PrescriptionID: p.ID,
		PatientID:      p.PatientID,
		HospitalID:     p.HospitalID,
		PharmacyID:     p.PharmacyID,
		From:           string(from),
		To:             string(p.Status),
		ActorRole:      string(a.Role),
		TimelineText:   timelineText,
	})
	if err == nil {
		err = s.publisher.Publish(ctx, events.TopicStatusChanged, events.PartitionKey(p.ID), ev)
	}
	if err != nil {
		s.observer.SideEffectFailed(ctx, "publish status changed", p.ID, err)
	}
}

// Get returns the prescription with its medicines and timeline. Callers who
// may not see it get ErrNotFound.
func (s *Service) Get(ctx context.Context, a Actor, id int64) (*Details, error) {
	p, err := s.store.Prescription(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.VisibleTo(a) {
		return nil, ErrNotFound
	}
	meds, err := s.store.Medicines(ctx, id)
	if err != nil {
		return nil, err
	}
	tl, err := s.store.Timeline(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Details{Prescription: p, Medicines: meds, Timeline: tl}, nil
}

// CurrentStatus serves the status from cache, falling back to the store.
func (s *Service) CurrentStatus(ctx context.Context, a Actor, id int64) (*StatusSnapshot, error) {
	snap, err := s.cache.GetStatus(ctx, id)
	if err != nil {
		s.observer.SideEffectFailed(ctx, "status cache read", id, err)
	}
	if err == nil && snap != nil {
		if !snap.visibleTo(a) {
			return nil, ErrNotFound
		}
		return snap, nil
	}

	p, err := s.store.Prescription(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.VisibleTo(a) {
		return nil, ErrNotFound
	}
	fresh := snapshotOf(p)
	if err := s.cache.SetStatus(ctx, id, fresh); err != nil {
		s.observer.SideEffectFailed(ctx, "status cache", id, err)
	}
	return &fresh, nil
}

// IsBusinessError reports whether err is a rule violation rather than an
// infrastructure failure.
func IsBusinessError(err error) bool {
	for _, target := range []error{ErrNotFound, ErrForbidden, ErrInvalidTransition, ErrIncompletePricing, ErrInvalidInput} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
