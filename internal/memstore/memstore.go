// Package memstore is a transactional in-memory implementation of the
// prescription and checkout stores. A transaction works on a copy of the
// data that replaces the live state only when the callback succeeds.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/medlink/internal/checkout"
	"github.com/ariefcatur/medlink/internal/prescriptions"
	"github.com/shopspring/decimal"
)

type state struct {
	nextID        int64
	prescriptions map[int64]prescriptions.Prescription
	medicines     map[int64]prescriptions.Medicine
	timeline      []prescriptions.TimelineEntry
	orders        map[int64]checkout.Order
	lines         []checkout.OrderLine
	payments      map[int64]checkout.Payment
	counters      map[int]int
}

func newState() *state {
	return &state{
		prescriptions: map[int64]prescriptions.Prescription{},
		medicines:     map[int64]prescriptions.Medicine{},
		orders:        map[int64]checkout.Order{},
		payments:      map[int64]checkout.Payment{},
		counters:      map[int]int{},
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *state) clone() *state {
	c := &state{
		nextID:        s.nextID,
		prescriptions: make(map[int64]prescriptions.Prescription, len(s.prescriptions)),
		medicines:     make(map[int64]prescriptions.Medicine, len(s.medicines)),
		timeline:      append([]prescriptions.TimelineEntry(nil), s.timeline...),
		orders:        make(map[int64]checkout.Order, len(s.orders)),
		lines:         append([]checkout.OrderLine(nil), s.lines...),
		payments:      make(map[int64]checkout.Payment, len(s.payments)),
		counters:      make(map[int]int, len(s.counters)),
	}
	for k, v := range s.prescriptions {
		c.prescriptions[k] = copyPrescription(v)
	}
	for k, v := range s.medicines {
		c.medicines[k] = v
	}
	for k, v := range s.orders {
		v.PharmacyID = copyID(v.PharmacyID)
		c.orders[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.counters {
		c.counters[k] = v
	}
	return c
}

func copyID(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyPrescription(p prescriptions.Prescription) prescriptions.Prescription {
	p.PharmacyID = copyID(p.PharmacyID)
	p.PaymentID = copyID(p.PaymentID)
	return p
}

// Store serializes transactions behind one mutex.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// Seed stores a submitted prescription with its medicines and returns the
// assigned ids. Zero fields get submission defaults.
func (s *Store) Seed(p prescriptions.Prescription, meds ...prescriptions.Medicine) (int64, []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p.ID = s.st.id()
	if p.Status == "" {
		p.Status = prescriptions.StatusSubmitted
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	s.st.prescriptions[p.ID] = copyPrescription(p)
	s.st.timeline = append(s.st.timeline, prescriptions.TimelineEntry{
		ID: s.st.id(), PrescriptionID: p.ID, StatusText: string(p.Status), CreatedAt: p.CreatedAt,
	})

	ids := make([]int64, 0, len(meds))
	for _, m := range meds {
		m.ID = s.st.id()
		m.PrescriptionID = p.ID
		s.st.medicines[m.ID] = m
		ids = append(ids, m.ID)
	}
	return p.ID, ids
}

// SeedOrder records an order reference as if written by an earlier run.
func (s *Store) SeedOrder(o checkout.Order) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = s.st.id()
	s.st.orders[o.ID] = o
	return o.ID
}

func (s *Store) InTx(ctx context.Context, fn func(prescriptions.Tx) error) error {
	return s.run(ctx, func(t *tx) error { return fn(t) })
}

func (s *Store) InCheckoutTx(ctx context.Context, fn func(checkout.Tx) error) error {
	return s.run(ctx, func(t *tx) error { return fn(t) })
}

func (s *Store) run(ctx context.Context, fn func(*tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) Prescription(_ context.Context, id int64) (*prescriptions.Prescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.prescription(id)
}

func (s *Store) Medicines(_ context.Context, prescriptionID int64) ([]prescriptions.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.medicinesOf(prescriptionID), nil
}

func (s *Store) Timeline(_ context.Context, prescriptionID int64) ([]prescriptions.TimelineEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []prescriptions.TimelineEntry
	for _, e := range s.st.timeline {
		if e.PrescriptionID == prescriptionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Orders lists the orders of one prescription.
func (s *Store) Orders(prescriptionID int64) []checkout.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []checkout.Order
	for _, o := range s.st.orders {
		if o.PrescriptionID == prescriptionID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) OrderLines(orderID int64) []checkout.OrderLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []checkout.OrderLine
	for _, l := range s.st.lines {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	return out
}

func (s *Store) Payments() []checkout.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]checkout.Payment, 0, len(s.st.payments))
	for _, p := range s.st.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) prescription(id int64) (*prescriptions.Prescription, error) {
	p, ok := s.prescriptions[id]
	if !ok {
		return nil, prescriptions.ErrNotFound
	}
	cp := copyPrescription(p)
	return &cp, nil
}

func (s *state) medicinesOf(prescriptionID int64) []prescriptions.Medicine {
	var out []prescriptions.Medicine
	for _, m := range s.medicines {
		if m.PrescriptionID == prescriptionID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type tx struct{ st *state }

func (t *tx) LockPrescription(_ context.Context, id int64) (*prescriptions.Prescription, error) {
	return t.st.prescription(id)
}

func (t *tx) UpdatePrescription(_ context.Context, p *prescriptions.Prescription) error {
	if _, ok := t.st.prescriptions[p.ID]; !ok {
		return prescriptions.ErrNotFound
	}
	t.st.prescriptions[p.ID] = copyPrescription(*p)
	return nil
}

func (t *tx) AppendTimeline(_ context.Context, prescriptionID int64, text string, at time.Time) error {
	t.st.timeline = append(t.st.timeline, prescriptions.TimelineEntry{
		ID: t.st.id(), PrescriptionID: prescriptionID, StatusText: text, CreatedAt: at,
	})
	return nil
}

func (t *tx) Medicines(_ context.Context, prescriptionID int64) ([]prescriptions.Medicine, error) {
	return t.st.medicinesOf(prescriptionID), nil
}

func (t *tx) SetMedicinePrice(_ context.Context, prescriptionID, medicineID int64, price decimal.Decimal) error {
	m, ok := t.st.medicines[medicineID]
	if !ok || m.PrescriptionID != prescriptionID {
		return fmt.Errorf("%w: medicine %d on prescription %d", prescriptions.ErrNotFound, medicineID, prescriptionID)
	}
	m.Price = decimal.NewNullDecimal(price.Round(2))
	t.st.medicines[medicineID] = m
	return nil
}

func (t *tx) PaymentByReference(_ context.Context, reference string) (*checkout.Payment, error) {
	for _, p := range t.st.payments {
		if p.TransactionReference == reference {
			cp := p
			return &cp, nil
		}
	}
	return nil, prescriptions.ErrNotFound
}

func (t *tx) Order(_ context.Context, id int64) (*checkout.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, prescriptions.ErrNotFound
	}
	return &o, nil
}

func (t *tx) NextOrderSequence(_ context.Context, year int) (int, error) {
	seq, ok := t.st.counters[year]
	if !ok {
		prefix := fmt.Sprintf("ORD-%d-", year)
		for _, o := range t.st.orders {
			if !strings.HasPrefix(o.Reference, prefix) {
				continue
			}
			if _, n, err := checkout.ParseOrderReference(o.Reference); err == nil && n > seq {
				seq = n
			}
		}
	}
	seq++
	t.st.counters[year] = seq
	return seq, nil
}

func (t *tx) InsertOrder(_ context.Context, o *checkout.Order) error {
	for _, existing := range t.st.orders {
		if existing.Reference == o.Reference {
			return fmt.Errorf("%w: order reference %s already used", prescriptions.ErrPersistence, o.Reference)
		}
	}
	o.ID = t.st.id()
	t.st.orders[o.ID] = *o
	return nil
}

func (t *tx) InsertOrderLine(_ context.Context, l *checkout.OrderLine) error {
	if _, ok := t.st.orders[l.OrderID]; !ok {
		return fmt.Errorf("%w: order %d", prescriptions.ErrNotFound, l.OrderID)
	}
	if _, ok := t.st.medicines[l.MedicineID]; !ok {
		return fmt.Errorf("%w: medicine %d", prescriptions.ErrNotFound, l.MedicineID)
	}
	l.ID = t.st.id()
	t.st.lines = append(t.st.lines, *l)
	return nil
}

func (t *tx) InsertPayment(_ context.Context, p *checkout.Payment) error {
	for _, existing := range t.st.payments {
		if existing.TransactionReference == p.TransactionReference {
			return checkout.ErrDuplicatePayment
		}
	}
	p.ID = t.st.id()
	t.st.payments[p.ID] = *p
	return nil
}
