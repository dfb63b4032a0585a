package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/medlink/internal/events"
	"github.com/ariefcatur/medlink/internal/paystack"
	"github.com/ariefcatur/medlink/internal/prescriptions"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultLockTTL = 30 * time.Second

type Settings struct {
	TaxRate     decimal.Decimal
	Currency    string
	CallbackURL string
	// Producer names this service inside event envelopes.
	Producer string
}

type Service struct {
	store       Store
	gateway     Gateway
	settings    Settings
	locker      Locker
	lockTTL     time.Duration
	transitions Transitions
	publisher   events.Publisher
	observer    Observer
	now         func() time.Time
}

type Option func(*Service)

func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func WithTransitions(t Transitions) Option { return func(s *Service) { s.transitions = t } }

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, gateway Gateway, settings Settings, opts ...Option) *Service {
	if settings.Producer == "" {
		settings.Producer = "medlink"
	}
	s := &Service{
		store:       store,
		gateway:     gateway,
		settings:    settings,
		locker:      noLock{},
		lockTTL:     defaultLockTTL,
		transitions: nopTransitions{},
		publisher:   events.NopPublisher{},
		observer:    NopObserver{},
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// InitializePayment quotes the prescription (tax included) and opens a
// gateway transaction for it.
func (s *Service) InitializePayment(ctx context.Context, req InitializeRequest) (*Initialization, error) {
	if strings.TrimSpace(req.Email) == "" {
		return nil, fmt.Errorf("%w: email is required", prescriptions.ErrInvalidInput)
	}
	p, err := s.store.Prescription(ctx, req.PrescriptionID)
	if err != nil {
		return nil, err
	}
	if p.PatientID != req.PatientID {
		return nil, prescriptions.ErrNotFound
	}
	if p.Status != prescriptions.StatusAwaitingPayment {
		return nil, fmt.Errorf("%w: prescription is %q, not awaiting payment", prescriptions.ErrInvalidTransition, p.Status)
	}
	meds, err := s.store.Medicines(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	q, err := Price(meds, s.settings.TaxRate)
	if err != nil {
		return nil, err
	}

	ref := "MDL-" + uuid.NewString()
	res, err := s.gateway.Initialize(ctx, paystack.InitializeRequest{
		Email:       req.Email,
		AmountMinor: paystack.ToMinor(q.Total),
		Reference:   ref,
		Currency:    s.settings.Currency,
		CallbackURL: s.settings.CallbackURL,
		Metadata: map[string]any{
			"prescription_id": p.ID,
			"patient_id":      p.PatientID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentInitFailed, err)
	}
	if res.Reference != "" {
		ref = res.Reference
	}
	return &Initialization{
		AuthorizationURL: res.AuthorizationURL,
		AccessCode:       res.AccessCode,
		Reference:        ref,
		Amount:           q.Total,
		Currency:         s.settings.Currency,
	}, nil
}

type applied struct {
	p    *prescriptions.Prescription
	from prescriptions.Status
	text string
}

// CompleteCheckout verifies the gateway transaction, checks it against the
// priced prescription and materializes the order, payment and status change
// in one transaction. Calling it again with the same reference returns the
// order created the first time.
func (s *Service) CompleteCheckout(ctx context.Context, req Request) (res *Result, err error) {
	req.TransactionReference = strings.TrimSpace(req.TransactionReference)
	defer func() {
		if err != nil {
			s.observer.CheckoutFailed(ctx, req, err)
			return
		}
		s.observer.CheckoutCompleted(ctx, req, res)
	}()

	if req.TransactionReference == "" || req.PrescriptionID <= 0 {
		return nil, fmt.Errorf("%w: transaction_reference and prescription_id are required", prescriptions.ErrInvalidInput)
	}

	release, ok, lockErr := s.locker.Acquire(ctx, req.TransactionReference, s.lockTTL)
	switch {
	case lockErr != nil:
		// the unique constraint on transaction_reference still holds
		s.observer.SideEffectFailed(ctx, "checkout lock", req.PrescriptionID, lockErr)
	case !ok:
		return nil, ErrCheckoutInProgress
	default:
		defer release()
	}

	v, err := s.gateway.Verify(ctx, req.TransactionReference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentVerificationFailed, err)
	}
	if !v.Successful() {
		return nil, fmt.Errorf("%w: gateway status %q", ErrPaymentVerificationFailed, v.Status)
	}
	if v.Reference != "" && v.Reference != req.TransactionReference {
		return nil, fmt.Errorf("%w: gateway returned reference %q", ErrPaymentVerificationFailed, v.Reference)
	}

	res, done, err := s.reconcile(ctx, req, v)
	if errors.Is(err, ErrDuplicatePayment) {
		// lost the race on the unique reference; the winner's order is ours
		res, done, err = s.reconcile(ctx, req, v)
	}
	if err != nil {
		return nil, err
	}
	if done != nil {
		s.transitions.Committed(ctx, prescriptions.SystemActor, done.p, done.from, done.text)
		s.publishPaymentReceived(ctx, done.p, res)
	}
	return res, nil
}

func (s *Service) reconcile(ctx context.Context, req Request, v *paystack.Verification) (*Result, *applied, error) {
	var (
		res  *Result
		done *applied
	)
	paid := v.Amount()

	err := s.store.InCheckoutTx(ctx, func(tx Tx) error {
		p, err := tx.LockPrescription(ctx, req.PrescriptionID)
		if err != nil {
			return err
		}
		if p.PatientID != req.PatientID {
			return prescriptions.ErrNotFound
		}
		meds, err := tx.Medicines(ctx, p.ID)
		if err != nil {
			return err
		}
		if len(meds) == 0 {
			return fmt.Errorf("%w: prescription %d has no medicines", prescriptions.ErrNotFound, p.ID)
		}
		q, err := Price(meds, s.settings.TaxRate)
		if err != nil {
			return err
		}
		if v.Currency != "" && !strings.EqualFold(v.Currency, s.settings.Currency) {
			return fmt.Errorf("%w: paid in %s, expected %s", ErrAmountMismatch, v.Currency, s.settings.Currency)
		}
		if !q.Matches(paid) {
			return fmt.Errorf("%w: total %s, paid %s", ErrAmountMismatch, q.Total.StringFixed(2), paid.StringFixed(2))
		}

		existing, err := tx.PaymentByReference(ctx, req.TransactionReference)
		switch {
		case err == nil:
			o, err := tx.Order(ctx, existing.OrderID)
			if err != nil {
				return err
			}
			if o.PrescriptionID != p.ID {
				return fmt.Errorf("%w: reference %s settled another prescription", prescriptions.ErrInvalidInput, req.TransactionReference)
			}
			res = &Result{
				OrderID:        o.ID,
				OrderReference: o.Reference,
				PrescriptionID: p.ID,
				Amount:         existing.Amount,
				Currency:       existing.Currency,
				Channel:        existing.Channel,
				Idempotent:     true,
			}
			return nil
		case !errors.Is(err, prescriptions.ErrNotFound):
			return err
		}

		if !p.CanMoveTo(prescriptions.RoleSystem, prescriptions.StatusPaymentReceived) {
			return fmt.Errorf("%w: prescription is %q, not awaiting payment", prescriptions.ErrInvalidTransition, p.Status)
		}

		now := s.now()
		seq, err := tx.NextOrderSequence(ctx, now.Year())
		if err != nil {
			return err
		}
		order := &Order{
			PatientID:       p.PatientID,
			PrescriptionID:  p.ID,
			PharmacyID:      p.PharmacyID,
			Reference:       FormatOrderReference(now.Year(), seq),
			Subtotal:        q.Subtotal,
			Tax:             q.Tax,
			Total:           q.Total,
			Status:          OrderStatusPaid,
			DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
			Notes:           strings.TrimSpace(req.Notes),
			CreatedAt:       now,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		for _, m := range meds {
			if err := tx.InsertOrderLine(ctx, &OrderLine{
				OrderID:    order.ID,
				MedicineID: m.ID,
				Name:       m.Name,
				Dosage:     m.Dosage,
				Price:      m.Price.Decimal,
			}); err != nil {
				return err
			}
		}

		currency := strings.ToUpper(v.Currency)
		if currency == "" {
			currency = s.settings.Currency
		}
		pay := &Payment{
			OrderID:              order.ID,
			TransactionReference: req.TransactionReference,
			Amount:               paid,
			Currency:             currency,
			Channel:              v.Channel,
			AuthorizationCode:    v.Authorization.AuthorizationCode,
			Status:               v.Status,
			CreatedAt:            now,
		}
		if err := tx.InsertPayment(ctx, pay); err != nil {
			return err
		}

		from := p.Status
		p.PaymentID = &pay.ID
		p.TotalAmount = decimal.NewNullDecimal(q.Total)
		text := fmt.Sprintf("Payment received: %s %s via %s (ref %s)",
			currency, paid.StringFixed(2), v.Channel, req.TransactionReference)
		if err := prescriptions.Advance(ctx, tx, prescriptions.SystemActor, p, prescriptions.StatusPaymentReceived, text, now); err != nil {
			return err
		}

		res = &Result{
			OrderID:        order.ID,
			OrderReference: order.Reference,
			PrescriptionID: p.ID,
			Amount:         paid,
			Currency:       currency,
			Channel:        v.Channel,
		}
		done = &applied{p: p, from: from, text: text}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res, done, nil
}

func (s *Service) publishPaymentReceived(ctx context.Context, p *prescriptions.Prescription, res *Result) {
	ev, err := events.New(ctx, events.EventPaymentReceived, s.settings.Producer, p.ID, events.PaymentReceivedPayload{
		PrescriptionID: p.ID,
		PatientID:      p.PatientID,
		PharmacyID:     p.PharmacyID,
		OrderID:        res.OrderID,
		OrderReference: res.OrderReference,
		Amount:         res.Amount.StringFixed(2),
		Currency:       res.Currency,
		Channel:        res.Channel,
	})
	if err == nil {
		err = s.publisher.Publish(ctx, events.TopicPaymentReceived, events.PartitionKey(p.ID), ev)
	}
	if err != nil {
		s.observer.SideEffectFailed(ctx, "publish payment received", p.ID, err)
	}
}

// IsBusinessError reports terminal rule violations that retrying will not fix.
func IsBusinessError(err error) bool {
	return prescriptions.IsBusinessError(err) || errors.Is(err, ErrAmountMismatch)
}
