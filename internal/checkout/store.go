package checkout

import (
	"context"
	"time"

	"github.com/ariefcatur/medlink/internal/paystack"
	"github.com/ariefcatur/medlink/internal/prescriptions"
)

// Tx extends the prescription writes with the order and payment tables so
// the whole reconciliation commits or rolls back as one unit.
type Tx interface {
	prescriptions.Tx
	// PaymentByReference returns prescriptions.ErrNotFound when absent.
	PaymentByReference(ctx context.Context, reference string) (*Payment, error)
	Order(ctx context.Context, id int64) (*Order, error)
	// NextOrderSequence atomically reserves the next sequence for year.
	NextOrderSequence(ctx context.Context, year int) (int, error)
	InsertOrder(ctx context.Context, o *Order) error
	InsertOrderLine(ctx context.Context, l *OrderLine) error
	// InsertPayment returns ErrDuplicatePayment on a reused reference.
	InsertPayment(ctx context.Context, p *Payment) error
}

type Store interface {
	InCheckoutTx(ctx context.Context, fn func(Tx) error) error
	Prescription(ctx context.Context, id int64) (*prescriptions.Prescription, error)
	Medicines(ctx context.Context, prescriptionID int64) ([]prescriptions.Medicine, error)
}

type Gateway interface {
	Initialize(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error)
	Verify(ctx context.Context, reference string) (*paystack.Verification, error)
}

// Locker guards one transaction reference against concurrent checkouts.
// ok is false when somebody else holds the lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Transitions receives the committed payment transition so the status cache
// and status events stay in step with manual transitions.
type Transitions interface {
	Committed(ctx context.Context, a prescriptions.Actor, p *prescriptions.Prescription, from prescriptions.Status, timelineText string)
}

type Observer interface {
	CheckoutCompleted(ctx context.Context, req Request, res *Result)
	CheckoutFailed(ctx context.Context, req Request, err error)
	SideEffectFailed(ctx context.Context, what string, prescriptionID int64, err error)
}

type NopObserver struct{}

func (NopObserver) CheckoutCompleted(context.Context, Request, *Result)    {}
func (NopObserver) CheckoutFailed(context.Context, Request, error)         {}
func (NopObserver) SideEffectFailed(context.Context, string, int64, error) {}

type noLock struct{}

func (noLock) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}

type nopTransitions struct{}

func (nopTransitions) Committed(context.Context, prescriptions.Actor, *prescriptions.Prescription, prescriptions.Status, string) {
}
