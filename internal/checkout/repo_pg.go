package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/medlink/internal/postgres"
	"github.com/ariefcatur/medlink/internal/prescriptions"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const paymentReferenceKey = "prescription_payment_transaction_reference_key"

// PGStore keeps orders and payments next to the prescription tables.
type PGStore struct {
	prescriptions.PGStore
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{PGStore: prescriptions.PGStore{DB: db}}
}

func (s *PGStore) InCheckoutTx(ctx context.Context, fn func(Tx) error) error {
	return postgres.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		return fn(&pgTx{PGTx: prescriptions.NewPGTx(tx)})
	})
}

type pgTx struct {
	*prescriptions.PGTx
}

func (t *pgTx) PaymentByReference(ctx context.Context, reference string) (*Payment, error) {
	var p Payment
	err := t.Tx.QueryRow(ctx, `
		SELECT id, order_id, transaction_reference, amount, currency, channel,
		       authorization_code, status, created_at
		FROM prescription_payment WHERE transaction_reference=$1`, reference).
		Scan(&p.ID, &p.OrderID, &p.TransactionReference, &p.Amount, &p.Currency, &p.Channel,
			&p.AuthorizationCode, &p.Status, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, prescriptions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load payment %s: %v", prescriptions.ErrPersistence, reference, err)
	}
	return &p, nil
}

func (t *pgTx) Order(ctx context.Context, id int64) (*Order, error) {
	var o Order
	err := t.Tx.QueryRow(ctx, `
		SELECT id, patient_id, prescription_id, pharmacy_id, reference, subtotal, tax, total,
		       status, delivery_address, notes, created_at
		FROM prescription_orders WHERE id=$1`, id).
		Scan(&o.ID, &o.PatientID, &o.PrescriptionID, &o.PharmacyID, &o.Reference, &o.Subtotal, &o.Tax, &o.Total,
			&o.Status, &o.DeliveryAddress, &o.Notes, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, prescriptions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load order %d: %v", prescriptions.ErrPersistence, id, err)
	}
	return &o, nil
}

// NextOrderSequence bumps the per-year counter. The first order of a year
// seeds the counter from references already on disk, so a table restored
// without its counters keeps counting upward.
func (t *pgTx) NextOrderSequence(ctx context.Context, year int) (int, error) {
	var seq int
	err := t.Tx.QueryRow(ctx,
		`UPDATE order_reference_counters SET last_seq=last_seq+1 WHERE year=$1 RETURNING last_seq`, year).Scan(&seq)
	if err == nil {
		return seq, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: bump order counter: %v", prescriptions.ErrPersistence, err)
	}

	seed, err := t.highestSequence(ctx, year)
	if err != nil {
		return 0, err
	}
	err = t.Tx.QueryRow(ctx, `
		INSERT INTO order_reference_counters(year, last_seq) VALUES ($1, $2)
		ON CONFLICT (year) DO UPDATE SET last_seq = order_reference_counters.last_seq + 1
		RETURNING last_seq`, year, seed+1).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("%w: seed order counter: %v", prescriptions.ErrPersistence, err)
	}
	return seq, nil
}

func (t *pgTx) highestSequence(ctx context.Context, year int) (int, error) {
	var ref string
	err := t.Tx.QueryRow(ctx, `
		SELECT reference FROM prescription_orders
		WHERE reference LIKE $1
		ORDER BY length(reference) DESC, reference DESC LIMIT 1`,
		fmt.Sprintf("%s-%d-%%", referencePrefix, year)).Scan(&ref)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: scan order references: %v", prescriptions.ErrPersistence, err)
	}
	_, seq, err := ParseOrderReference(ref)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", prescriptions.ErrPersistence, err)
	}
	return seq, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	err := t.Tx.QueryRow(ctx, `
		INSERT INTO prescription_orders(patient_id, prescription_id, pharmacy_id, reference,
			subtotal, tax, total, status, delivery_address, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		o.PatientID, o.PrescriptionID, o.PharmacyID, o.Reference,
		o.Subtotal, o.Tax, o.Total, o.Status, o.DeliveryAddress, o.Notes, o.CreatedAt).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("%w: insert order %s: %v", prescriptions.ErrPersistence, o.Reference, err)
	}
	return nil
}

func (t *pgTx) InsertOrderLine(ctx context.Context, l *OrderLine) error {
	err := t.Tx.QueryRow(ctx, `
		INSERT INTO order_details(order_id, medicine_id, name, dosage, price)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		l.OrderID, l.MedicineID, l.Name, l.Dosage, l.Price).Scan(&l.ID)
	if postgres.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: order %d or medicine %d", prescriptions.ErrNotFound, l.OrderID, l.MedicineID)
	}
	if err != nil {
		return fmt.Errorf("%w: insert order line: %v", prescriptions.ErrPersistence, err)
	}
	return nil
}

func (t *pgTx) InsertPayment(ctx context.Context, p *Payment) error {
	err := t.Tx.QueryRow(ctx, `
		INSERT INTO prescription_payment(order_id, transaction_reference, amount, currency,
			channel, authorization_code, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		p.OrderID, p.TransactionReference, p.Amount, p.Currency,
		p.Channel, p.AuthorizationCode, p.Status, p.CreatedAt).Scan(&p.ID)
	if postgres.IsUniqueViolation(err, paymentReferenceKey) {
		return ErrDuplicatePayment
	}
	if err != nil {
		return fmt.Errorf("%w: insert payment: %v", prescriptions.ErrPersistence, err)
	}
	return nil
}
