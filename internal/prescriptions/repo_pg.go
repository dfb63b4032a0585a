package prescriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/medlink/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const prescriptionColumns = `id, patient_id, hospital_id, pharmacy_id, status,
	COALESCE(held_from_status, ''), clarification_message, clarification_response,
	total_amount, payment_id, created_at, updated_at`

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PGStore struct{ DB *pgxpool.Pool }

func (s *PGStore) InTx(ctx context.Context, fn func(Tx) error) error {
	return postgres.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		return fn(NewPGTx(tx))
	})
}

func (s *PGStore) Prescription(ctx context.Context, id int64) (*Prescription, error) {
	return scanPrescription(s.DB.QueryRow(ctx, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE id=$1`, id))
}

func (s *PGStore) Medicines(ctx context.Context, prescriptionID int64) ([]Medicine, error) {
	return queryMedicines(ctx, s.DB, prescriptionID)
}

func (s *PGStore) Timeline(ctx context.Context, prescriptionID int64) ([]TimelineEntry, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, prescription_id, status_text, created_at
		FROM prescription_timeline WHERE prescription_id=$1 ORDER BY id`, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("%w: query timeline: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var out []TimelineEntry
	for rows.Next() {
		var e TimelineEntry
		if err := rows.Scan(&e.ID, &e.PrescriptionID, &e.StatusText, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan timeline: %v", ErrPersistence, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PGTx implements Tx on an open pgx transaction. Checkout embeds it so
// its writes share the transaction.
type PGTx struct{ Tx pgx.Tx }

func NewPGTx(tx pgx.Tx) *PGTx { return &PGTx{Tx: tx} }

func (t *PGTx) LockPrescription(ctx context.Context, id int64) (*Prescription, error) {
	return scanPrescription(t.Tx.QueryRow(ctx, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE id=$1 FOR UPDATE`, id))
}

func (t *PGTx) UpdatePrescription(ctx context.Context, p *Prescription) error {
	ct, err := t.Tx.Exec(ctx, `
		UPDATE prescriptions SET
			status=$2, held_from_status=NULLIF($3, ''), pharmacy_id=$4,
			clarification_message=$5, clarification_response=$6,
			total_amount=$7, payment_id=$8, updated_at=$9
		WHERE id=$1`,
		p.ID, string(p.Status), string(p.HeldFromStatus), p.PharmacyID,
		p.ClarificationMessage, p.ClarificationResponse,
		p.TotalAmount, p.PaymentID, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: update prescription %d: %v", ErrPersistence, p.ID, err)
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (t *PGTx) AppendTimeline(ctx context.Context, prescriptionID int64, text string, at time.Time) error {
	if _, err := t.Tx.Exec(ctx, `
		INSERT INTO prescription_timeline(prescription_id, status_text, created_at)
		VALUES ($1, $2, $3)`, prescriptionID, text, at); err != nil {
		return fmt.Errorf("%w: insert timeline: %v", ErrPersistence, err)
	}
	return nil
}

func (t *PGTx) Medicines(ctx context.Context, prescriptionID int64) ([]Medicine, error) {
	return queryMedicines(ctx, t.Tx, prescriptionID)
}

func (t *PGTx) SetMedicinePrice(ctx context.Context, prescriptionID, medicineID int64, price decimal.Decimal) error {
	ct, err := t.Tx.Exec(ctx, `UPDATE prescription_medicines SET price=$3 WHERE id=$2 AND prescription_id=$1`,
		prescriptionID, medicineID, price)
	if err != nil {
		return fmt.Errorf("%w: price medicine %d: %v", ErrPersistence, medicineID, err)
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: medicine %d on prescription %d", ErrNotFound, medicineID, prescriptionID)
	}
	return nil
}

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	var status, held string
	err := row.Scan(&p.ID, &p.PatientID, &p.HospitalID, &p.PharmacyID, &status,
		&held, &p.ClarificationMessage, &p.ClarificationResponse,
		&p.TotalAmount, &p.PaymentID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan prescription: %v", ErrPersistence, err)
	}
	p.Status = Status(status)
	p.HeldFromStatus = Status(held)
	return &p, nil
}

func queryMedicines(ctx context.Context, q Querier, prescriptionID int64) ([]Medicine, error) {
	rows, err := q.Query(ctx, `
		SELECT id, prescription_id, name, dosage, frequency, duration, price
		FROM prescription_medicines WHERE prescription_id=$1 ORDER BY id`, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("%w: query medicines: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var out []Medicine
	for rows.Next() {
		var m Medicine
		if err := rows.Scan(&m.ID, &m.PrescriptionID, &m.Name, &m.Dosage, &m.Frequency, &m.Duration, &m.Price); err != nil {
			return nil, fmt.Errorf("%w: scan medicine: %v", ErrPersistence, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
