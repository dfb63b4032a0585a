package prescriptions

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Tx is the set of writes one transition may perform. Implementations run
// every call of one InTx callback inside the same database transaction.
type Tx interface {
	// LockPrescription loads the row and holds it until the transaction ends.
	LockPrescription(ctx context.Context, id int64) (*Prescription, error)
	UpdatePrescription(ctx context.Context, p *Prescription) error
	AppendTimeline(ctx context.Context, prescriptionID int64, text string, at time.Time) error
	Medicines(ctx context.Context, prescriptionID int64) ([]Medicine, error)
	SetMedicinePrice(ctx context.Context, prescriptionID, medicineID int64, price decimal.Decimal) error
}

type Store interface {
	// InTx commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(Tx) error) error
	Prescription(ctx context.Context, id int64) (*Prescription, error)
	Medicines(ctx context.Context, prescriptionID int64) ([]Medicine, error)
	Timeline(ctx context.Context, prescriptionID int64) ([]TimelineEntry, error)
}

type StatusSnapshot struct {
	Status     Status    `json:"status"`
	PatientID  int64     `json:"patient_id"`
	HospitalID int64     `json:"hospital_id"`
	PharmacyID *int64    `json:"pharmacy_id,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func snapshotOf(p *Prescription) StatusSnapshot {
	return StatusSnapshot{
		Status:     p.Status,
		PatientID:  p.PatientID,
		HospitalID: p.HospitalID,
		PharmacyID: p.PharmacyID,
		UpdatedAt:  p.UpdatedAt,
	}
}

func (s StatusSnapshot) visibleTo(a Actor) bool {
	p := Prescription{PatientID: s.PatientID, HospitalID: s.HospitalID, PharmacyID: s.PharmacyID}
	return p.VisibleTo(a)
}

// StatusCache is a read-through cache in front of the prescriptions table.
// Get returns (nil, nil) on a miss. SetStatus keeps a cached snapshot whose
// UpdatedAt is not older than s, so late writers cannot roll it back.
type StatusCache interface {
	GetStatus(ctx context.Context, prescriptionID int64) (*StatusSnapshot, error)
	SetStatus(ctx context.Context, prescriptionID int64, s StatusSnapshot) error
}

type nopCache struct{}

func (nopCache) GetStatus(context.Context, int64) (*StatusSnapshot, error) { return nil, nil }
func (nopCache) SetStatus(context.Context, int64, StatusSnapshot) error    { return nil }
