package prescriptions

import (
	"time"

	"github.com/shopspring/decimal"
)

// Actor is the authenticated caller of a request.
type Actor struct {
	ID    int64
	Role  Role
	Email string
}

// SystemActor applies transitions driven by payment reconciliation.
var SystemActor = Actor{Role: RoleSystem}

type Prescription struct {
	ID                    int64               `json:"id"`
	PatientID             int64               `json:"patient_id"`
	HospitalID            int64               `json:"hospital_id"`
	PharmacyID            *int64              `json:"pharmacy_id,omitempty"`
	Status                Status              `json:"status"`
	HeldFromStatus        Status              `json:"held_from_status,omitempty"`
	ClarificationMessage  string              `json:"clarification_message,omitempty"`
	ClarificationResponse string              `json:"clarification_response,omitempty"`
	TotalAmount           decimal.NullDecimal `json:"total_amount"`
	PaymentID             *int64              `json:"payment_id,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

type Medicine struct {
	ID             int64               `json:"id"`
	PrescriptionID int64               `json:"prescription_id"`
	Name           string              `json:"name"`
	Dosage         string              `json:"dosage"`
	Frequency      string              `json:"frequency"`
	Duration       string              `json:"duration"`
	Price          decimal.NullDecimal `json:"price"`
}

// Priced reports whether the line carries a price the pharmacy actually set.
func (m Medicine) Priced() bool {
	return m.Price.Valid && m.Price.Decimal.IsPositive()
}

type TimelineEntry struct {
	ID             int64     `json:"id"`
	PrescriptionID int64     `json:"prescription_id"`
	StatusText     string    `json:"status_text"`
	CreatedAt      time.Time `json:"timestamp"`
}

// Details is the read model served to the three parties.
type Details struct {
	Prescription *Prescription   `json:"prescription"`
	Medicines    []Medicine      `json:"medicines"`
	Timeline     []TimelineEntry `json:"timeline"`
}

// CanMoveTo applies the transition table plus the on-hold rules: a held
// prescription only resumes to the status it was paused from, and the
// system may still settle a payment for it (see Advance).
func (p *Prescription) CanMoveTo(role Role, to Status) bool {
	if p.Status == StatusOnHold {
		if role == RoleSystem {
			return p.HeldFromStatus != "" && CanTransition(role, p.HeldFromStatus, to)
		}
		return role == RolePharmacy && p.HeldFromStatus != "" && to == p.HeldFromStatus
	}
	return CanTransition(role, p.Status, to)
}

// authorize checks ownership for the acting role.
func (p *Prescription) authorize(a Actor) error {
	switch a.Role {
	case RoleSystem:
		return nil
	case RoleHospital:
		if p.HospitalID != a.ID {
			return ErrForbidden
		}
	case RolePatient:
		if p.PatientID != a.ID {
			return ErrForbidden
		}
	case RolePharmacy:
		if p.PharmacyID != nil && *p.PharmacyID != a.ID {
			return ErrForbidden
		}
	default:
		return ErrForbidden
	}
	return nil
}

// VisibleTo reports whether a may read the prescription.
func (p *Prescription) VisibleTo(a Actor) bool {
	switch a.Role {
	case RolePatient:
		return p.PatientID == a.ID
	case RoleHospital:
		return p.HospitalID == a.ID
	case RolePharmacy:
		return true
	}
	return false
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n\n" + note
}
