package prescriptions

import "fmt"

type Status string

const (
	StatusSubmitted              Status = "Submitted by patient"
	StatusHospitalReviewing      Status = "Hospital reviewing"
	StatusClarificationRequested Status = "Clarification requested"
	StatusWaitingForHospital     Status = "Waiting for hospital"
	StatusConfirmedByHospital    Status = "Confirmed by hospital"
	StatusSentToPharmacies       Status = "Sent to pharmacies"
	StatusPharmacyReviewing      Status = "Pharmacy reviewing"
	StatusAwaitingPayment        Status = "Awaiting patient payment"
	StatusPaymentReceived        Status = "Payment received"
	StatusReadyForPickup         Status = "Ready for pickup"
	StatusReadyForDelivery       Status = "Ready for delivery"
	StatusDispensed              Status = "Dispensed"
	StatusRejected               Status = "Rejected"
	StatusOnHold                 Status = "On hold"
)

var AllStatuses = []Status{
	StatusSubmitted,
	StatusHospitalReviewing,
	StatusClarificationRequested,
	StatusWaitingForHospital,
	StatusConfirmedByHospital,
	StatusSentToPharmacies,
	StatusPharmacyReviewing,
	StatusAwaitingPayment,
	StatusPaymentReceived,
	StatusReadyForPickup,
	StatusReadyForDelivery,
	StatusDispensed,
	StatusRejected,
	StatusOnHold,
}

func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}

type Role string

const (
	RolePatient  Role = "patient"
	RoleHospital Role = "hospital"
	RolePharmacy Role = "pharmacy"
	// RoleSystem is used by payment reconciliation, never by a logged in user.
	RoleSystem Role = "system"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RolePatient, RoleHospital, RolePharmacy:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
}

func next(to ...Status) map[Status]bool {
	m := make(map[Status]bool, len(to))
	for _, s := range to {
		m[s] = true
	}
	return m
}

// validNext is role -> from -> allowed to. Anything missing is rejected.
// Resuming from StatusOnHold is not listed; it depends on HeldFromStatus.
var validNext = map[Role]map[Status]map[Status]bool{
	RoleHospital: {
		StatusSubmitted:              next(StatusHospitalReviewing, StatusRejected),
		StatusHospitalReviewing:      next(StatusClarificationRequested, StatusConfirmedByHospital, StatusRejected),
		StatusClarificationRequested: next(StatusRejected),
		StatusWaitingForHospital:     next(StatusHospitalReviewing, StatusClarificationRequested, StatusConfirmedByHospital, StatusRejected),
		StatusConfirmedByHospital:    next(StatusSentToPharmacies, StatusRejected),
		StatusSentToPharmacies:       next(StatusRejected),
	},
	RolePatient: {
		StatusClarificationRequested: next(StatusWaitingForHospital),
	},
	RolePharmacy: {
		StatusSentToPharmacies:  next(StatusPharmacyReviewing, StatusOnHold),
		StatusPharmacyReviewing: next(StatusAwaitingPayment, StatusOnHold),
		StatusAwaitingPayment:   next(StatusOnHold),
		StatusPaymentReceived:   next(StatusReadyForPickup, StatusReadyForDelivery, StatusOnHold),
		StatusReadyForPickup:    next(StatusDispensed, StatusOnHold),
		StatusReadyForDelivery:  next(StatusDispensed, StatusOnHold),
	},
	RoleSystem: {
		StatusAwaitingPayment: next(StatusPaymentReceived),
	},
}

// CanTransition reports whether role may move a prescription from -> to
// according to the static table.
func CanTransition(role Role, from, to Status) bool {
	return validNext[role][from][to]
}

func (s Status) Terminal() bool {
	return s == StatusDispensed || s == StatusRejected
}
