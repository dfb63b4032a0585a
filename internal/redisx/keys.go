package redisx

import "time"

const (
	// Cache status prescription: prescription_status:{id} -> StatusSnapshot JSON
	KeyPrescriptionStatus = "prescription_status:%d"

	// Checkout lock per gateway reference: lock:checkout:{reference} -> owner token
	KeyCheckoutLock = "lock:checkout:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache  = 5 * time.Minute
	TTLCheckoutLock = 30 * time.Second
	TTLDedup        = 48 * time.Hour
)
