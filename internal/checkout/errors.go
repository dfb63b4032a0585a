package checkout

import "errors"

var (
	ErrPaymentVerificationFailed = errors.New("payment verification failed")
	ErrPaymentInitFailed         = errors.New("payment could not be initialized")
	ErrAmountMismatch            = errors.New("paid amount does not match prescription total")
	ErrCheckoutInProgress        = errors.New("checkout already in progress for this reference")
	// ErrDuplicatePayment is raised by stores when transaction_reference is
	// already recorded; the service resolves it to the existing order.
	ErrDuplicatePayment = errors.New("payment already recorded")
)
