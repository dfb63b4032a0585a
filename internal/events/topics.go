package events

import "strconv"

const (
	TopicStatusChanged   = "prescription.status.changed"
	TopicPaymentReceived = "prescription.payment.received"
)

// Partition key = prescription id, so one prescription's events stay ordered.
func PartitionKey(prescriptionID int64) []byte {
	return []byte(strconv.FormatInt(prescriptionID, 10))
}
