package checkout

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPaid = "paid"
)

type Order struct {
	ID              int64           `json:"id"`
	PatientID       int64           `json:"patient_id"`
	PrescriptionID  int64           `json:"prescription_id"`
	PharmacyID      *int64          `json:"pharmacy_id,omitempty"`
	Reference       string          `json:"reference"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
	Status          string          `json:"status"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type OrderLine struct {
	ID         int64           `json:"id"`
	OrderID    int64           `json:"order_id"`
	MedicineID int64           `json:"medicine_id"`
	Name       string          `json:"name"`
	Dosage     string          `json:"dosage"`
	Price      decimal.Decimal `json:"price"`
}

type Payment struct {
	ID                   int64           `json:"id"`
	OrderID              int64           `json:"order_id"`
	TransactionReference string          `json:"transaction_reference"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Channel              string          `json:"channel"`
	AuthorizationCode    string          `json:"authorization_code"`
	Status               string          `json:"status"`
	CreatedAt            time.Time       `json:"created_at"`
}

type Request struct {
	PatientID            int64
	PrescriptionID       int64
	TransactionReference string
	DeliveryAddress      string
	Notes                string
}

type Result struct {
	OrderID        int64           `json:"order_id"`
	OrderReference string          `json:"order_reference"`
	PrescriptionID int64           `json:"prescription_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Channel        string          `json:"channel"`
	// Idempotent is set when the reference had already been reconciled.
	Idempotent bool `json:"idempotent"`
}

type InitializeRequest struct {
	PatientID      int64
	PrescriptionID int64
	Email          string
}

type Initialization struct {
	AuthorizationURL string          `json:"authorization_url"`
	AccessCode       string          `json:"access_code"`
	Reference        string          `json:"reference"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
}
