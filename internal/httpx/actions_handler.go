package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/medlink/internal/auth"
	"github.com/ariefcatur/medlink/internal/checkout"
	"github.com/ariefcatur/medlink/internal/prescriptions"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Workflow interface {
	ApplyTransition(ctx context.Context, a prescriptions.Actor, req prescriptions.TransitionRequest) (*prescriptions.Prescription, error)
	RespondToClarification(ctx context.Context, a prescriptions.Actor, prescriptionID int64, response string) (*prescriptions.Prescription, error)
	Get(ctx context.Context, a prescriptions.Actor, id int64) (*prescriptions.Details, error)
	CurrentStatus(ctx context.Context, a prescriptions.Actor, id int64) (*prescriptions.StatusSnapshot, error)
}

type Checkout interface {
	CompleteCheckout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
	InitializePayment(ctx context.Context, req checkout.InitializeRequest) (*checkout.Initialization, error)
}

type ActionsHandler struct {
	Workflow Workflow
	Checkout Checkout
}

func (h *ActionsHandler) Register(r chi.Router, throttle func(http.Handler) http.Handler) {
	r.Post("/actions/update_prescription_status", h.updateStatus)
	r.Post("/actions/submit_clarification_response", h.submitClarificationResponse)
	r.Post("/actions/update_prescription_status_pharmacy", h.updateStatusPharmacy)
	r.With(throttle).Post("/actions/process_checkout", h.processCheckout)
	r.With(throttle).Post("/actions/initialize_payment", h.initializePayment)
	r.Get("/prescriptions/{id}", h.getPrescription)
	r.Get("/prescriptions/{id}/status", h.getStatus)
}

type UpdateStatusReq struct {
	PrescriptionID       int64  `json:"prescription_id"`
	Status               string `json:"status"`
	ClarificationMessage string `json:"clarification_message"`
	TimelineText         string `json:"timeline_text"`
}

type ClarificationResponseReq struct {
	PrescriptionID        int64  `json:"prescription_id"`
	ClarificationResponse string `json:"clarification_response"`
}

// PharmacyStatusReq accepts total_amount for compatibility; the total is
// always recomputed from the medicine prices.
type PharmacyStatusReq struct {
	PrescriptionID int64                     `json:"prescription_id"`
	Status         string                    `json:"status"`
	MedicinePrices map[int64]decimal.Decimal `json:"medicine_prices"`
	TotalAmount    *decimal.Decimal          `json:"total_amount,omitempty"`
	TimelineText   string                    `json:"timeline_text"`
}

type CheckoutReq struct {
	TransactionReference string `json:"transaction_reference"`
	PrescriptionID       int64  `json:"prescription_id"`
	DeliveryAddress      string `json:"delivery_address"`
	Notes                string `json:"notes"`
}

type InitializePaymentReq struct {
	PrescriptionID int64  `json:"prescription_id"`
	Email          string `json:"email"`
}

type StatusResp struct {
	Status      string  `json:"status"`
	NewStatus   string  `json:"new_status"`
	TotalAmount *string `json:"total_amount,omitempty"`
}

type CheckoutResp struct {
	Status         string `json:"status"`
	OrderID        int64  `json:"order_id"`
	OrderReference string `json:"order_reference"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Idempotent     bool   `json:"idempotent"`
}

type InitializePaymentResp struct {
	Status           string `json:"status"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
}

// maxBodyBytes caps action request bodies.
const maxBodyBytes = 1 << 20

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body too large", prescriptions.ErrInvalidInput)
		}
		return fmt.Errorf("%w: invalid json", prescriptions.ErrInvalidInput)
	}
	return nil
}

// actorAs returns the caller when it has the given role.
func actorAs(r *http.Request, role prescriptions.Role) (prescriptions.Actor, error) {
	a, ok := auth.ActorFrom(r.Context())
	if !ok {
		return a, auth.ErrUnauthenticated
	}
	if a.Role != role {
		return a, prescriptions.ErrForbidden
	}
	return a, nil
}

func (h *ActionsHandler) respondStatus(w http.ResponseWriter, p *prescriptions.Prescription) {
	resp := StatusResp{Status: "success", NewStatus: string(p.Status)}
	if p.TotalAmount.Valid {
		s := p.TotalAmount.Decimal.StringFixed(2)
		resp.TotalAmount = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ActionsHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	a, err := actorAs(r, prescriptions.RoleHospital)
	if err != nil {
		writeActorError(w, r, err)
		return
	}
	var req UpdateStatusReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	to, err := prescriptions.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Workflow.ApplyTransition(ctx, a, prescriptions.TransitionRequest{
		PrescriptionID:       req.PrescriptionID,
		Status:               to,
		ClarificationMessage: req.ClarificationMessage,
		TimelineText:         req.TimelineText,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respondStatus(w, p)
}

func (h *ActionsHandler) submitClarificationResponse(w http.ResponseWriter, r *http.Request) {
	a, err := actorAs(r, prescriptions.RolePatient)
	if err != nil {
		writeActorError(w, r, err)
		return
	}
	var req ClarificationResponseReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Workflow.RespondToClarification(ctx, a, req.PrescriptionID, req.ClarificationResponse)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respondStatus(w, p)
}

func (h *ActionsHandler) updateStatusPharmacy(w http.ResponseWriter, r *http.Request) {
	a, err := actorAs(r, prescriptions.RolePharmacy)
	if err != nil {
		writeActorError(w, r, err)
		return
	}
	var req PharmacyStatusReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	to, err := prescriptions.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Workflow.ApplyTransition(ctx, a, prescriptions.TransitionRequest{
		PrescriptionID: req.PrescriptionID,
		Status:         to,
		MedicinePrices: req.MedicinePrices,
		TimelineText:   req.TimelineText,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respondStatus(w, p)
}

func (h *ActionsHandler) processCheckout(w http.ResponseWriter, r *http.Request) {
	a, err := actorAs(r, prescriptions.RolePatient)
	if err != nil {
		writeActorError(w, r, err)
		return
	}
	var req CheckoutReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	// gateway round trip included
	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	res, err := h.Checkout.CompleteCheckout(ctx, checkout.Request{
		PatientID:            a.ID,
		PrescriptionID:       req.PrescriptionID,
		TransactionReference: req.TransactionReference,
		DeliveryAddress:      req.DeliveryAddress,
		Notes:                req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CheckoutResp{
		Status:         "success",
		OrderID:        res.OrderID,
		OrderReference: res.OrderReference,
		Amount:         res.Amount.StringFixed(2),
		Currency:       res.Currency,
		Idempotent:     res.Idempotent,
	})
}

func (h *ActionsHandler) initializePayment(w http.ResponseWriter, r *http.Request) {
	a, err := actorAs(r, prescriptions.RolePatient)
	if err != nil {
		writeActorError(w, r, err)
		return
	}
	var req InitializePaymentReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = a.Email
	}

	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	init, err := h.Checkout.InitializePayment(ctx, checkout.InitializeRequest{
		PatientID:      a.ID,
		PrescriptionID: req.PrescriptionID,
		Email:          email,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, InitializePaymentResp{
		Status:           "success",
		AuthorizationURL: init.AuthorizationURL,
		AccessCode:       init.AccessCode,
		Reference:        init.Reference,
		Amount:           init.Amount.StringFixed(2),
		Currency:         init.Currency,
	})
}

func (h *ActionsHandler) getPrescription(w http.ResponseWriter, r *http.Request) {
	a, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeActorError(w, r, auth.ErrUnauthenticated)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	d, err := h.Workflow.Get(ctx, a, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *ActionsHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	a, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeActorError(w, r, auth.ErrUnauthenticated)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	s, err := h.Workflow.CurrentStatus(ctx, a, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "success",
		"prescription_id":     id,
		"prescription_status": s.Status,
		"updated_at":          s.UpdatedAt,
	})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid prescription id", prescriptions.ErrInvalidInput)
	}
	return id, nil
}

func writeActorError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auth.ErrUnauthenticated) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Status: "error", Message: "authentication required"})
		return
	}
	writeError(w, r, err)
}
