// Package handler содержит HTTP-обработчики API сервиса расчётов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-settlement/internal/middleware"
	"github.com/mmeshcher/marketplace-settlement/internal/model"
	"github.com/mmeshcher/marketplace-settlement/internal/repository"
	"github.com/mmeshcher/marketplace-settlement/internal/secure"
	"github.com/mmeshcher/marketplace-settlement/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	ProcessPaymentEvent(ctx context.Context, body []byte, signature string) (*service.PaymentResult, error)
	ApplyCarrierEvent(ctx context.Context, externalID string, status model.ShipmentStatus, info model.CarrierInfo) (*service.CarrierResult, error)
	RequestPayout(ctx context.Context, sellerID, vendorID, bankDetailsID string, amount float64, note string) (*service.PayoutView, error)
	ApprovePayout(ctx context.Context, id, invoiceImageURL string) (*model.PayoutRequest, error)
	RejectPayout(ctx context.Context, id, adminNote string) (*model.PayoutRequest, error)
	ListVendorPayouts(ctx context.Context, vendorID string, status model.PayoutStatus, page, limit int) ([]model.PayoutRequest, int64, error)
	ListPayouts(ctx context.Context, status model.PayoutStatus, search, sort string, page, limit int) ([]model.PayoutRequest, int64, error)
	GetVendorPayoutStats(ctx context.Context, vendorID string) (*service.VendorPayoutStats, error)
	GetFinanceOverview(ctx context.Context) (*service.FinanceOverview, error)
	ListVendorShipments(ctx context.Context, vendorID, orderCode string) ([]model.Shipment, error)
	SaveBankDetails(ctx context.Context, in service.BankDetailsInput) (*model.BankDetails, error)
	ListBankDetails(ctx context.Context, vendorID string) ([]service.MaskedBankDetails, error)
	SavePaymentCard(ctx context.Context, in service.CardInput) (*model.PaymentCard, error)
	GetPayoutView(ctx context.Context, id string) (*service.PayoutView, error)
	AvailableBalance(ctx context.Context, vendorID string) (int64, error)
	UpdateOrderStatus(ctx context.Context, code string, to model.OrderStatus) error
	GetOrder(ctx context.Context, code string) (*service.OrderView, error)
	Invoice(ctx context.Context, code string) (string, error)
}

// Handler реализует HTTP-обработчики API сервиса расчётов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError переводит доменные ошибки в HTTP-статусы.
func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, repository.ErrInsufficientBalance):
		http.Error(w, "insufficient balance", http.StatusPaymentRequired)
	case errors.Is(err, repository.ErrAlreadyFinalized):
		http.Error(w, "payout request already finalized", http.StatusConflict)
	case errors.Is(err, repository.ErrInvalidTransition):
		http.Error(w, "invalid status transition", http.StatusConflict)
	case errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrPayoutNotFound),
		errors.Is(err, repository.ErrBankDetailsNotFound),
		errors.Is(err, repository.ErrCardNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, service.ErrBadPayload), errors.Is(err, service.ErrInvalidCard):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	case errors.Is(err, secure.ErrDecryptionFailed):
		// Детали ошибки расшифровки наружу не выдаются.
		h.logger.Error(op, zap.Error(err))
		http.Error(w, "stored record is unreadable", http.StatusInternalServerError)
	default:
		h.logger.Error(op, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type payoutResponse struct {
	ID              string  `json:"id"`
	VendorID        string  `json:"vendor_id"`
	BankDetailsID   string  `json:"bank_details_id"`
	Amount          float64 `json:"amount"`
	Status          string  `json:"status"`
	Note            string  `json:"note,omitempty"`
	AdminNote       string  `json:"admin_note,omitempty"`
	InvoiceImageURL string  `json:"invoice_image_url,omitempty"`
	PaidAt          *string `json:"paid_at,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

func toPayoutResponse(p model.PayoutRequest) payoutResponse {
	resp := payoutResponse{
		ID:              p.ID,
		VendorID:        p.VendorID,
		BankDetailsID:   p.BankDetailsID,
		Amount:          float64(p.AmountCents) / 100,
		Status:          string(p.Status),
		Note:            p.Note,
		AdminNote:       p.AdminNote,
		InvoiceImageURL: p.InvoiceImageURL,
		CreatedAt:       p.CreatedAt.Format(time.RFC3339),
	}
	if p.PaidAt != nil {
		v := p.PaidAt.Format(time.RFC3339)
		resp.PaidAt = &v
	}
	return resp
}

type payoutListResponse struct {
	Items []payoutResponse `json:"items"`
	Total int64            `json:"total"`
}

type createPayoutRequest struct {
	Amount        float64 `json:"amount"`
	BankDetailsID string  `json:"bank_details_id"`
	Note          string  `json:"note"`
}

// CreatePayout создаёт заявку текущего продавца на вывод средств.
func (h *Handler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createPayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Amount <= 0 || req.BankDetailsID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	view, err := h.service.RequestPayout(r.Context(), id.Subject, id.Subject, req.BankDetailsID, req.Amount, req.Note)
	if err != nil {
		h.respondError(w, err, "create payout")
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		payoutResponse
		Bank service.MaskedBankDetails `json:"bank"`
	}{
		payoutResponse: toPayoutResponse(view.Request),
		Bank:           view.Bank,
	})
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}

// ListVendorPayouts возвращает страницу заявок текущего продавца.
func (h *Handler) ListVendorPayouts(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	page, limit := pageParams(r)
	status := model.PayoutStatus(r.URL.Query().Get("status"))

	items, total, err := h.service.ListVendorPayouts(r.Context(), id.Subject, status, page, limit)
	if err != nil {
		h.respondError(w, err, "list vendor payouts")
		return
	}

	resp := payoutListResponse{Items: make([]payoutResponse, 0, len(items)), Total: total}
	for _, p := range items {
		resp.Items = append(resp.Items, toPayoutResponse(p))
	}

	writeJSON(w, http.StatusOK, resp)
}

type vendorStatsResponse struct {
	Pending   int64   `json:"pending"`
	Paid      int64   `json:"paid"`
	Rejected  int64   `json:"rejected"`
	Earned    float64 `json:"earned"`
	Withdrawn float64 `json:"withdrawn"`
	Available float64 `json:"available"`
}

// VendorPayoutStats возвращает сводку текущего продавца по заявкам и балансу.
func (h *Handler) VendorPayoutStats(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	stats, err := h.service.GetVendorPayoutStats(r.Context(), id.Subject)
	if err != nil {
		h.respondError(w, err, "vendor payout stats")
		return
	}

	writeJSON(w, http.StatusOK, vendorStatsResponse{
		Pending:   stats.Pending,
		Paid:      stats.Paid,
		Rejected:  stats.Rejected,
		Earned:    float64(stats.EarnedCents) / 100,
		Withdrawn: float64(stats.WithdrawnCents) / 100,
		Available: float64(stats.AvailableCents) / 100,
	})
}

type shipmentResponse struct {
	ExternalID string            `json:"external_id"`
	OrderCode  string            `json:"order_code"`
	Quantity   int               `json:"quantity"`
	Amount     float64           `json:"amount"`
	Status     string            `json:"status"`
	Carrier    model.CarrierInfo `json:"carrier"`
	UpdatedAt  string            `json:"updated_at"`
}

func toShipmentResponse(s model.Shipment) shipmentResponse {
	return shipmentResponse{
		ExternalID: s.ExternalID,
		OrderCode:  s.OrderCode,
		Quantity:   s.Quantity,
		Amount:     float64(s.AmountCents) / 100,
		Status:     string(s.Status),
		Carrier:    s.Carrier,
		UpdatedAt:  s.UpdatedAt.Format(time.RFC3339),
	}
}

// ListVendorShipments возвращает отправления текущего продавца.
func (h *Handler) ListVendorShipments(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	shipments, err := h.service.ListVendorShipments(r.Context(), id.Subject, r.URL.Query().Get("order"))
	if err != nil {
		h.respondError(w, err, "list vendor shipments")
		return
	}

	resp := make([]shipmentResponse, 0, len(shipments))
	for _, s := range shipments {
		resp = append(resp, toShipmentResponse(s))
	}

	writeJSON(w, http.StatusOK, resp)
}

type bankDetailsRequest struct {
	ID         string `json:"id,omitempty"`
	BankName   string `json:"bank_name"`
	HolderName string `json:"holder_name"`
	IBAN       string `json:"iban"`
	SWIFT      string `json:"swift"`
}

// SaveBankDetails создаёт или обновляет банковские реквизиты текущего продавца.
func (h *Handler) SaveBankDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req bankDetailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	bd, err := h.service.SaveBankDetails(r.Context(), service.BankDetailsInput{
		ID:         req.ID,
		SellerID:   id.Subject,
		VendorID:   id.Subject,
		BankName:   req.BankName,
		HolderName: req.HolderName,
		IBAN:       req.IBAN,
		SWIFT:      req.SWIFT,
	})
	if err != nil {
		h.respondError(w, err, "save bank details")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": bd.ID})
}

// ListBankDetails возвращает маскированные реквизиты текущего продавца.
func (h *Handler) ListBankDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	records, err := h.service.ListBankDetails(r.Context(), id.Subject)
	if err != nil {
		h.respondError(w, err, "list bank details")
		return
	}

	writeJSON(w, http.StatusOK, records)
}

type saveCardRequest struct {
	ID      string `json:"id,omitempty"`
	Number  string `json:"number"`
	CVV     string `json:"cvv"`
	Brand   string `json:"brand"`
	Expires string `json:"expires"`
}

// SavePaymentCard сохраняет карту текущего покупателя.
func (h *Handler) SavePaymentCard(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req saveCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	card, err := h.service.SavePaymentCard(r.Context(), service.CardInput{
		ID:         req.ID,
		CustomerID: id.Subject,
		Brand:      req.Brand,
		Expires:    req.Expires,
		Number:     req.Number,
		CVV:        req.CVV,
	})
	if err != nil {
		h.respondError(w, err, "save payment card")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": card.ID})
}

// VendorBalance возвращает доступный остаток текущего продавца.
func (h *Handler) VendorBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	cents, err := h.service.AvailableBalance(r.Context(), id.Subject)
	if err != nil {
		h.respondError(w, err, "vendor balance")
		return
	}

	writeJSON(w, http.StatusOK, map[string]float64{"available": float64(cents) / 100})
}

// AdminGetPayout возвращает заявку с маскированными реквизитами.
func (h *Handler) AdminGetPayout(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetPayoutView(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err, "admin get payout")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		payoutResponse
		Bank service.MaskedBankDetails `json:"bank"`
	}{
		payoutResponse: toPayoutResponse(view.Request),
		Bank:           view.Bank,
	})
}

// AdminListPayouts возвращает страницу заявок по всем продавцам.
func (h *Handler) AdminListPayouts(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	q := r.URL.Query()

	items, total, err := h.service.ListPayouts(r.Context(),
		model.PayoutStatus(q.Get("status")), q.Get("search"), q.Get("sort"), page, limit)
	if err != nil {
		h.respondError(w, err, "admin list payouts")
		return
	}

	resp := payoutListResponse{Items: make([]payoutResponse, 0, len(items)), Total: total}
	for _, p := range items {
		resp.Items = append(resp.Items, toPayoutResponse(p))
	}

	writeJSON(w, http.StatusOK, resp)
}

type approvePayoutRequest struct {
	InvoiceImageURL string `json:"invoice_image_url"`
}

// ApprovePayout одобряет заявку на вывод средств.
func (h *Handler) ApprovePayout(w http.ResponseWriter, r *http.Request) {
	var req approvePayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.ApprovePayout(r.Context(), chi.URLParam(r, "id"), req.InvoiceImageURL)
	if err != nil {
		h.respondError(w, err, "approve payout")
		return
	}

	writeJSON(w, http.StatusOK, toPayoutResponse(*p))
}

type rejectPayoutRequest struct {
	Note string `json:"note"`
}

// RejectPayout отклоняет заявку на вывод средств.
func (h *Handler) RejectPayout(w http.ResponseWriter, r *http.Request) {
	var req rejectPayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.RejectPayout(r.Context(), chi.URLParam(r, "id"), req.Note)
	if err != nil {
		h.respondError(w, err, "reject payout")
		return
	}

	writeJSON(w, http.StatusOK, toPayoutResponse(*p))
}

type financeOverviewResponse struct {
	Requested     float64 `json:"requested"`
	Pending       float64 `json:"pending"`
	Paid          float64 `json:"paid"`
	GrossEarnings float64 `json:"gross_earnings"`
	Commission    float64 `json:"commission"`
}

// FinanceOverview возвращает финансовую сводку платформы.
func (h *Handler) FinanceOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.service.GetFinanceOverview(r.Context())
	if err != nil {
		h.respondError(w, err, "finance overview")
		return
	}

	writeJSON(w, http.StatusOK, financeOverviewResponse{
		Requested:     float64(ov.RequestedCents) / 100,
		Pending:       float64(ov.PendingCents) / 100,
		Paid:          float64(ov.PaidCents) / 100,
		GrossEarnings: float64(ov.GrossEarningsCents) / 100,
		Commission:    float64(ov.CommissionCents) / 100,
	})
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus переводит заказ в новый агрегированный статус.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateOrderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.UpdateOrderStatus(r.Context(), chi.URLParam(r, "code"), model.OrderStatus(req.Status))
	if err != nil {
		h.respondError(w, err, "update order status")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type orderResponse struct {
	Code            string             `json:"code"`
	CustomerID      string             `json:"customer_id"`
	Status          string             `json:"status"`
	EffectiveStatus string             `json:"effective_status"`
	Subtotal        float64            `json:"subtotal"`
	Tax             float64            `json:"tax"`
	Shipping        float64            `json:"shipping"`
	Total           float64            `json:"total"`
	ShippingAddress model.Address      `json:"shipping_address"`
	Shipments       []shipmentResponse `json:"shipments"`
	CreatedAt       string             `json:"created_at"`
}

// GetOrder возвращает заказ с отправлениями и производным статусом.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, err, "get order")
		return
	}

	resp := orderResponse{
		Code:            view.Order.Code,
		CustomerID:      view.Order.CustomerID,
		Status:          string(view.Order.Status),
		EffectiveStatus: string(view.EffectiveStatus),
		Subtotal:        float64(view.Order.SubtotalCents) / 100,
		Tax:             float64(view.Order.TaxCents) / 100,
		Shipping:        float64(view.Order.ShippingCents) / 100,
		Total:           float64(view.Order.TotalCents) / 100,
		ShippingAddress: view.Order.ShippingAddress,
		Shipments:       make([]shipmentResponse, 0, len(view.Shipments)),
		CreatedAt:       view.Order.CreatedAt.Format(time.RFC3339),
	}
	for _, s := range view.Shipments {
		resp.Shipments = append(resp.Shipments, toShipmentResponse(s))
	}

	writeJSON(w, http.StatusOK, resp)
}

// OrderInvoice отдаёт текстовый счёт по заказу.
func (h *Handler) OrderInvoice(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Invoice(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, err, "order invoice")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=invoice.txt")
	_, _ = w.Write([]byte(doc))
}
