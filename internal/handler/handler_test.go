package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-settlement/internal/middleware"
	"github.com/mmeshcher/marketplace-settlement/internal/model"
	"github.com/mmeshcher/marketplace-settlement/internal/repository"
	"github.com/mmeshcher/marketplace-settlement/internal/service"
)

type stubService struct {
	paymentResp *service.PaymentResult
	paymentErr  error

	carrierResp *service.CarrierResult
	carrierErr  error

	requestPayoutResp *service.PayoutView
	requestPayoutErr  error

	approveResp *model.PayoutRequest
	approveErr  error

	rejectResp *model.PayoutRequest
	rejectErr  error

	vendorPayoutsResp  []model.PayoutRequest
	vendorPayoutsTotal int64
	vendorPayoutsErr   error

	payoutsResp  []model.PayoutRequest
	payoutsTotal int64
	payoutsErr   error

	statsResp *service.VendorPayoutStats
	statsErr  error

	overviewResp *service.FinanceOverview
	overviewErr  error

	shipmentsResp []model.Shipment
	shipmentsErr  error

	saveBankResp *model.BankDetails
	saveBankErr  error

	listBankResp []service.MaskedBankDetails
	listBankErr  error

	saveCardResp *model.PaymentCard
	saveCardErr  error

	payoutViewResp *service.PayoutView
	payoutViewErr  error

	balanceResp int64
	balanceErr  error

	updateStatusErr error

	orderResp *service.OrderView
	orderErr  error

	invoiceResp string
	invoiceErr  error
}

func (s *stubService) ProcessPaymentEvent(ctx context.Context, body []byte, signature string) (*service.PaymentResult, error) {
	return s.paymentResp, s.paymentErr
}

func (s *stubService) ApplyCarrierEvent(ctx context.Context, externalID string, status model.ShipmentStatus, info model.CarrierInfo) (*service.CarrierResult, error) {
	return s.carrierResp, s.carrierErr
}

func (s *stubService) RequestPayout(ctx context.Context, sellerID, vendorID, bankDetailsID string, amount float64, note string) (*service.PayoutView, error) {
	return s.requestPayoutResp, s.requestPayoutErr
}

func (s *stubService) ApprovePayout(ctx context.Context, id, invoiceImageURL string) (*model.PayoutRequest, error) {
	return s.approveResp, s.approveErr
}

func (s *stubService) RejectPayout(ctx context.Context, id, adminNote string) (*model.PayoutRequest, error) {
	return s.rejectResp, s.rejectErr
}

func (s *stubService) ListVendorPayouts(ctx context.Context, vendorID string, status model.PayoutStatus, page, limit int) ([]model.PayoutRequest, int64, error) {
	return s.vendorPayoutsResp, s.vendorPayoutsTotal, s.vendorPayoutsErr
}

func (s *stubService) ListPayouts(ctx context.Context, status model.PayoutStatus, search, sort string, page, limit int) ([]model.PayoutRequest, int64, error) {
	return s.payoutsResp, s.payoutsTotal, s.payoutsErr
}

func (s *stubService) GetVendorPayoutStats(ctx context.Context, vendorID string) (*service.VendorPayoutStats, error) {
	return s.statsResp, s.statsErr
}

func (s *stubService) GetFinanceOverview(ctx context.Context) (*service.FinanceOverview, error) {
	return s.overviewResp, s.overviewErr
}

func (s *stubService) ListVendorShipments(ctx context.Context, vendorID, orderCode string) ([]model.Shipment, error) {
	return s.shipmentsResp, s.shipmentsErr
}

func (s *stubService) SaveBankDetails(ctx context.Context, in service.BankDetailsInput) (*model.BankDetails, error) {
	return s.saveBankResp, s.saveBankErr
}

func (s *stubService) ListBankDetails(ctx context.Context, vendorID string) ([]service.MaskedBankDetails, error) {
	return s.listBankResp, s.listBankErr
}

func (s *stubService) SavePaymentCard(ctx context.Context, in service.CardInput) (*model.PaymentCard, error) {
	return s.saveCardResp, s.saveCardErr
}

func (s *stubService) GetPayoutView(ctx context.Context, id string) (*service.PayoutView, error) {
	return s.payoutViewResp, s.payoutViewErr
}

func (s *stubService) AvailableBalance(ctx context.Context, vendorID string) (int64, error) {
	return s.balanceResp, s.balanceErr
}

func (s *stubService) UpdateOrderStatus(ctx context.Context, code string, to model.OrderStatus) error {
	return s.updateStatusErr
}

func (s *stubService) GetOrder(ctx context.Context, code string) (*service.OrderView, error) {
	return s.orderResp, s.orderErr
}

func (s *stubService) Invoice(ctx context.Context, code string) (string, error) {
	return s.invoiceResp, s.invoiceErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

func vendorRequest(t *testing.T, h *Handler, method, target string, body []byte) *http.Request {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))

	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, "vendor-1", middleware.RoleVendor)
	req.AddCookie(rec.Result().Cookies()[0])

	return req
}

func TestCreatePayout_Success(t *testing.T) {
	svc := &stubService{
		requestPayoutResp: &service.PayoutView{
			Request: model.PayoutRequest{
				ID:            "p-1",
				VendorID:      "vendor-1",
				BankDetailsID: "bd-1",
				AmountCents:   5000,
				Status:        model.PayoutStatusPending,
				CreatedAt:     time.Now().UTC(),
			},
			Bank: service.MaskedBankDetails{ID: "bd-1", IBAN: "************3000"},
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(createPayoutRequest{
		Amount:        50,
		BankDetailsID: "bd-1",
	})

	req := vendorRequest(t, h, http.MethodPost, "/api/vendor/payouts", body)
	rec := httptest.NewRecorder()

	handlerWithAuth := h.authMiddleware.RequireRole(middleware.RoleVendor)(http.HandlerFunc(h.CreatePayout))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp struct {
		ID     string  `json:"id"`
		Amount float64 `json:"amount"`
		Bank   struct {
			IBAN string `json:"iban"`
		} `json:"bank"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "p-1" || resp.Amount != 50 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Bank.IBAN != "************3000" {
		t.Fatalf("bank iban = %q, want masked", resp.Bank.IBAN)
	}
}

func TestCreatePayout_InsufficientBalance(t *testing.T) {
	svc := &stubService{
		requestPayoutErr: repository.ErrInsufficientBalance,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(createPayoutRequest{
		Amount:        1000,
		BankDetailsID: "bd-1",
	})

	req := vendorRequest(t, h, http.MethodPost, "/api/vendor/payouts", body)
	rec := httptest.NewRecorder()

	handlerWithAuth := h.authMiddleware.RequireRole(middleware.RoleVendor)(http.HandlerFunc(h.CreatePayout))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusPaymentRequired)
	}
}

func TestCreatePayout_Unauthorized(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body, _ := json.Marshal(createPayoutRequest{
		Amount:        10,
		BankDetailsID: "bd-1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/vendor/payouts", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handlerWithAuth := h.authMiddleware.RequireRole(middleware.RoleVendor)(http.HandlerFunc(h.CreatePayout))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestApprovePayout_AlreadyFinalized(t *testing.T) {
	svc := &stubService{
		approveErr: repository.ErrAlreadyFinalized,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(approvePayoutRequest{InvoiceImageURL: "https://cdn/inv.png"})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/payouts/p-1/approve", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.ApprovePayout(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestVendorPayoutStats_JSONResponse(t *testing.T) {
	svc := &stubService{
		statsResp: &service.VendorPayoutStats{
			Pending:        1,
			Paid:           2,
			EarnedCents:    10000,
			WithdrawnCents: 2500,
			AvailableCents: 7500,
		},
	}
	h := newTestHandler(t, svc)

	req := vendorRequest(t, h, http.MethodGet, "/api/vendor/payouts/stats", nil)
	rec := httptest.NewRecorder()

	handlerWithAuth := h.authMiddleware.RequireRole(middleware.RoleVendor)(http.HandlerFunc(h.VendorPayoutStats))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var resp vendorStatsResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Available != 75 {
		t.Fatalf("available = %v, want 75", resp.Available)
	}
}

func TestVendorBalance_JSONResponse(t *testing.T) {
	svc := &stubService{balanceResp: 12345}
	h := newTestHandler(t, svc)

	req := vendorRequest(t, h, http.MethodGet, "/api/vendor/balance", nil)
	rec := httptest.NewRecorder()

	handlerWithAuth := h.authMiddleware.RequireRole(middleware.RoleVendor)(http.HandlerFunc(h.VendorBalance))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp map[string]float64
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["available"] != 123.45 {
		t.Fatalf("available = %v, want 123.45", resp["available"])
	}
}

func TestVendorEndpoint_ForbiddenForCustomer(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/vendor/shipments", nil)
	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, "customer-1", middleware.RoleCustomer)
	req.AddCookie(rec.Result().Cookies()[0])

	respRec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.RequireRole(middleware.RoleVendor)(http.HandlerFunc(h.ListVendorShipments))
	handlerWithAuth.ServeHTTP(respRec, req)

	res := respRec.Result()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}
