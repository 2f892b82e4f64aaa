package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/marketplace-settlement/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса расчётов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/webhooks", func(r chi.Router) {
		r.Post("/payment", h.PaymentWebhook)
		r.Post("/carrier", h.CarrierWebhook)
	})

	r.Route("/api/vendor", func(r chi.Router) {
		r.Use(h.authMiddleware.RequireRole(custommiddleware.RoleVendor))

		r.Post("/payouts", h.CreatePayout)
		r.Get("/payouts", h.ListVendorPayouts)
		r.Get("/payouts/stats", h.VendorPayoutStats)

		r.Get("/balance", h.VendorBalance)
		r.Get("/shipments", h.ListVendorShipments)

		r.Post("/bank-details", h.SaveBankDetails)
		r.Get("/bank-details", h.ListBankDetails)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.RequireRole(custommiddleware.RoleAdmin))

		r.Get("/payouts", h.AdminListPayouts)
		r.Get("/payouts/{id}", h.AdminGetPayout)
		r.Post("/payouts/{id}/approve", h.ApprovePayout)
		r.Post("/payouts/{id}/reject", h.RejectPayout)

		r.Get("/finance/overview", h.FinanceOverview)

		r.Get("/orders/{code}", h.GetOrder)
		r.Get("/orders/{code}/invoice", h.OrderInvoice)
		r.Post("/orders/{code}/status", h.UpdateOrderStatus)
	})

	r.Route("/api/customer", func(r chi.Router) {
		r.Use(h.authMiddleware.RequireRole(custommiddleware.RoleCustomer))

		r.Post("/cards", h.SavePaymentCard)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
