package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-settlement/internal/model"
	"github.com/mmeshcher/marketplace-settlement/internal/repository"
	"github.com/mmeshcher/marketplace-settlement/internal/service"
)

const paymentSignatureHeader = "X-Payment-Signature"

// PaymentWebhook принимает событие об успешной оплате от платёжного провайдера.
// Повторная доставка того же события безопасна и отвечает 200.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	result, err := h.service.ProcessPaymentEvent(r.Context(), body, r.Header.Get(paymentSignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSignatureInvalid):
			h.logger.Warn("payment webhook signature rejected")
			http.Error(w, "invalid signature", http.StatusBadRequest)
		case errors.Is(err, service.ErrBadPayload):
			http.Error(w, "malformed payload", http.StatusBadRequest)
		case errors.Is(err, service.ErrOutOfStock):
			http.Error(w, "insufficient stock", http.StatusUnprocessableEntity)
		default:
			h.logger.Error("payment webhook", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	if !result.Created {
		h.logger.Info("payment event already processed", zap.String("order", result.Order.Code))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order_code": result.Order.Code,
		"created":    result.Created,
	})
}

type carrierEventRequest struct {
	ShipmentID string            `json:"shipment_id"`
	Status     string            `json:"status"`
	Carrier    model.CarrierInfo `json:"carrier"`
}

// CarrierWebhook принимает событие курьерской службы по отправлению.
// Неизвестное отправление подтверждается 200, чтобы служба не повторяла доставку.
func (h *Handler) CarrierWebhook(w http.ResponseWriter, r *http.Request) {
	var req carrierEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.ShipmentID == "" || req.Status == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	result, err := h.service.ApplyCarrierEvent(r.Context(), req.ShipmentID, model.ShipmentStatus(req.Status), req.Carrier)
	if err != nil {
		if errors.Is(err, repository.ErrUnknownShipment) {
			h.logger.Warn("carrier event for unknown shipment", zap.String("shipment", req.ShipmentID))
			writeJSON(w, http.StatusOK, map[string]any{"applied": false})
			return
		}
		h.logger.Error("carrier webhook", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if !result.KnownStatus {
		h.logger.Warn("unknown carrier status accepted",
			zap.String("shipment", req.ShipmentID),
			zap.String("status", req.Status))
	}

	if result.Applied.WasCredited && result.NewStatus != result.Applied.PrevStatus {
		// Начисление не отменяется, расхождение фиксируется для разбора.
		h.logger.Warn("status change after vendor credit",
			zap.String("shipment", req.ShipmentID),
			zap.String("prev_status", string(result.Applied.PrevStatus)),
			zap.String("new_status", string(result.NewStatus)))
	}

	if result.Applied.CreditedNow {
		h.logger.Info("vendor credited for shipment",
			zap.String("shipment", req.ShipmentID),
			zap.String("vendor", result.Applied.VendorID),
			zap.Int64("amount_cents", result.Applied.AmountCents))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"applied":  true,
		"credited": result.Applied.CreditedNow,
	})
}
