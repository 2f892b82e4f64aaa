// Package service реализует бизнес-логику расчётов и фулфилмента маркетплейса.
package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mmeshcher/marketplace-settlement/internal/model"
	"github.com/mmeshcher/marketplace-settlement/internal/repository"
	"github.com/mmeshcher/marketplace-settlement/internal/secure"
)

// ErrSignatureInvalid возвращается, если подпись события платёжного провайдера не прошла проверку.
var (
	ErrSignatureInvalid = errors.New("invalid webhook signature")
	// ErrBadPayload возвращается при некорректном теле события.
	ErrBadPayload = errors.New("malformed webhook payload")
	// ErrOutOfStock возвращается, если у товара недостаточно остатка.
	ErrOutOfStock = errors.New("insufficient stock")
	// ErrInvalidCard возвращается, если номер карты не проходит проверку.
	ErrInvalidCard = errors.New("invalid card number")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateOrderFromEvent(ctx context.Context, eventID string, order *model.Order, shipments []model.Shipment) (bool, error)
	GetOrderByCode(ctx context.Context, code string) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, code string, from, to model.OrderStatus) error
	GetShipmentsByOrderID(ctx context.Context, orderID int64) ([]model.Shipment, error)
	ListVendorShipments(ctx context.Context, vendorID, orderCode string) ([]model.Shipment, error)
	ApplyCarrierEvent(ctx context.Context, externalID string, status model.ShipmentStatus, info model.CarrierInfo, creditTriggering bool) (*repository.CarrierApplied, error)
	GetLedger(ctx context.Context, vendorID string) (model.Ledger, error)
	CreateBankDetails(ctx context.Context, bd *model.BankDetails) error
	UpdateBankDetails(ctx context.Context, bd *model.BankDetails) error
	GetBankDetails(ctx context.Context, id string) (*model.BankDetails, error)
	ListBankDetailsByVendor(ctx context.Context, vendorID string) ([]model.BankDetails, error)
	SavePaymentCard(ctx context.Context, card *model.PaymentCard) error
	GetPaymentCard(ctx context.Context, id string) (*model.PaymentCard, error)
	CreatePayout(ctx context.Context, p *model.PayoutRequest) error
	GetPayout(ctx context.Context, id string) (*model.PayoutRequest, error)
	ListPayouts(ctx context.Context, filter repository.PayoutFilter) ([]model.PayoutRequest, int64, error)
	PayoutStatsByVendor(ctx context.Context, vendorID string) (repository.PayoutStats, error)
	GetFinanceOverview(ctx context.Context) (repository.FinanceOverview, error)
	ApprovePayout(ctx context.Context, id, invoiceImageURL string) (*model.PayoutRequest, error)
	RejectPayout(ctx context.Context, id, adminNote string) (*model.PayoutRequest, error)
}

// StockChecker описывает внешнюю проверку остатков товара.
type StockChecker interface {
	Available(ctx context.Context, productID string, quantity int) (bool, error)
}

// Notification описывает событие для внешнего диспетчера уведомлений.
type Notification struct {
	Type        string    `json:"type"`
	OrderCode   string    `json:"order_code,omitempty"`
	VendorID    string    `json:"vendor_id,omitempty"`
	PayoutID    string    `json:"payout_id,omitempty"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	At          time.Time `json:"at"`
}

// Notifier отправляет уведомления по принципу fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Service содержит бизнес-логику сервиса расчётов.
type Service struct {
	repo              Repository
	codec             *secure.Codec
	stock             StockChecker
	notifier          Notifier
	webhookSecret     []byte
	commissionPercent float64
}

// NewService создаёт сервис. Проверка остатков и уведомления необязательны:
// nil-зависимость просто пропускается.
func NewService(repo Repository, codec *secure.Codec, stock StockChecker, notifier Notifier, webhookSecret string, commissionPercent float64) *Service {
	return &Service{
		repo:              repo,
		codec:             codec,
		stock:             stock,
		notifier:          notifier,
		webhookSecret:     []byte(webhookSecret),
		commissionPercent: commissionPercent,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) notify(ctx context.Context, n Notification) {
	if s.notifier == nil {
		return
	}
	n.At = time.Now().UTC()
	s.notifier.Notify(ctx, n)
}

// PaymentEventItem описывает одну позицию в событии платёжного провайдера.
type PaymentEventItem struct {
	ProductID      string `json:"product_id"`
	VendorID       string `json:"vendor_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	ImageURL       string `json:"image_url,omitempty"`
}

// PaymentEvent описывает событие "checkout завершён" платёжного провайдера.
type PaymentEvent struct {
	EventID             string             `json:"event_id"`
	CheckoutSessionID   string             `json:"checkout_session_id"`
	CustomerID          string             `json:"customer_id"`
	PaymentInstrumentID string             `json:"payment_instrument_id"`
	Items               []PaymentEventItem `json:"items"`
	TaxCents            int64              `json:"tax_cents"`
	ShippingCents       int64              `json:"shipping_cents"`
	ShippingAddress     model.Address      `json:"shipping_address"`
	Note                string             `json:"note,omitempty"`
}

// PaymentResult описывает исход обработки платёжного события.
type PaymentResult struct {
	Created bool
	Order   *model.Order
}

// VerifyPaymentSignature проверяет HMAC-SHA256 подпись тела события.
func (s *Service) VerifyPaymentSignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, s.webhookSecret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ProcessPaymentEvent идемпотентно превращает событие платёжного провайдера
// в заказ с отправлениями по продавцам. Повторная доставка того же события
// завершается успешно без побочных эффектов.
func (s *Service) ProcessPaymentEvent(ctx context.Context, body []byte, signature string) (*PaymentResult, error) {
	if !s.VerifyPaymentSignature(body, signature) {
		return nil, ErrSignatureInvalid
	}

	var ev PaymentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadPayload, err)
	}

	if ev.EventID == "" || len(ev.Items) == 0 {
		return nil, fmt.Errorf("%w: missing event id or items", ErrBadPayload)
	}
	for _, item := range ev.Items {
		if item.Quantity <= 0 || item.UnitPriceCents < 0 || item.ProductID == "" || item.VendorID == "" {
			return nil, fmt.Errorf("%w: bad line item", ErrBadPayload)
		}
	}

	if s.stock != nil {
		for _, item := range ev.Items {
			ok, err := s.stock.Available(ctx, item.ProductID, item.Quantity)
			if err != nil {
				return nil, fmt.Errorf("check stock: %w", err)
			}
			if !ok {
				return nil, fmt.Errorf("%w: product %s", ErrOutOfStock, item.ProductID)
			}
		}
	}

	order := buildOrder(ev)
	shipments := buildShipments(order.Items)

	var created bool
	err := retry.Do(ctx, retry.WithMaxRetries(3, retry.NewConstant(10*time.Millisecond)), func(ctx context.Context) error {
		order.Code = generateOrderCode()
		var err error
		created, err = s.repo.CreateOrderFromEvent(ctx, ev.EventID, order, shipments)
		if errors.Is(err, repository.ErrOrderCodeTaken) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.notify(ctx, Notification{
			Type:        "order_created",
			OrderCode:   order.Code,
			AmountCents: order.TotalCents,
		})
	}

	return &PaymentResult{Created: created, Order: order}, nil
}

func buildOrder(ev PaymentEvent) *model.Order {
	order := &model.Order{
		CheckoutSessionID:   ev.CheckoutSessionID,
		CustomerID:          ev.CustomerID,
		PaymentInstrumentID: ev.PaymentInstrumentID,
		Status:              model.OrderStatusPending,
		TaxCents:            ev.TaxCents,
		ShippingCents:       ev.ShippingCents,
		ShippingAddress:     ev.ShippingAddress,
		Note:                ev.Note,
	}

	for _, item := range ev.Items {
		order.Items = append(order.Items, model.OrderItem{
			ProductID:      item.ProductID,
			VendorID:       item.VendorID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			ImageURL:       item.ImageURL,
		})
		order.SubtotalCents += item.UnitPriceCents * int64(item.Quantity)
	}

	order.TotalCents = order.SubtotalCents + order.TaxCents + order.ShippingCents
	return order
}

// buildShipments группирует позиции заказа по продавцам: одно отправление
// на каждого продавца с суммой его позиций.
func buildShipments(items []model.OrderItem) []model.Shipment {
	index := make(map[string]int)
	var shipments []model.Shipment

	for _, item := range items {
		i, ok := index[item.VendorID]
		if !ok {
			i = len(shipments)
			index[item.VendorID] = i
			shipments = append(shipments, model.Shipment{
				ExternalID: uuid.New().String(),
				VendorID:   item.VendorID,
				Status:     model.ShipmentStatusUnpaid,
			})
		}
		shipments[i].Quantity += item.Quantity
		shipments[i].AmountCents += item.Total()
	}

	return shipments
}

// generateOrderCode формирует человекочитаемый код заказа. Уникальность
// гарантирует ограничение в БД с повтором генерации при конфликте.
func generateOrderCode() string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	n := binary.BigEndian.Uint32(buf[:]) % 1000000
	return fmt.Sprintf("MP-%s-%06d", time.Now().UTC().Format("20060102"), n)
}

var allowedOrderTransitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusPending:    {model.OrderStatusProcessing, model.OrderStatusCancelled},
	model.OrderStatusProcessing: {model.OrderStatusShipped, model.OrderStatusCancelled},
	model.OrderStatusShipped:    {model.OrderStatusDelivered, model.OrderStatusCancelled},
}

// UpdateOrderStatus переводит заказ в новый агрегированный статус.
// Допустимы только переходы вперёд и досрочная отмена.
func (s *Service) UpdateOrderStatus(ctx context.Context, code string, to model.OrderStatus) error {
	order, err := s.repo.GetOrderByCode(ctx, code)
	if err != nil {
		return err
	}

	allowed := false
	for _, next := range allowedOrderTransitions[order.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", repository.ErrInvalidTransition, order.Status, to)
	}

	return s.repo.UpdateOrderStatus(ctx, code, order.Status, to)
}

// OrderView объединяет заказ, его отправления и производный статус.
type OrderView struct {
	Order           *model.Order
	Shipments       []model.Shipment
	EffectiveStatus model.OrderStatus
}

// GetOrder возвращает заказ с отправлениями и производным статусом.
func (s *Service) GetOrder(ctx context.Context, code string) (*OrderView, error) {
	order, err := s.repo.GetOrderByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	shipments, err := s.repo.GetShipmentsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	return &OrderView{
		Order:           order,
		Shipments:       shipments,
		EffectiveStatus: EffectiveOrderStatus(order.Status, shipments),
	}, nil
}

// EffectiveOrderStatus выводит агрегированный статус заказа из детальных
// статусов отправлений. Отчётная проекция, статус самого заказа не меняет.
func EffectiveOrderStatus(coarse model.OrderStatus, shipments []model.Shipment) model.OrderStatus {
	if coarse == model.OrderStatusCancelled || len(shipments) == 0 {
		return coarse
	}

	terminal := 0
	cancelled := 0
	moving := false
	confirmed := false

	for _, sh := range shipments {
		switch {
		case model.IsCreditTriggering(sh.Status):
			terminal++
		case sh.Status == model.ShipmentStatusCancelled:
			cancelled++
		case sh.Status == model.ShipmentStatusPickupCompleted,
			sh.Status == model.ShipmentStatusInTransitToHub,
			sh.Status == model.ShipmentStatusOutForDelivery:
			moving = true
		case sh.Status != model.ShipmentStatusUnpaid:
			confirmed = true
		}
	}

	switch {
	case cancelled == len(shipments):
		return model.OrderStatusCancelled
	case terminal == len(shipments)-cancelled:
		return model.OrderStatusDelivered
	case moving:
		return model.OrderStatusShipped
	case confirmed || terminal > 0:
		return model.OrderStatusProcessing
	default:
		return model.OrderStatusPending
	}
}

// CarrierResult описывает исход применения события курьерской службы.
type CarrierResult struct {
	Applied     *repository.CarrierApplied
	NewStatus   model.ShipmentStatus
	KnownStatus bool
}

// ApplyCarrierEvent применяет событие курьерской службы к отправлению.
// Любой сообщённый статус принимается как текущий; начисление продавцу
// выполняется не более одного раза на отправление.
func (s *Service) ApplyCarrierEvent(ctx context.Context, externalID string, status model.ShipmentStatus, info model.CarrierInfo) (*CarrierResult, error) {
	applied, err := s.repo.ApplyCarrierEvent(ctx, externalID, status, info, model.IsCreditTriggering(status))
	if err != nil {
		return nil, err
	}

	return &CarrierResult{
		Applied:     applied,
		NewStatus:   status,
		KnownStatus: model.IsKnownShipmentStatus(status),
	}, nil
}

// ListVendorShipments возвращает отправления продавца для его кабинета.
func (s *Service) ListVendorShipments(ctx context.Context, vendorID, orderCode string) ([]model.Shipment, error) {
	return s.repo.ListVendorShipments(ctx, vendorID, orderCode)
}

var moneyPrinter = message.NewPrinter(language.English)

// FormatMoney форматирует сумму в центах для отображения.
func FormatMoney(cents int64) string {
	return moneyPrinter.Sprintf("$%.2f", float64(cents)/100)
}

// Invoice формирует текстовый счёт по заказу.
func (s *Service) Invoice(ctx context.Context, code string) (string, error) {
	order, err := s.repo.GetOrderByCode(ctx, code)
	if err != nil {
		return "", err
	}

	doc := fmt.Sprintf("INVOICE %s\n", order.Code)
	doc += fmt.Sprintf("Date: %s\n", order.CreatedAt.Format("2006-01-02"))
	doc += fmt.Sprintf("Customer: %s\n", order.CustomerID)
	doc += fmt.Sprintf("Ship to: %s, %s %s, %s\n\n",
		order.ShippingAddress.Recipient, order.ShippingAddress.Line1,
		order.ShippingAddress.City, order.ShippingAddress.Country)

	for _, item := range order.Items {
		doc += fmt.Sprintf("%-24s x%-3d %12s\n", item.ProductID, item.Quantity, FormatMoney(item.Total()))
	}

	doc += fmt.Sprintf("\nSubtotal: %s\n", FormatMoney(order.SubtotalCents))
	doc += fmt.Sprintf("Tax:      %s\n", FormatMoney(order.TaxCents))
	doc += fmt.Sprintf("Shipping: %s\n", FormatMoney(order.ShippingCents))
	doc += fmt.Sprintf("Total:    %s\n", FormatMoney(order.TotalCents))

	return doc, nil
}

// AvailableBalance возвращает доступный остаток продавца в центах.
func (s *Service) AvailableBalance(ctx context.Context, vendorID string) (int64, error) {
	ledger, err := s.repo.GetLedger(ctx, vendorID)
	if err != nil {
		return 0, err
	}
	return ledger.AvailableCents(), nil
}
