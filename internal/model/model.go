// Package model содержит доменные сущности сервиса расчётов маркетплейса.
package model

import "time"

// OrderStatus описывает агрегированный статус заказа, видимый покупателю и администратору.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// Address хранит снимок адреса доставки на момент оформления заказа.
// Снимок неизменяем: последующие правки адреса покупателя на него не влияют.
type Address struct {
	Recipient  string `json:"recipient"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// OrderItem описывает одну позицию заказа. Цена хранится в центах.
type OrderItem struct {
	ProductID      string
	VendorID       string
	Quantity       int
	UnitPriceCents int64
	ImageURL       string
}

// Total возвращает стоимость позиции в центах.
func (i OrderItem) Total() int64 {
	return i.UnitPriceCents * int64(i.Quantity)
}

// Order описывает заказ покупателя: суммы, снимок доставки и агрегированный статус.
// Все поля кроме Status после создания не изменяются.
type Order struct {
	ID                  int64
	Code                string
	CheckoutSessionID   string
	CustomerID          string
	PaymentInstrumentID string
	Status              OrderStatus
	SubtotalCents       int64
	TaxCents            int64
	ShippingCents       int64
	TotalCents          int64
	ShippingAddress     Address
	Items               []OrderItem
	Note                string
	CreatedAt           time.Time
}

// ShipmentStatus описывает детальный статус отправления, сообщаемый курьерской службой.
// Множество значений открыто: неизвестные статусы сохраняются как есть.
type ShipmentStatus string

const (
	ShipmentStatusUnpaid               ShipmentStatus = "unpaid"
	ShipmentStatusConfirmed            ShipmentStatus = "confirmed"
	ShipmentStatusPickupScheduled      ShipmentStatus = "pickup_scheduled"
	ShipmentStatusPickupCompleted      ShipmentStatus = "pickup_completed"
	ShipmentStatusNotPickedUp          ShipmentStatus = "not_picked_up"
	ShipmentStatusInTransitToHub       ShipmentStatus = "in_transit_to_hub"
	ShipmentStatusOutForDelivery       ShipmentStatus = "out_for_delivery"
	ShipmentStatusDelivered            ShipmentStatus = "delivered"
	ShipmentStatusUndelivered          ShipmentStatus = "undelivered"
	ShipmentStatusOnHold               ShipmentStatus = "on_hold"
	ShipmentStatusReturnedToOrigin     ShipmentStatus = "returned_to_origin"
	ShipmentStatusReturnedAndDelivered ShipmentStatus = "returned_and_delivered"
	ShipmentStatusCancelled            ShipmentStatus = "cancelled"
	ShipmentStatusUpdated              ShipmentStatus = "updated"
	ShipmentStatusRescheduled          ShipmentStatus = "rescheduled"
)

var knownShipmentStatuses = map[ShipmentStatus]struct{}{
	ShipmentStatusUnpaid:               {},
	ShipmentStatusConfirmed:            {},
	ShipmentStatusPickupScheduled:      {},
	ShipmentStatusPickupCompleted:      {},
	ShipmentStatusNotPickedUp:          {},
	ShipmentStatusInTransitToHub:       {},
	ShipmentStatusOutForDelivery:       {},
	ShipmentStatusDelivered:            {},
	ShipmentStatusUndelivered:          {},
	ShipmentStatusOnHold:               {},
	ShipmentStatusReturnedToOrigin:     {},
	ShipmentStatusReturnedAndDelivered: {},
	ShipmentStatusCancelled:            {},
	ShipmentStatusUpdated:              {},
	ShipmentStatusRescheduled:          {},
}

// IsKnownShipmentStatus сообщает, входит ли статус в известный словарь курьерской службы.
func IsKnownShipmentStatus(s ShipmentStatus) bool {
	_, ok := knownShipmentStatuses[s]
	return ok
}

// IsCreditTriggering сообщает, является ли статус терминальным и запускающим
// начисление средств продавцу.
func IsCreditTriggering(s ShipmentStatus) bool {
	return s == ShipmentStatusDelivered || s == ShipmentStatusReturnedAndDelivered
}

// CarrierInfo хранит метаданные последнего события курьерской службы.
// Проекция перезаписывается целиком каждым новым событием.
type CarrierInfo struct {
	Description   string     `json:"description"`
	Hub           string     `json:"hub"`
	EventAt       *time.Time `json:"event_at,omitempty"`
	CourierName   string     `json:"courier_name"`
	CourierCode   string     `json:"courier_code"`
	FailureReason string     `json:"failure_reason,omitempty"`
	ProofImageURL string     `json:"proof_image_url,omitempty"`
}

// Shipment описывает отправление одного продавца в рамках заказа.
// Один заказ порождает по одному отправлению на каждого продавца,
// представленного в его позициях.
type Shipment struct {
	ID          int64
	ExternalID  string
	OrderID     int64
	OrderCode   string
	VendorID    string
	Quantity    int
	AmountCents int64
	Status      ShipmentStatus
	Credited    bool
	Carrier     CarrierInfo
	UpdatedAt   time.Time
}

// Ledger содержит счётчики заработанного и выведенного продавцом в центах.
// Оба счётчика монотонно неубывающие.
type Ledger struct {
	VendorID       string
	EarnedCents    int64
	WithdrawnCents int64
}

// AvailableCents возвращает доступный для вывода остаток.
func (l Ledger) AvailableCents() int64 {
	return l.EarnedCents - l.WithdrawnCents
}

// PayoutStatus описывает статус заявки на вывод средств.
type PayoutStatus string

const (
	PayoutStatusPending  PayoutStatus = "PENDING"
	PayoutStatusPaid     PayoutStatus = "PAID"
	PayoutStatusRejected PayoutStatus = "REJECTED"
)

// PayoutRequest описывает заявку продавца на вывод средств.
// Из статуса PENDING заявка переходит в PAID или REJECTED и далее не меняется.
type PayoutRequest struct {
	ID              string
	SellerID        string
	VendorID        string
	BankDetailsID   string
	AmountCents     int64
	Status          PayoutStatus
	Note            string
	AdminNote       string
	InvoiceImageURL string
	PaidAt          *time.Time
	CreatedAt       time.Time
}

// BankDetails хранит банковские реквизиты продавца.
// Поля IBAN и SWIFT хранятся только в зашифрованном виде.
type BankDetails struct {
	ID             string
	SellerID       string
	VendorID       string
	BankName       string
	HolderName     string
	IBANEncrypted  string
	SWIFTEncrypted string
	CreatedAt      time.Time
}

// PaymentCard хранит сохранённую карту покупателя.
// Номер и CVV хранятся только в зашифрованном виде.
type PaymentCard struct {
	ID              string
	CustomerID      string
	Brand           string
	Expires         string
	NumberEncrypted string
	CVVEncrypted    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
