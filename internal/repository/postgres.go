// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mmeshcher/marketplace-settlement/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderNotFound возвращается, если заказ не найден.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderCodeTaken возвращается при коллизии сгенерированного кода заказа.
	ErrOrderCodeTaken = errors.New("order code already taken")
	// ErrInvalidTransition возвращается при недопустимом переходе статуса.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUnknownShipment возвращается, если событие курьера ссылается на неизвестное отправление.
	ErrUnknownShipment = errors.New("unknown shipment")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс продавца.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrPayoutNotFound возвращается, если заявка на вывод не найдена.
	ErrPayoutNotFound = errors.New("payout request not found")
	// ErrAlreadyFinalized возвращается при действии над заявкой не в статусе PENDING.
	ErrAlreadyFinalized = errors.New("payout request already finalized")
	// ErrBankDetailsNotFound возвращается, если банковские реквизиты не найдены.
	ErrBankDetailsNotFound = errors.New("bank details not found")
	// ErrCardNotFound возвращается, если сохранённая карта не найдена.
	ErrCardNotFound = errors.New("payment card not found")
)

// CarrierApplied описывает результат применения события курьерской службы.
type CarrierApplied struct {
	ShipmentID  int64
	VendorID    string
	AmountCents int64
	PrevStatus  model.ShipmentStatus
	WasCredited bool
	CreditedNow bool
}

// PayoutFilter задаёт параметры выборки заявок на вывод средств.
type PayoutFilter struct {
	VendorID string
	Status   model.PayoutStatus
	Search   string
	Sort     string
	Limit    int
	Offset   int
}

// PayoutStats содержит количество заявок продавца по статусам.
type PayoutStats struct {
	Pending  int64
	Paid     int64
	Rejected int64
}

// FinanceOverview содержит сводные суммы по заявкам на вывод в центах.
type FinanceOverview struct {
	RequestedCents     int64
	PendingCents       int64
	PaidCents          int64
	GrossEarningsCents int64
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateOrderFromEvent атомарно сохраняет заказ, его позиции и отправления
// вместе с отметкой об обработке события платёжного провайдера.
// Возвращает false без побочных эффектов, если событие уже было обработано.
func (r *PostgresRepository) CreateOrderFromEvent(ctx context.Context, eventID string, order *model.Order, shipments []model.Shipment) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Отметка идемпотентности пишется в той же транзакции, что и заказ:
	// либо фиксируются оба, либо ни одного.
	cmdTag, err := tx.Exec(ctx,
		`INSERT INTO webhook_events (event_id) VALUES ($1) ON CONFLICT (event_id) DO NOTHING`,
		eventID,
	)
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return false, nil
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO orders (code, checkout_session_id, customer_id, payment_instrument_id, status,
		                     subtotal, tax, shipping, total,
		                     ship_recipient, ship_phone, ship_line1, ship_line2,
		                     ship_city, ship_region, ship_postal_code, ship_country, note)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 RETURNING id, created_at`,
		order.Code, order.CheckoutSessionID, order.CustomerID, order.PaymentInstrumentID,
		string(order.Status), order.SubtotalCents, order.TaxCents, order.ShippingCents, order.TotalCents,
		order.ShippingAddress.Recipient, order.ShippingAddress.Phone,
		order.ShippingAddress.Line1, order.ShippingAddress.Line2,
		order.ShippingAddress.City, order.ShippingAddress.Region,
		order.ShippingAddress.PostalCode, order.ShippingAddress.Country,
		order.Note,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return false, fmt.Errorf("%w: %s", ErrOrderCodeTaken, order.Code)
		}
		return false, fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items (order_id, product_id, vendor_id, quantity, unit_price, image_url)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			order.ID, item.ProductID, item.VendorID, item.Quantity, item.UnitPriceCents, item.ImageURL,
		)
		if err != nil {
			return false, fmt.Errorf("insert order item: %w", err)
		}
	}

	for i := range shipments {
		shipments[i].OrderID = order.ID
		err = tx.QueryRow(ctx,
			`INSERT INTO shipments (external_id, order_id, vendor_id, quantity, amount, status)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id`,
			shipments[i].ExternalID, order.ID, shipments[i].VendorID,
			shipments[i].Quantity, shipments[i].AmountCents, string(shipments[i].Status),
		).Scan(&shipments[i].ID)
		if err != nil {
			return false, fmt.Errorf("insert shipment: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}

	return true, nil
}

// GetOrderByCode возвращает заказ с позициями по его коду.
func (r *PostgresRepository) GetOrderByCode(ctx context.Context, code string) (*model.Order, error) {
	var o model.Order
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, checkout_session_id, customer_id, payment_instrument_id, status,
		        subtotal, tax, shipping, total,
		        ship_recipient, ship_phone, ship_line1, ship_line2,
		        ship_city, ship_region, ship_postal_code, ship_country, note, created_at
		 FROM orders WHERE code = $1`,
		code,
	).Scan(&o.ID, &o.Code, &o.CheckoutSessionID, &o.CustomerID, &o.PaymentInstrumentID, &status,
		&o.SubtotalCents, &o.TaxCents, &o.ShippingCents, &o.TotalCents,
		&o.ShippingAddress.Recipient, &o.ShippingAddress.Phone,
		&o.ShippingAddress.Line1, &o.ShippingAddress.Line2,
		&o.ShippingAddress.City, &o.ShippingAddress.Region,
		&o.ShippingAddress.PostalCode, &o.ShippingAddress.Country,
		&o.Note, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Status = model.OrderStatus(status)

	rows, err := r.pool.Query(ctx,
		`SELECT product_id, vendor_id, quantity, unit_price, image_url
		 FROM order_items WHERE order_id = $1 ORDER BY id`,
		o.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.ProductID, &it.VendorID, &it.Quantity, &it.UnitPriceCents, &it.ImageURL); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &o, nil
}

// UpdateOrderStatus переводит заказ из ожидаемого статуса в новый.
// Условное обновление закрывает гонку с параллельной сменой статуса.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, code string, from, to model.OrderStatus) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $3 WHERE code = $1 AND status = $2`,
		code, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check order exists: %w", err)
	}
	if !exists {
		return ErrOrderNotFound
	}

	return ErrInvalidTransition
}

func scanShipments(rows pgx.Rows) ([]model.Shipment, error) {
	defer rows.Close()

	var res []model.Shipment
	for rows.Next() {
		var s model.Shipment
		var status string
		if err := rows.Scan(&s.ID, &s.ExternalID, &s.OrderID, &s.OrderCode, &s.VendorID,
			&s.Quantity, &s.AmountCents, &status, &s.Credited,
			&s.Carrier.Description, &s.Carrier.Hub, &s.Carrier.EventAt,
			&s.Carrier.CourierName, &s.Carrier.CourierCode,
			&s.Carrier.FailureReason, &s.Carrier.ProofImageURL, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan shipment: %w", err)
		}
		s.Status = model.ShipmentStatus(status)
		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

const shipmentColumns = `s.id, s.external_id, s.order_id, o.code, s.vendor_id,
	        s.quantity, s.amount, s.status, s.credited,
	        s.carrier_description, s.carrier_hub, s.carrier_event_at,
	        s.courier_name, s.courier_code, s.failure_reason, s.proof_image_url, s.updated_at`

// GetShipmentsByOrderID возвращает отправления заказа.
func (r *PostgresRepository) GetShipmentsByOrderID(ctx context.Context, orderID int64) ([]model.Shipment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+shipmentColumns+`
		 FROM shipments s JOIN orders o ON o.id = s.order_id
		 WHERE s.order_id = $1 ORDER BY s.id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select shipments: %w", err)
	}
	return scanShipments(rows)
}

// ListVendorShipments возвращает отправления продавца, опционально по коду заказа.
func (r *PostgresRepository) ListVendorShipments(ctx context.Context, vendorID, orderCode string) ([]model.Shipment, error) {
	query := `SELECT ` + shipmentColumns + `
	 FROM shipments s JOIN orders o ON o.id = s.order_id
	 WHERE s.vendor_id = $1`
	args := []any{vendorID}

	if orderCode != "" {
		query += ` AND o.code = $2`
		args = append(args, orderCode)
	}
	query += ` ORDER BY s.updated_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select vendor shipments: %w", err)
	}
	return scanShipments(rows)
}

// ApplyCarrierEvent применяет событие курьерской службы к отправлению.
// Метаданные перезаписываются целиком. Если событие терминальное и средства
// ещё не начислялись, начисление выполняется в той же транзакции ровно один раз.
func (r *PostgresRepository) ApplyCarrierEvent(ctx context.Context, externalID string, status model.ShipmentStatus, info model.CarrierInfo, creditTriggering bool) (*CarrierApplied, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var res CarrierApplied
	var prevStatus string
	err = tx.QueryRow(ctx,
		`SELECT id, vendor_id, amount, status, credited
		 FROM shipments WHERE external_id = $1 FOR UPDATE`,
		externalID,
	).Scan(&res.ShipmentID, &res.VendorID, &res.AmountCents, &prevStatus, &res.WasCredited)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownShipment, externalID)
		}
		return nil, fmt.Errorf("lock shipment: %w", err)
	}
	res.PrevStatus = model.ShipmentStatus(prevStatus)

	_, err = tx.Exec(ctx,
		`UPDATE shipments
		 SET status = $2, carrier_description = $3, carrier_hub = $4, carrier_event_at = $5,
		     courier_name = $6, courier_code = $7, failure_reason = $8, proof_image_url = $9,
		     updated_at = now()
		 WHERE id = $1`,
		res.ShipmentID, string(status),
		info.Description, info.Hub, info.EventAt,
		info.CourierName, info.CourierCode, info.FailureReason, info.ProofImageURL,
	)
	if err != nil {
		return nil, fmt.Errorf("update shipment: %w", err)
	}

	if creditTriggering && !res.WasCredited {
		cmdTag, err := tx.Exec(ctx,
			`UPDATE shipments SET credited = TRUE WHERE id = $1 AND NOT credited`,
			res.ShipmentID,
		)
		if err != nil {
			return nil, fmt.Errorf("mark shipment credited: %w", err)
		}

		if cmdTag.RowsAffected() == 1 {
			if err := creditVendorTx(ctx, tx, res.VendorID, res.AmountCents); err != nil {
				return nil, err
			}
			res.CreditedNow = true
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &res, nil
}

func creditVendorTx(ctx context.Context, tx pgx.Tx, vendorID string, amountCents int64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO vendor_ledgers (vendor_id, total_earnings)
		 VALUES ($1, $2)
		 ON CONFLICT (vendor_id)
		 DO UPDATE SET total_earnings = vendor_ledgers.total_earnings + EXCLUDED.total_earnings`,
		vendorID, amountCents,
	)
	if err != nil {
		return fmt.Errorf("credit vendor ledger: %w", err)
	}
	return nil
}

// debitVendorTx увеличивает счётчик выведенного. Условие в самом UPDATE
// гарантирует, что остаток не уйдёт в минус при параллельных списаниях.
func debitVendorTx(ctx context.Context, tx pgx.Tx, vendorID string, amountCents int64) error {
	cmdTag, err := tx.Exec(ctx,
		`UPDATE vendor_ledgers
		 SET total_withdrawal = total_withdrawal + $2
		 WHERE vendor_id = $1 AND total_earnings - total_withdrawal >= $2`,
		vendorID, amountCents,
	)
	if err != nil {
		return fmt.Errorf("debit vendor ledger: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

// GetLedger возвращает счётчики продавца. Отсутствие записи означает нулевой баланс.
func (r *PostgresRepository) GetLedger(ctx context.Context, vendorID string) (model.Ledger, error) {
	l := model.Ledger{VendorID: vendorID}
	err := r.pool.QueryRow(ctx,
		`SELECT total_earnings, total_withdrawal FROM vendor_ledgers WHERE vendor_id = $1`,
		vendorID,
	).Scan(&l.EarnedCents, &l.WithdrawnCents)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return model.Ledger{}, fmt.Errorf("get ledger: %w", err)
	}
	return l, nil
}

// CreateBankDetails сохраняет банковские реквизиты продавца.
func (r *PostgresRepository) CreateBankDetails(ctx context.Context, bd *model.BankDetails) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO bank_details (id, seller_id, vendor_id, bank_name, holder_name, iban_enc, swift_enc)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		bd.ID, bd.SellerID, bd.VendorID, bd.BankName, bd.HolderName, bd.IBANEncrypted, bd.SWIFTEncrypted,
	).Scan(&bd.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bank details: %w", err)
	}
	return nil
}

// UpdateBankDetails обновляет банковские реквизиты продавца.
func (r *PostgresRepository) UpdateBankDetails(ctx context.Context, bd *model.BankDetails) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE bank_details
		 SET bank_name = $2, holder_name = $3, iban_enc = $4, swift_enc = $5
		 WHERE id = $1`,
		bd.ID, bd.BankName, bd.HolderName, bd.IBANEncrypted, bd.SWIFTEncrypted,
	)
	if err != nil {
		return fmt.Errorf("update bank details: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrBankDetailsNotFound
	}
	return nil
}

// GetBankDetails возвращает банковские реквизиты по идентификатору.
func (r *PostgresRepository) GetBankDetails(ctx context.Context, id string) (*model.BankDetails, error) {
	var bd model.BankDetails
	err := r.pool.QueryRow(ctx,
		`SELECT id, seller_id, vendor_id, bank_name, holder_name, iban_enc, swift_enc, created_at
		 FROM bank_details WHERE id = $1`,
		id,
	).Scan(&bd.ID, &bd.SellerID, &bd.VendorID, &bd.BankName, &bd.HolderName,
		&bd.IBANEncrypted, &bd.SWIFTEncrypted, &bd.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBankDetailsNotFound
		}
		return nil, fmt.Errorf("get bank details: %w", err)
	}
	return &bd, nil
}

// ListBankDetailsByVendor возвращает все реквизиты продавца.
func (r *PostgresRepository) ListBankDetailsByVendor(ctx context.Context, vendorID string) ([]model.BankDetails, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, seller_id, vendor_id, bank_name, holder_name, iban_enc, swift_enc, created_at
		 FROM bank_details WHERE vendor_id = $1 ORDER BY created_at DESC`,
		vendorID,
	)
	if err != nil {
		return nil, fmt.Errorf("select bank details: %w", err)
	}
	defer rows.Close()

	var res []model.BankDetails
	for rows.Next() {
		var bd model.BankDetails
		if err := rows.Scan(&bd.ID, &bd.SellerID, &bd.VendorID, &bd.BankName, &bd.HolderName,
			&bd.IBANEncrypted, &bd.SWIFTEncrypted, &bd.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bank details: %w", err)
		}
		res = append(res, bd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SavePaymentCard сохраняет или обновляет карту покупателя.
func (r *PostgresRepository) SavePaymentCard(ctx context.Context, card *model.PaymentCard) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO payment_cards (id, customer_id, brand, expires, number_enc, cvv_enc)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id)
		 DO UPDATE SET brand = EXCLUDED.brand, expires = EXCLUDED.expires,
		               number_enc = EXCLUDED.number_enc, cvv_enc = EXCLUDED.cvv_enc,
		               updated_at = now()
		 RETURNING created_at, updated_at`,
		card.ID, card.CustomerID, card.Brand, card.Expires, card.NumberEncrypted, card.CVVEncrypted,
	).Scan(&card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save payment card: %w", err)
	}
	return nil
}

// GetPaymentCard возвращает карту покупателя по идентификатору.
func (r *PostgresRepository) GetPaymentCard(ctx context.Context, id string) (*model.PaymentCard, error) {
	var c model.PaymentCard
	err := r.pool.QueryRow(ctx,
		`SELECT id, customer_id, brand, expires, number_enc, cvv_enc, created_at, updated_at
		 FROM payment_cards WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.CustomerID, &c.Brand, &c.Expires, &c.NumberEncrypted, &c.CVVEncrypted,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("get payment card: %w", err)
	}
	return &c, nil
}

// CreatePayout сохраняет новую заявку на вывод средств в статусе PENDING.
func (r *PostgresRepository) CreatePayout(ctx context.Context, p *model.PayoutRequest) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO payout_requests (id, seller_id, vendor_id, bank_details_id, amount, status, note)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		p.ID, p.SellerID, p.VendorID, p.BankDetailsID, p.AmountCents, string(p.Status), p.Note,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payout request: %w", err)
	}
	return nil
}

func scanPayout(row pgx.Row) (*model.PayoutRequest, error) {
	var p model.PayoutRequest
	var status string
	err := row.Scan(&p.ID, &p.SellerID, &p.VendorID, &p.BankDetailsID, &p.AmountCents, &status,
		&p.Note, &p.AdminNote, &p.InvoiceImageURL, &p.PaidAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = model.PayoutStatus(status)
	return &p, nil
}

const payoutColumns = `id, seller_id, vendor_id, bank_details_id, amount, status,
	        note, admin_note, invoice_image_url, paid_at, created_at`

// GetPayout возвращает заявку на вывод по идентификатору.
func (r *PostgresRepository) GetPayout(ctx context.Context, id string) (*model.PayoutRequest, error) {
	p, err := scanPayout(r.pool.QueryRow(ctx,
		`SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPayoutNotFound
		}
		return nil, fmt.Errorf("get payout: %w", err)
	}
	return p, nil
}

var payoutSortings = map[string]string{
	"":            "created_at DESC",
	"date_desc":   "created_at DESC",
	"date_asc":    "created_at ASC",
	"amount_desc": "amount DESC",
	"amount_asc":  "amount ASC",
}

// ListPayouts возвращает страницу заявок по фильтру и общее число подходящих заявок.
func (r *PostgresRepository) ListPayouts(ctx context.Context, filter PayoutFilter) ([]model.PayoutRequest, int64, error) {
	var conds []string
	var args []any

	addArg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.VendorID != "" {
		conds = append(conds, "vendor_id = "+addArg(filter.VendorID))
	}
	if filter.Status != "" {
		conds = append(conds, "status = "+addArg(string(filter.Status)))
	}
	if filter.Search != "" {
		ph := addArg("%" + filter.Search + "%")
		conds = append(conds, "(id ILIKE "+ph+" OR seller_id ILIKE "+ph+" OR vendor_id ILIKE "+ph+")")
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payout_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payouts: %w", err)
	}

	orderBy, ok := payoutSortings[filter.Sort]
	if !ok {
		orderBy = payoutSortings[""]
	}

	query := `SELECT ` + payoutColumns + ` FROM payout_requests` + where +
		` ORDER BY ` + orderBy +
		` LIMIT ` + addArg(filter.Limit) + ` OFFSET ` + addArg(filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("select payouts: %w", err)
	}
	defer rows.Close()

	var res []model.PayoutRequest
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan payout: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return res, total, nil
}

// PayoutStatsByVendor возвращает количество заявок продавца по статусам.
func (r *PostgresRepository) PayoutStatsByVendor(ctx context.Context, vendorID string) (PayoutStats, error) {
	var stats PayoutStats
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE status = 'PENDING'),
		        COUNT(*) FILTER (WHERE status = 'PAID'),
		        COUNT(*) FILTER (WHERE status = 'REJECTED')
		 FROM payout_requests WHERE vendor_id = $1`,
		vendorID,
	).Scan(&stats.Pending, &stats.Paid, &stats.Rejected)
	if err != nil {
		return PayoutStats{}, fmt.Errorf("payout stats: %w", err)
	}
	return stats, nil
}

// GetFinanceOverview возвращает сводные суммы по всем заявкам и валовый заработок продавцов.
func (r *PostgresRepository) GetFinanceOverview(ctx context.Context) (FinanceOverview, error) {
	var ov FinanceOverview
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0),
		        COALESCE(SUM(amount) FILTER (WHERE status = 'PENDING'), 0),
		        COALESCE(SUM(amount) FILTER (WHERE status = 'PAID'), 0)
		 FROM payout_requests`,
	).Scan(&ov.RequestedCents, &ov.PendingCents, &ov.PaidCents)
	if err != nil {
		return FinanceOverview{}, fmt.Errorf("payout totals: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(total_earnings), 0) FROM vendor_ledgers`,
	).Scan(&ov.GrossEarningsCents)
	if err != nil {
		return FinanceOverview{}, fmt.Errorf("gross earnings: %w", err)
	}

	return ov, nil
}

// ApprovePayout переводит заявку в PAID и списывает сумму с баланса продавца
// в одной транзакции. Если условное списание не проходит, транзакция
// откатывается и заявка остаётся в PENDING.
func (r *PostgresRepository) ApprovePayout(ctx context.Context, id, invoiceImageURL string) (*model.PayoutRequest, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := lockPayout(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := debitVendorTx(ctx, tx, p.VendorID, p.AmountCents); err != nil {
		return nil, err
	}

	var paidAt time.Time
	err = tx.QueryRow(ctx,
		`UPDATE payout_requests
		 SET status = $2, invoice_image_url = $3, paid_at = now()
		 WHERE id = $1
		 RETURNING paid_at`,
		id, string(model.PayoutStatusPaid), invoiceImageURL,
	).Scan(&paidAt)
	if err != nil {
		return nil, fmt.Errorf("mark payout paid: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	p.Status = model.PayoutStatusPaid
	p.InvoiceImageURL = invoiceImageURL
	p.PaidAt = &paidAt
	return p, nil
}

// RejectPayout переводит заявку в REJECTED без изменения баланса.
func (r *PostgresRepository) RejectPayout(ctx context.Context, id, adminNote string) (*model.PayoutRequest, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := lockPayout(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE payout_requests SET status = $2, admin_note = $3 WHERE id = $1`,
		id, string(model.PayoutStatusRejected), adminNote,
	)
	if err != nil {
		return nil, fmt.Errorf("mark payout rejected: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	p.Status = model.PayoutStatusRejected
	p.AdminNote = adminNote
	return p, nil
}

func lockPayout(ctx context.Context, tx pgx.Tx, id string) (*model.PayoutRequest, error) {
	p, err := scanPayout(tx.QueryRow(ctx,
		`SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPayoutNotFound
		}
		return nil, fmt.Errorf("lock payout: %w", err)
	}

	if p.Status != model.PayoutStatusPending {
		return nil, ErrAlreadyFinalized
	}

	return p, nil
}
