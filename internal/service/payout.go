package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/mmeshcher/marketplace-settlement/internal/model"
	"github.com/mmeshcher/marketplace-settlement/internal/repository"
	"github.com/mmeshcher/marketplace-settlement/internal/validation"
)

// PayoutView объединяет заявку на вывод и маскированные банковские реквизиты.
type PayoutView struct {
	Request model.PayoutRequest
	Bank    MaskedBankDetails
}

// VendorPayoutStats содержит сводку продавца по заявкам и балансу.
type VendorPayoutStats struct {
	Pending        int64
	Paid           int64
	Rejected       int64
	EarnedCents    int64
	WithdrawnCents int64
	AvailableCents int64
}

// FinanceOverview содержит сводку платформы по выводам средств и комиссии.
type FinanceOverview struct {
	RequestedCents     int64
	PendingCents       int64
	PaidCents          int64
	GrossEarningsCents int64
	CommissionCents    int64
}

// RequestPayout создаёт заявку продавца на вывод средств. Заявка проверяется
// против доступного баланса на момент создания, но средства до одобрения
// администратором не резервируются.
func (s *Service) RequestPayout(ctx context.Context, sellerID, vendorID, bankDetailsID string, amount float64, note string) (*PayoutView, error) {
	cents := int64(math.Round(amount * 100))
	if !validation.IsValidAmount(cents) {
		return nil, fmt.Errorf("%w: amount must be positive", ErrBadPayload)
	}

	bd, err := s.repo.GetBankDetails(ctx, bankDetailsID)
	if err != nil {
		return nil, err
	}
	// Чужие реквизиты неотличимы от несуществующих.
	if bd.VendorID != vendorID {
		return nil, repository.ErrBankDetailsNotFound
	}

	ledger, err := s.repo.GetLedger(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	if cents > ledger.AvailableCents() {
		return nil, repository.ErrInsufficientBalance
	}

	req := &model.PayoutRequest{
		ID:            uuid.New().String(),
		SellerID:      sellerID,
		VendorID:      vendorID,
		BankDetailsID: bankDetailsID,
		AmountCents:   cents,
		Status:        model.PayoutStatusPending,
		Note:          note,
	}

	if err := s.repo.CreatePayout(ctx, req); err != nil {
		return nil, err
	}

	masked, err := s.maskBankDetails(bd)
	if err != nil {
		return nil, err
	}

	return &PayoutView{Request: *req, Bank: masked}, nil
}

// ApprovePayout одобряет заявку: перевод в PAID и списание с баланса продавца
// выполняются атомарно. При нехватке баланса заявка остаётся в PENDING.
func (s *Service) ApprovePayout(ctx context.Context, id, invoiceImageURL string) (*model.PayoutRequest, error) {
	p, err := s.repo.ApprovePayout(ctx, id, invoiceImageURL)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, Notification{
		Type:        "payout_approved",
		VendorID:    p.VendorID,
		PayoutID:    p.ID,
		AmountCents: p.AmountCents,
	})

	return p, nil
}

// RejectPayout отклоняет заявку с примечанием администратора. Баланс не меняется.
func (s *Service) RejectPayout(ctx context.Context, id, adminNote string) (*model.PayoutRequest, error) {
	p, err := s.repo.RejectPayout(ctx, id, adminNote)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, Notification{
		Type:        "payout_rejected",
		VendorID:    p.VendorID,
		PayoutID:    p.ID,
		AmountCents: p.AmountCents,
	})

	return p, nil
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

func normalizePage(page, limit int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit, limit
}

// ListVendorPayouts возвращает страницу заявок продавца.
func (s *Service) ListVendorPayouts(ctx context.Context, vendorID string, status model.PayoutStatus, page, limit int) ([]model.PayoutRequest, int64, error) {
	offset, limit := normalizePage(page, limit)
	return s.repo.ListPayouts(ctx, repository.PayoutFilter{
		VendorID: vendorID,
		Status:   status,
		Limit:    limit,
		Offset:   offset,
	})
}

// ListPayouts возвращает страницу заявок по всем продавцам для администратора.
func (s *Service) ListPayouts(ctx context.Context, status model.PayoutStatus, search, sort string, page, limit int) ([]model.PayoutRequest, int64, error) {
	offset, limit := normalizePage(page, limit)
	return s.repo.ListPayouts(ctx, repository.PayoutFilter{
		Status: status,
		Search: search,
		Sort:   sort,
		Limit:  limit,
		Offset: offset,
	})
}

// GetVendorPayoutStats возвращает сводку продавца: счётчики заявок и баланс.
func (s *Service) GetVendorPayoutStats(ctx context.Context, vendorID string) (*VendorPayoutStats, error) {
	stats, err := s.repo.PayoutStatsByVendor(ctx, vendorID)
	if err != nil {
		return nil, err
	}

	ledger, err := s.repo.GetLedger(ctx, vendorID)
	if err != nil {
		return nil, err
	}

	return &VendorPayoutStats{
		Pending:        stats.Pending,
		Paid:           stats.Paid,
		Rejected:       stats.Rejected,
		EarnedCents:    ledger.EarnedCents,
		WithdrawnCents: ledger.WithdrawnCents,
		AvailableCents: ledger.AvailableCents(),
	}, nil
}

// GetFinanceOverview возвращает финансовую сводку платформы.
// Комиссия считается как доля от валового заработка продавцов.
func (s *Service) GetFinanceOverview(ctx context.Context) (*FinanceOverview, error) {
	ov, err := s.repo.GetFinanceOverview(ctx)
	if err != nil {
		return nil, err
	}

	commission := int64(math.Round(float64(ov.GrossEarningsCents) * s.commissionPercent / 100))

	return &FinanceOverview{
		RequestedCents:     ov.RequestedCents,
		PendingCents:       ov.PendingCents,
		PaidCents:          ov.PaidCents,
		GrossEarningsCents: ov.GrossEarningsCents,
		CommissionCents:    commission,
	}, nil
}

// GetPayoutView возвращает заявку с маскированными реквизитами.
func (s *Service) GetPayoutView(ctx context.Context, id string) (*PayoutView, error) {
	p, err := s.repo.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}

	bd, err := s.repo.GetBankDetails(ctx, p.BankDetailsID)
	if err != nil && !errors.Is(err, repository.ErrBankDetailsNotFound) {
		return nil, err
	}

	view := &PayoutView{Request: *p}
	if bd != nil {
		masked, err := s.maskBankDetails(bd)
		if err != nil {
			return nil, err
		}
		view.Bank = masked
	}

	return view, nil
}
