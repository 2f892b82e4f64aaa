package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mmeshcher/marketplace-settlement/internal/model"
	"github.com/mmeshcher/marketplace-settlement/internal/repository"
	"github.com/mmeshcher/marketplace-settlement/internal/validation"
)

// BankDetailsInput содержит открытые значения банковских реквизитов.
// Шифрование выполняется на границе записи, в хранилище открытый текст не попадает.
type BankDetailsInput struct {
	ID         string
	SellerID   string
	VendorID   string
	BankName   string
	HolderName string
	IBAN       string
	SWIFT      string
}

// MaskedBankDetails содержит реквизиты в виде, пригодном для отображения.
type MaskedBankDetails struct {
	ID         string `json:"id"`
	BankName   string `json:"bank_name"`
	HolderName string `json:"holder_name"`
	IBAN       string `json:"iban"`
	SWIFT      string `json:"swift"`
}

// CardInput содержит открытые значения сохраняемой карты.
type CardInput struct {
	ID         string
	CustomerID string
	Brand      string
	Expires    string
	Number     string
	CVV        string
}

// SaveBankDetails создаёт или обновляет банковские реквизиты продавца.
// Неизменённые поля не перешифровываются.
func (s *Service) SaveBankDetails(ctx context.Context, in BankDetailsInput) (*model.BankDetails, error) {
	if in.IBAN == "" {
		return nil, fmt.Errorf("%w: iban is required", ErrBadPayload)
	}

	var existing *model.BankDetails
	if in.ID != "" {
		var err error
		existing, err = s.repo.GetBankDetails(ctx, in.ID)
		if err != nil {
			return nil, err
		}
		if existing.VendorID != in.VendorID {
			return nil, repository.ErrBankDetailsNotFound
		}
	}

	bd := &model.BankDetails{
		ID:         in.ID,
		SellerID:   in.SellerID,
		VendorID:   in.VendorID,
		BankName:   in.BankName,
		HolderName: in.HolderName,
	}

	var prevIBAN, prevSWIFT string
	if existing != nil {
		prevIBAN = existing.IBANEncrypted
		prevSWIFT = existing.SWIFTEncrypted
		bd.CreatedAt = existing.CreatedAt
	}

	var err error
	bd.IBANEncrypted, err = s.codec.EncryptIfChanged(in.IBAN, prevIBAN)
	if err != nil {
		return nil, fmt.Errorf("encrypt iban: %w", err)
	}
	bd.SWIFTEncrypted, err = s.codec.EncryptIfChanged(in.SWIFT, prevSWIFT)
	if err != nil {
		return nil, fmt.Errorf("encrypt swift: %w", err)
	}

	if existing != nil {
		if err := s.repo.UpdateBankDetails(ctx, bd); err != nil {
			return nil, err
		}
		return bd, nil
	}

	bd.ID = uuid.New().String()
	if err := s.repo.CreateBankDetails(ctx, bd); err != nil {
		return nil, err
	}
	return bd, nil
}

// ListBankDetails возвращает маскированные реквизиты продавца.
func (s *Service) ListBankDetails(ctx context.Context, vendorID string) ([]MaskedBankDetails, error) {
	records, err := s.repo.ListBankDetailsByVendor(ctx, vendorID)
	if err != nil {
		return nil, err
	}

	res := make([]MaskedBankDetails, 0, len(records))
	for i := range records {
		masked, err := s.maskBankDetails(&records[i])
		if err != nil {
			return nil, err
		}
		res = append(res, masked)
	}

	return res, nil
}

func (s *Service) maskBankDetails(bd *model.BankDetails) (MaskedBankDetails, error) {
	iban, err := s.codec.Decrypt(bd.IBANEncrypted)
	if err != nil {
		return MaskedBankDetails{}, fmt.Errorf("decrypt iban: %w", err)
	}

	swift := ""
	if bd.SWIFTEncrypted != "" {
		swift, err = s.codec.Decrypt(bd.SWIFTEncrypted)
		if err != nil {
			return MaskedBankDetails{}, fmt.Errorf("decrypt swift: %w", err)
		}
	}

	return MaskedBankDetails{
		ID:         bd.ID,
		BankName:   bd.BankName,
		HolderName: bd.HolderName,
		IBAN:       maskValue(iban),
		SWIFT:      maskValue(swift),
	}, nil
}

// maskValue скрывает значение, оставляя последние четыре символа.
func maskValue(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return strings.Repeat("*", len(v))
	}
	return strings.Repeat("*", len(v)-4) + v[len(v)-4:]
}

// SavePaymentCard сохраняет карту покупателя с шифрованием номера и CVV.
func (s *Service) SavePaymentCard(ctx context.Context, in CardInput) (*model.PaymentCard, error) {
	if !validation.IsValidCardNumber(in.Number) {
		return nil, ErrInvalidCard
	}

	var prevNumber, prevCVV string
	if in.ID != "" {
		existing, err := s.repo.GetPaymentCard(ctx, in.ID)
		if err != nil && !errors.Is(err, repository.ErrCardNotFound) {
			return nil, err
		}
		if existing != nil {
			if existing.CustomerID != in.CustomerID {
				return nil, repository.ErrCardNotFound
			}
			prevNumber = existing.NumberEncrypted
			prevCVV = existing.CVVEncrypted
		}
	}

	card := &model.PaymentCard{
		ID:         in.ID,
		CustomerID: in.CustomerID,
		Brand:      in.Brand,
		Expires:    in.Expires,
	}
	if card.ID == "" {
		card.ID = uuid.New().String()
	}

	var err error
	card.NumberEncrypted, err = s.codec.EncryptIfChanged(in.Number, prevNumber)
	if err != nil {
		return nil, fmt.Errorf("encrypt card number: %w", err)
	}
	card.CVVEncrypted, err = s.codec.EncryptIfChanged(in.CVV, prevCVV)
	if err != nil {
		return nil, fmt.Errorf("encrypt cvv: %w", err)
	}

	if err := s.repo.SavePaymentCard(ctx, card); err != nil {
		return nil, err
	}

	return card, nil
}

// RevealCardNumber расшифровывает номер сохранённой карты для платёжного потока.
func (s *Service) RevealCardNumber(ctx context.Context, cardID string) (string, error) {
	card, err := s.repo.GetPaymentCard(ctx, cardID)
	if err != nil {
		return "", err
	}
	return s.codec.Decrypt(card.NumberEncrypted)
}
