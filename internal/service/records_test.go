package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mmeshcher/marketplace-settlement/internal/repository"
	"github.com/mmeshcher/marketplace-settlement/internal/secure"
)

func TestSaveBankDetails_KeepsCiphertextWhenUnchanged(t *testing.T) {
	codec := secure.NewCodec(secure.StaticKey("test-encryption-key"))
	repo := &stubRepo{}
	repo.bankDetails = encryptedBankDetails(t, codec, "vendor-a")
	prevIBAN := repo.bankDetails.IBANEncrypted
	svc := NewService(repo, codec, nil, nil, testWebhookSecret, 0)

	bd, err := svc.SaveBankDetails(context.Background(), BankDetailsInput{
		ID:         "bd-1",
		SellerID:   "vendor-a",
		VendorID:   "vendor-a",
		BankName:   "Commerzbank",
		HolderName: "Vendor A",
		IBAN:       "DE89370400440532013000",
		SWIFT:      "COBADEFFXXX",
	})
	if err != nil {
		t.Fatalf("SaveBankDetails error: %v", err)
	}

	if bd.IBANEncrypted != prevIBAN {
		t.Fatal("unchanged iban must keep stored ciphertext")
	}
}

func TestSaveBankDetails_RefreshesChangedField(t *testing.T) {
	codec := secure.NewCodec(secure.StaticKey("test-encryption-key"))
	repo := &stubRepo{}
	repo.bankDetails = encryptedBankDetails(t, codec, "vendor-a")
	prevIBAN := repo.bankDetails.IBANEncrypted
	svc := NewService(repo, codec, nil, nil, testWebhookSecret, 0)

	bd, err := svc.SaveBankDetails(context.Background(), BankDetailsInput{
		ID:       "bd-1",
		SellerID: "vendor-a",
		VendorID: "vendor-a",
		IBAN:     "DE02120300000000202051",
		SWIFT:    "COBADEFFXXX",
	})
	if err != nil {
		t.Fatalf("SaveBankDetails error: %v", err)
	}

	if bd.IBANEncrypted == prevIBAN {
		t.Fatal("changed iban must be re-encrypted")
	}
	plain, err := codec.Decrypt(bd.IBANEncrypted)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "DE02120300000000202051" {
		t.Fatalf("decrypted iban = %q", plain)
	}
}

func TestSaveBankDetails_ForeignRecord(t *testing.T) {
	codec := secure.NewCodec(secure.StaticKey("test-encryption-key"))
	repo := &stubRepo{}
	repo.bankDetails = encryptedBankDetails(t, codec, "vendor-b")
	svc := NewService(repo, codec, nil, nil, testWebhookSecret, 0)

	_, err := svc.SaveBankDetails(context.Background(), BankDetailsInput{
		ID:       "bd-1",
		VendorID: "vendor-a",
		IBAN:     "DE89370400440532013000",
	})
	if !errors.Is(err, repository.ErrBankDetailsNotFound) {
		t.Fatalf("expected ErrBankDetailsNotFound, got %v", err)
	}
}

func TestSavePaymentCard_RejectsInvalidNumber(t *testing.T) {
	svc := newTestService(&stubRepo{})

	_, err := svc.SavePaymentCard(context.Background(), CardInput{
		CustomerID: "cust-1",
		Number:     "4111111111111112",
		CVV:        "123",
	})
	if !errors.Is(err, ErrInvalidCard) {
		t.Fatalf("expected ErrInvalidCard, got %v", err)
	}
}

func TestSavePaymentCard_RoundTrip(t *testing.T) {
	codec := secure.NewCodec(secure.StaticKey("test-encryption-key"))
	repo := &stubRepo{cardErr: repository.ErrCardNotFound}
	svc := NewService(repo, codec, nil, nil, testWebhookSecret, 0)

	card, err := svc.SavePaymentCard(context.Background(), CardInput{
		CustomerID: "cust-1",
		Brand:      "visa",
		Expires:    "12/29",
		Number:     "4111111111111111",
		CVV:        "123",
	})
	if err != nil {
		t.Fatalf("SavePaymentCard error: %v", err)
	}
	if card.ID == "" {
		t.Fatal("card id was not generated")
	}
	if strings.Contains(card.NumberEncrypted, "4111") {
		t.Fatal("card number stored in the clear")
	}

	repo.cardErr = nil
	number, err := svc.RevealCardNumber(context.Background(), card.ID)
	if err != nil {
		t.Fatalf("RevealCardNumber error: %v", err)
	}
	if number != "4111111111111111" {
		t.Fatalf("revealed number = %q", number)
	}
}

func TestMaskValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"123", "***"},
		{"1234", "****"},
		{"DE89370400440532013000", "******************3000"},
	}

	for _, tt := range tests {
		if got := maskValue(tt.in); got != tt.want {
			t.Fatalf("maskValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestListBankDetails_Masked(t *testing.T) {
	codec := secure.NewCodec(secure.StaticKey("test-encryption-key"))
	repo := &stubRepo{}
	repo.bankDetails = encryptedBankDetails(t, codec, "vendor-a")
	svc := NewService(repo, codec, nil, nil, testWebhookSecret, 0)

	records, err := svc.ListBankDetails(context.Background(), "vendor-a")
	if err != nil {
		t.Fatalf("ListBankDetails error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if !strings.HasSuffix(records[0].IBAN, "3000") || !strings.HasPrefix(records[0].IBAN, "*") {
		t.Fatalf("iban = %q, want masked with last four digits", records[0].IBAN)
	}
}
