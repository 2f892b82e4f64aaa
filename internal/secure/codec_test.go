package secure

import (
	"errors"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	codec := NewCodec(StaticKey("test-key"))

	tests := []struct {
		name  string
		value string
	}{
		{
			name:  "plain ascii",
			value: "DE89370400440532013000",
		},
		{
			name:  "empty string",
			value: "",
		},
		{
			name:  "unicode",
			value: "банк «Пример» №1",
		},
		{
			name:  "long value",
			value: strings.Repeat("4539578763621486", 64),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := codec.Encrypt(tt.value)
			if err != nil {
				t.Fatalf("Encrypt error: %v", err)
			}
			if encrypted == tt.value && tt.value != "" {
				t.Fatalf("ciphertext equals plaintext")
			}

			decrypted, err := codec.Decrypt(encrypted)
			if err != nil {
				t.Fatalf("Decrypt error: %v", err)
			}
			if decrypted != tt.value {
				t.Fatalf("round trip = %q, want %q", decrypted, tt.value)
			}
		})
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	encrypted, err := NewCodec(StaticKey("key-one")).Encrypt("GB29NWBK60161331926819")
	if err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}

	_, err = NewCodec(StaticKey("key-two")).Decrypt(encrypted)
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("error = %v, want ErrDecryptionFailed", err)
	}
}

func TestDecrypt_Garbage(t *testing.T) {
	codec := NewCodec(StaticKey("test-key"))

	for _, ciphertext := range []string{"", "not-base64!!!", "YWJj"} {
		_, err := codec.Decrypt(ciphertext)
		if !errors.Is(err, ErrDecryptionFailed) {
			t.Fatalf("Decrypt(%q) error = %v, want ErrDecryptionFailed", ciphertext, err)
		}
	}
}

func TestEncryptIfChanged_KeepsStoredCiphertext(t *testing.T) {
	codec := NewCodec(StaticKey("test-key"))

	first, err := codec.Encrypt("DE89370400440532013000")
	if err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}

	// Повторное сохранение того же значения не должно менять шифротекст.
	second, err := codec.EncryptIfChanged("DE89370400440532013000", first)
	if err != nil {
		t.Fatalf("EncryptIfChanged error: %v", err)
	}
	if second != first {
		t.Fatalf("ciphertext changed on unchanged value")
	}

	third, err := codec.EncryptIfChanged("FR1420041010050500013M02606", first)
	if err != nil {
		t.Fatalf("EncryptIfChanged error: %v", err)
	}
	if third == first {
		t.Fatalf("ciphertext not refreshed on changed value")
	}

	plain, err := codec.Decrypt(third)
	if err != nil {
		t.Fatalf("Decrypt error: %v", err)
	}
	if plain != "FR1420041010050500013M02606" {
		t.Fatalf("decrypted = %q", plain)
	}
}
