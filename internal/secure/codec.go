// Package secure реализует шифрование чувствительных полей финансовых записей.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrDecryptionFailed возвращается, если шифротекст не удаётся расшифровать
// текущим ключом. Исходный шифротекст при этом никогда не возвращается.
var ErrDecryptionFailed = errors.New("decryption failed")

// KeyProvider выдаёт симметричный ключ шифрования. Отдельный интерфейс
// позволяет подставлять детерминированные ключи в тестах.
type KeyProvider interface {
	Key() []byte
}

// StaticKey реализует KeyProvider поверх секрета из конфигурации.
// Ключ AES-256 выводится из секрета через SHA-256.
type StaticKey string

// Key возвращает 32-байтный ключ, выведенный из секрета.
func (s StaticKey) Key() []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// Codec выполняет симметричное шифрование строковых полей алгоритмом AES-GCM.
type Codec struct {
	keys KeyProvider
}

// NewCodec создаёт кодек с указанным источником ключа.
func NewCodec(keys KeyProvider) *Codec {
	return &Codec{keys: keys}
}

// Encrypt шифрует строку и возвращает base64-представление nonce и шифротекста.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	gcm, err := c.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt расшифровывает значение, полученное из Encrypt.
// Любая ошибка расшифровки сворачивается в ErrDecryptionFailed.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	gcm, err := c.aead()
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	if len(raw) < gcm.NonceSize() {
		return "", ErrDecryptionFailed
	}

	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plain), nil
}

// EncryptIfChanged шифрует значение только если оно отличается от уже
// сохранённого. Повторное сохранение неизменённого поля возвращает прежний
// шифротекст, что исключает двойное шифрование.
func (c *Codec) EncryptIfChanged(plaintext, storedCiphertext string) (string, error) {
	if storedCiphertext != "" {
		stored, err := c.Decrypt(storedCiphertext)
		if err == nil && stored == plaintext {
			return storedCiphertext, nil
		}
	}
	return c.Encrypt(plaintext)
}

func (c *Codec) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.keys.Key())
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}
