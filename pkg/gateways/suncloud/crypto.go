package suncloud

import (
	"bytes"
	"crypto/aes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

const (
	keySize        = 16
	requestKeySize = 16
	nonceSize      = 32
	alphanumerics  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// deriveKey zero-pads or truncates the password to an AES-128 key.
func deriveKey(password string) []byte {
	key := make([]byte, keySize)
	copy(key, password)
	return key
}

func pkcs7Pad(data []byte) []byte {
	padding := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, errors.Wrap(ErrCrypto, "invalid padded length")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > aes.BlockSize {
		return nil, errors.Wrap(ErrCrypto, "invalid padding")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.Wrap(ErrCrypto, "invalid padding")
		}
	}
	return data[:len(data)-padding], nil
}

// encrypt returns the uppercase hex of plaintext under AES-128-ECB with PKCS7 padding.
func encrypt(plaintext, password string) (string, error) {
	block, err := aes.NewCipher(deriveKey(password))
	if err != nil {
		return "", errors.Wrap(ErrCrypto, err.Error())
	}

	padded := pkcs7Pad([]byte(plaintext))
	ciphertext := make([]byte, len(padded))
	for i := 0; i < len(padded); i += aes.BlockSize {
		block.Encrypt(ciphertext[i:i+aes.BlockSize], padded[i:i+aes.BlockSize])
	}
	return strings.ToUpper(hex.EncodeToString(ciphertext)), nil
}

// decrypt reverses encrypt and decodes the JSON plaintext into v.
// Numbers are kept as json.Number.
func decrypt(hexCiphertext, password string, v interface{}) error {
	ciphertext, err := hex.DecodeString(strings.TrimSpace(hexCiphertext))
	if err != nil {
		return errors.Wrap(ErrCrypto, "malformed hex body")
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return errors.Wrapf(ErrCrypto, "ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}

	block, err := aes.NewCipher(deriveKey(password))
	if err != nil {
		return errors.Wrap(ErrCrypto, err.Error())
	}
	plaintext := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += aes.BlockSize {
		block.Decrypt(plaintext[i:i+aes.BlockSize], ciphertext[i:i+aes.BlockSize])
	}

	plaintext, err = pkcs7Unpad(plaintext)
	if err != nil {
		return err
	}

	decoder := json.NewDecoder(bytes.NewReader(plaintext))
	decoder.UseNumber()
	if err := decoder.Decode(v); err != nil {
		return errors.Wrapf(ErrCrypto, "invalid JSON plaintext: %v", err)
	}
	return nil
}

// wrapKey encrypts rawKey with the account RSA public key (PKCS#1 v1.5)
// and returns it base64url-encoded.
func wrapKey(rawKey, publicKeyB64 string) (string, error) {
	publicKey, err := parsePublicKey(publicKeyB64)
	if err != nil {
		return "", err
	}
	wrapped, err := rsa.EncryptPKCS1v15(rand.Reader, publicKey, []byte(rawKey))
	if err != nil {
		return "", errors.Wrapf(ErrCrypto, "rsa encrypt: %v", err)
	}
	return base64.URLEncoding.EncodeToString(wrapped), nil
}

func parsePublicKey(publicKeyB64 string) (*rsa.PublicKey, error) {
	der, err := decodeBase64(publicKeyB64)
	if err != nil {
		return nil, errors.Wrap(ErrCrypto, "public key is not base64")
	}

	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.Wrap(ErrCrypto, "public key is not an RSA key")
		}
		return rsaKey, nil
	}
	rsaKey, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, errors.Wrap(ErrCrypto, "malformed public key")
	}
	return rsaKey, nil
}

// decodeBase64 accepts the URL-safe and standard alphabets, padded or not.
func decodeBase64(value string) ([]byte, error) {
	value = strings.Join(strings.Fields(value), "")
	value = strings.NewReplacer("-", "+", "_", "/").Replace(value)
	if strings.HasSuffix(value, "=") {
		return base64.StdEncoding.DecodeString(value)
	}
	return base64.RawStdEncoding.DecodeString(value)
}

func randomString(length int) (string, error) {
	max := big.NewInt(int64(len(alphanumerics)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(ErrCrypto, err.Error())
		}
		buf[i] = alphanumerics[n.Int64()]
	}
	return string(buf), nil
}

// randomKey returns a fresh per-request AES password.
func randomKey() (string, error) {
	return randomString(requestKeySize)
}

func nonce() (string, error) {
	return randomString(nonceSize)
}
