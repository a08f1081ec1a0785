package suncloud

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyIsAlwaysSixteenBytes(t *testing.T) {
	for _, password := range []string{"", "ab", "abcdefghijklmnop", strings.Repeat("a", 20), "ünïcödé"} {
		assert.Len(t, deriveKey(password), keySize, password)
	}
}

func TestDeriveKeyPadsWithZeroBytes(t *testing.T) {
	key := deriveKey("ab")
	assert.Equal(t, []byte("ab"), key[:2])
	assert.Equal(t, make([]byte, 14), key[2:])
}

func TestDeriveKeyTruncates(t *testing.T) {
	key := deriveKey("abcdefghijklmnopqrst")
	assert.Equal(t, []byte("abcdefghijklmnop"), key)
}

func TestEncryptKnownVector(t *testing.T) {
	ciphertext, err := encrypt(`{"result_code":"1"}`, "abcdefghijklmnop")

	assert.NoError(t, err)
	assert.Equal(t, "A2E283584FEF013B031AB567B38BD383C93B3A75FC751B8AF8D46EDC576080E5", ciphertext)
}

func TestEncryptShortPasswordKnownVector(t *testing.T) {
	ciphertext, err := encrypt("hello", "ab")

	assert.NoError(t, err)
	assert.Equal(t, "0972D7DAC1A59E007BF0F8C28C422773", ciphertext)
}

func TestEncryptIsUppercaseHex(t *testing.T) {
	ciphertext, err := encrypt(strings.Repeat("x", 100), "password")

	assert.NoError(t, err)
	assert.Equal(t, strings.ToUpper(ciphertext), ciphertext)
	assert.Zero(t, len(ciphertext)%32)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, value := range []string{"", "a", "sixteen bytes!!!", strings.Repeat("ç", 40), `quote " and \ backslash`} {
		for _, password := range []string{"k", "abcdefghijklmnop", "longer than sixteen characters"} {
			plaintext, err := json.Marshal(value)
			require.NoError(t, err)

			ciphertext, err := encrypt(string(plaintext), password)
			require.NoError(t, err)

			var decoded string
			err = decrypt(ciphertext, password, &decoded)
			assert.NoError(t, err)
			assert.Equal(t, value, decoded)
		}
	}
}

func TestDecryptAcceptsLowercaseHex(t *testing.T) {
	var envelope map[string]string
	err := decrypt(strings.ToLower("A2E283584FEF013B031AB567B38BD383C93B3A75FC751B8AF8D46EDC576080E5"), "abcdefghijklmnop", &envelope)

	assert.NoError(t, err)
	assert.Equal(t, "1", envelope["result_code"])
}

func TestDecryptKeepsNumbers(t *testing.T) {
	ciphertext, err := encrypt(`{"value":12345678901234567890}`, "key")
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, decrypt(ciphertext, "key", &decoded))
	assert.Equal(t, json.Number("12345678901234567890"), decoded["value"])
}

func TestDecryptWhenNotHexThenReturnCryptoError(t *testing.T) {
	var decoded map[string]interface{}
	err := decrypt("not-hex", "anyPassword", &decoded)

	assert.True(t, errors.Is(err, ErrCrypto))
}

func TestDecryptWhenEmptyThenReturnCryptoError(t *testing.T) {
	var decoded map[string]interface{}
	assert.True(t, errors.Is(decrypt("", "key", &decoded), ErrCrypto))
}

func TestDecryptWhenTruncatedBlockThenReturnCryptoError(t *testing.T) {
	var decoded map[string]interface{}
	err := decrypt("A2E283584FEF013B", "abcdefghijklmnop", &decoded)

	assert.True(t, errors.Is(err, ErrCrypto))
}

func TestDecryptWhenWrongKeyThenReturnCryptoError(t *testing.T) {
	ciphertext, err := encrypt(`{"result_code":"1","result_data":{}}`, "right key")
	require.NoError(t, err)

	var decoded map[string]interface{}
	err = decrypt(ciphertext, "wrong key", &decoded)
	assert.True(t, errors.Is(err, ErrCrypto))
}

func TestDecryptWhenPlaintextIsNotJSONThenReturnCryptoError(t *testing.T) {
	ciphertext, err := encrypt("plain text", "key")
	require.NoError(t, err)

	var decoded map[string]interface{}
	err = decrypt(ciphertext, "key", &decoded)
	assert.True(t, errors.Is(err, ErrCrypto))
}

func TestPKCS7UnpadRejectsBadPadding(t *testing.T) {
	block := []byte("fifteen bytes!!\x03")
	_, err := pkcs7Unpad(block)
	assert.True(t, errors.Is(err, ErrCrypto))

	block[15] = 0
	_, err = pkcs7Unpad(block)
	assert.True(t, errors.Is(err, ErrCrypto))
}

func TestWrapKeyCanBeUnwrappedWithPrivateKey(t *testing.T) {
	privateKey, publicKeyB64 := generateKeyPair(t)

	wrapped, err := wrapKey("0123456789abcdef", publicKeyB64)
	require.NoError(t, err)

	ciphertext, err := base64.URLEncoding.DecodeString(wrapped)
	require.NoError(t, err)
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, privateKey, ciphertext)
	assert.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", string(plain))
}

func TestWrapKeyAcceptsStandardAlphabetAndPKCS1(t *testing.T) {
	privateKey, _ := generateKeyPair(t)
	der := x509.MarshalPKCS1PublicKey(&privateKey.PublicKey)

	for _, encoded := range []string{
		base64.StdEncoding.EncodeToString(der),
		base64.RawURLEncoding.EncodeToString(der),
		"  " + base64.URLEncoding.EncodeToString(der) + "\n",
	} {
		wrapped, err := wrapKey("key", encoded)
		assert.NoError(t, err)
		assert.NotEmpty(t, wrapped)
	}
}

func TestWrapKeyWhenMalformedKeyThenReturnCryptoError(t *testing.T) {
	for _, key := range []string{"", "!!!!", base64.URLEncoding.EncodeToString([]byte("not a der key"))} {
		wrapped, err := wrapKey("key", key)
		assert.Empty(t, wrapped)
		assert.True(t, errors.Is(err, ErrCrypto), key)
	}
}

func TestRandomKeyAndNonce(t *testing.T) {
	key, err := randomKey()
	require.NoError(t, err)
	other, err := randomKey()
	require.NoError(t, err)
	n, err := nonce()
	require.NoError(t, err)

	assert.Len(t, key, requestKeySize)
	assert.Len(t, n, nonceSize)
	assert.NotEqual(t, key, other)
	for _, c := range key + n {
		assert.True(t, strings.ContainsRune(alphanumerics, c))
	}
}
