package suncloud

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const (
	contentType = "application/json;charset=UTF-8"
	sysCode     = "901"
	langTag     = "_en_US"

	headerSysCode   = "sys_code"
	headerAccessKey = "x-access-key"
	headerSecretKey = "x-random-secret-key"
	headerToken     = "token"
)

type apiKeyParam struct {
	Nonce     string `json:"nonce"`
	Timestamp string `json:"timestamp"`
}

// now is replaced in tests.
var now = time.Now

// buildPayload merges the envelope fields into the call fields and returns
// the encrypted body. The caller's map is left untouched.
func buildPayload(fields map[string]interface{}, appKey, token, requestKey string) (string, error) {
	payload := make(map[string]interface{}, len(fields)+4)
	for key, value := range fields {
		payload[key] = value
	}

	n, err := nonce()
	if err != nil {
		return "", err
	}
	payload["appkey"] = appKey
	payload["lang"] = langTag
	payload["api_key_param"] = apiKeyParam{
		Nonce:     n,
		Timestamp: strconv.FormatInt(now().UnixMilli(), 10),
	}
	if token != "" {
		payload["token"] = token
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "encode payload")
	}
	return encrypt(string(body), requestKey)
}

// buildHeaders frames the plaintext headers of one call.
func buildHeaders(wrappedKey, accessKey, token string) http.Header {
	headers := http.Header{}
	headers.Set("Content-Type", contentType)
	// The gateway expects the underscore header name verbatim.
	headers[headerSysCode] = []string{sysCode}
	headers.Set(headerAccessKey, accessKey)
	headers.Set(headerSecretKey, wrappedKey)
	if token != "" {
		headers.Set(headerToken, token)
	}
	return headers
}
