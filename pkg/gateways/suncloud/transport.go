package suncloud

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	loginEndpoint        = "/openapi/login"
	plantListEndpoint    = "/openapi/getPowerStationList"
	deviceListEndpoint   = "/openapi/getDeviceList"
	plantDetailEndpoint  = "/openapi/getPowerStationDetail"
	pointInfoEndpoint    = "/openapi/getOpenPointInfo"
	realtimeDataEndpoint = "/openapi/getDeviceRealTimeData"

	successCode      = "1"
	maxResponseBytes = 8 << 20
)

// opaqueID decodes identifiers the gateway sends either as strings or as numbers.
type opaqueID string

func (id *opaqueID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = opaqueID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = opaqueID(n.String())
	return nil
}

type envelope struct {
	ResultCode opaqueID        `json:"result_code"`
	ResultMsg  string          `json:"result_msg"`
	ResultData json.RawMessage `json:"result_data"`
}

type transport struct {
	baseURL   string
	appKey    string
	accessKey string
	publicKey string
	timeout   time.Duration
	log       *logrus.Entry

	mu         sync.Mutex
	httpClient *http.Client
}

// session returns the shared HTTP client, creating it on first use or after Close.
func (t *transport) session() *http.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.httpClient == nil {
		t.httpClient = &http.Client{Timeout: t.timeout}
	}
	return t.httpClient
}

// Close releases pooled connections. It can be called any number of times.
func (t *transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.httpClient != nil {
		t.httpClient.CloseIdleConnections()
		t.httpClient = nil
	}
}

// call performs one encrypted request and decodes result_data into out.
// Every call uses a fresh request key.
func (t *transport) call(ctx context.Context, endpoint string, fields map[string]interface{}, token string, out interface{}) error {
	requestKey, err := randomKey()
	if err != nil {
		return err
	}
	wrappedKey, err := wrapKey(requestKey, t.publicKey)
	if err != nil {
		return errors.Wrap(err, endpoint)
	}
	body, err := buildPayload(fields, t.appKey, token, requestKey)
	if err != nil {
		return errors.Wrap(err, endpoint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+endpoint, strings.NewReader(body))
	if err != nil {
		return errors.Wrapf(ErrTransport, "%s: %v", endpoint, err)
	}
	req.Header = buildHeaders(wrappedKey, t.accessKey, token)

	t.log.WithField("endpoint", endpoint).Debug("sending request")
	resp, err := t.session().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), endpoint)
		}
		return errors.Wrapf(ErrTransport, "%s: %v", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Wrapf(ErrTransport, "%s: unexpected status code %d", endpoint, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), endpoint)
		}
		return errors.Wrapf(ErrTransport, "%s: read body: %v", endpoint, err)
	}

	var answer envelope
	if err := decrypt(string(raw), requestKey, &answer); err != nil {
		return errors.Wrap(err, endpoint)
	}
	if answer.ResultCode != successCode {
		return &ProtocolError{Endpoint: endpoint, Code: string(answer.ResultCode), Message: answer.ResultMsg}
	}
	if out == nil {
		return nil
	}
	if len(answer.ResultData) == 0 || bytes.Equal(answer.ResultData, []byte("null")) {
		return missingField(endpoint, "result_data")
	}
	decoder := json.NewDecoder(bytes.NewReader(answer.ResultData))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return errors.Wrapf(ErrProtocol, "%s: decode result_data: %v", endpoint, err)
	}
	return nil
}
