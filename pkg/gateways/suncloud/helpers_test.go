package suncloud

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/janael-pinheiro/suncloud-sdk-golang/pkg/entities"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

var (
	keyPairOnce sync.Once
	testKey     *rsa.PrivateKey
	testKeyErr  error
)

func generateKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	keyPairOnce.Do(func() {
		testKey, testKeyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	require.NoError(t, testKeyErr)
	der, err := x509.MarshalPKIXPublicKey(&testKey.PublicKey)
	require.NoError(t, err)
	return testKey, base64.URLEncoding.EncodeToString(der)
}

type fakeResponse struct {
	status   int
	raw      string
	envelope interface{}
}

func success(data interface{}) fakeResponse {
	return fakeResponse{envelope: map[string]interface{}{
		"result_code": "1",
		"result_msg":  "success",
		"result_data": data,
	}}
}

func failure(code, msg string) fakeResponse {
	return fakeResponse{envelope: map[string]interface{}{
		"result_code": code,
		"result_msg":  msg,
	}}
}

type recordedRequest struct {
	endpoint string
	headers  http.Header
	payload  map[string]interface{}
}

// fakeGateway decrypts requests like the SunCloud gateway and answers with
// queued encrypted envelopes.
type fakeGateway struct {
	t          *testing.T
	privateKey *rsa.PrivateKey
	publicKey  string
	server     *httptest.Server

	mu        sync.Mutex
	requests  []recordedRequest
	responses map[string][]fakeResponse
}

func newFakeGateway(t *testing.T) *fakeGateway {
	privateKey, publicKey := generateKeyPair(t)
	gw := &fakeGateway{
		t:          t,
		privateKey: privateKey,
		publicKey:  publicKey,
		responses:  map[string][]fakeResponse{},
	}
	gw.server = httptest.NewServer(http.HandlerFunc(gw.handle))
	t.Cleanup(gw.server.Close)
	return gw
}

func (gw *fakeGateway) queue(endpoint string, responses ...fakeResponse) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.responses[endpoint] = append(gw.responses[endpoint], responses...)
}

func (gw *fakeGateway) endpoints() []string {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	endpoints := make([]string, 0, len(gw.requests))
	for _, request := range gw.requests {
		endpoints = append(endpoints, request.endpoint)
	}
	return endpoints
}

func (gw *fakeGateway) lastRequest() recordedRequest {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	require.NotEmpty(gw.t, gw.requests)
	return gw.requests[len(gw.requests)-1]
}

func (gw *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	wrapped, err := base64.URLEncoding.DecodeString(r.Header.Get("x-random-secret-key"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	requestKey, err := rsa.DecryptPKCS1v15(rand.Reader, gw.privateKey, wrapped)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	body, _ := io.ReadAll(r.Body)
	var payload map[string]interface{}
	if err := decrypt(string(body), string(requestKey), &payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	gw.mu.Lock()
	gw.requests = append(gw.requests, recordedRequest{endpoint: r.URL.Path, headers: r.Header.Clone(), payload: payload})
	queued := gw.responses[r.URL.Path]
	var response fakeResponse
	if len(queued) == 0 {
		response = failure("E404", "no response queued")
	} else {
		response = queued[0]
		gw.responses[r.URL.Path] = queued[1:]
	}
	gw.mu.Unlock()

	if response.status != 0 {
		w.WriteHeader(response.status)
	}
	if response.raw != "" {
		_, _ = w.Write([]byte(response.raw))
		return
	}
	plaintext, _ := json.Marshal(response.envelope)
	ciphertext, _ := encrypt(string(plaintext), string(requestKey))
	_, _ = w.Write([]byte(ciphertext))
}

func newTestConfig(gw *fakeGateway, cachePath string) entities.SunCloudConfig {
	return entities.SunCloudConfig{
		Username:     "user@example.com",
		Password:     "secret",
		AppKey:       "APPKEY",
		AccessKey:    "ACCESS",
		RSAPublicKey: gw.publicKey,
		BaseURL:      gw.server.URL,
		CachePath:    cachePath,
	}
}

func newTestLogger() (*logrus.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(logger), hook
}

func newTestClient(t *testing.T, gw *fakeGateway) (*Client, string) {
	cachePath := filepath.Join(t.TempDir(), "suncloud_cache.yaml")
	log, _ := newTestLogger()
	client, err := NewClient(newTestConfig(gw, cachePath), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, cachePath
}

func queueBootstrap(gw *fakeGateway) {
	gw.queue(loginEndpoint, success(map[string]interface{}{"token": "T1", "login_state": "1"}))
	gw.queue(plantListEndpoint, success(map[string]interface{}{
		"pageList": []interface{}{map[string]interface{}{"ps_id": "P1", "ps_name": "Home"}},
	}))
	gw.queue(deviceListEndpoint, success(map[string]interface{}{
		"pageList": []interface{}{
			map[string]interface{}{"device_type": 1, "device_sn": "INV1"},
			map[string]interface{}{"device_type": 22, "device_sn": "SN1", "device_name": "Communication Module"},
		},
	}))
	gw.queue(plantDetailEndpoint, success(map[string]interface{}{"ps_key": "K1", "ps_name": "Home"}))
	gw.queue(pointInfoEndpoint, success(map[string]interface{}{
		"pageList": []interface{}{
			map[string]interface{}{"point_id": 83022, "point_name": "Daily Yield", "storage_unit": "Wh"},
			map[string]interface{}{"point_id": 83033, "point_name": "Current Power", "show_unit": "W"},
		},
	}))
}

func markReady(c *Client) {
	c.token = "T1"
	c.plantID = "P1"
	c.deviceSerial = "SN1"
	c.plantKey = "K1"
	c.points = entities.PointCatalog{
		"83033": {Name: "Current Power", Unit: "W"},
		"83022": {Name: "Daily Yield", Unit: "Wh"},
	}
}
