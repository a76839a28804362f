package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/u3640877/transitive/internal/infrastructure/config"
	"github.com/u3640877/transitive/internal/infrastructure/logging"
	"github.com/u3640877/transitive/internal/mqttsync"
	"github.com/u3640877/transitive/internal/topics"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// loopBroker is a minimal in-process broker: publishes loop back to the
// local listeners when a subscription matches. Enough for RPC and local
// cache tests.
type loopBroker struct {
	mu        sync.Mutex
	subs      map[string]struct{}
	listeners []mqttsync.MessageFn
}

func newLoopBroker() *loopBroker {
	return &loopBroker{subs: map[string]struct{}{}}
}

func (b *loopBroker) IsConnected() bool { return true }

func (b *loopBroker) Subscribe(topic string, qos byte, cb func(err error, granted []mqttsync.Grant)) {
	b.mu.Lock()
	b.subs[topic] = struct{}{}
	b.mu.Unlock()
	if cb != nil {
		cb(nil, []mqttsync.Grant{{Topic: topic, QoS: qos}})
	}
}

func (b *loopBroker) Publish(topic string, payload []byte, _ byte, retained bool) error {
	b.mu.Lock()
	matched := false
	for sel := range b.subs {
		if sel == topic {
			matched = true
			break
		}
		if _, ok := topics.MatchTopic(sel, topic); ok {
			matched = true
			break
		}
	}
	listeners := make([]mqttsync.MessageFn, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	if matched {
		for _, fn := range listeners {
			fn(topic, payload, retained)
		}
	}
	return nil
}

func (b *loopBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	delete(b.subs, topic)
	b.mu.Unlock()
	return nil
}

func (b *loopBroker) HandleMessage(fn mqttsync.MessageFn) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// newTestServer builds a Server around a loopback sync core and returns
// an httptest server over its routes.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	core, err := mqttsync.New(mqttsync.Options{Client: newLoopBroker()})
	if err != nil {
		t.Fatalf("mqttsync.New() error = %v", err)
	}

	s, err := New(Deps{
		Config: config.APIConfig{
			JWT: config.JWTConfig{Secret: testSecret},
		},
		Logger:  logging.Default(),
		Sync:    core,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, ts
}

// signToken creates a valid HS256 bearer token.
func signToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "tester",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

// doRequest performs an authenticated request and decodes the JSON body.
func doRequest(t *testing.T, ts *httptest.Server, method, path string, body any, token string) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

// =============================================================================
// Auth Tests
// =============================================================================

func TestHealthNoAuth(t *testing.T) {
	_, ts := newTestServer(t)

	status, body := doRequest(t, ts, http.MethodGet, "/health", nil, "")
	if status != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", status)
	}
	if body["status"] != "ok" {
		t.Errorf("health body = %v", body)
	}
}

func TestStateRequiresAuth(t *testing.T) {
	_, ts := newTestServer(t)

	status, _ := doRequest(t, ts, http.MethodGet, "/v1/state?topic=/a", nil, "")
	if status != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", status)
	}

	status, _ = doRequest(t, ts, http.MethodGet, "/v1/state?topic=/a", nil, "not-a-token")
	if status != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", status)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	_, ts := newTestServer(t)

	token := signToken(t, "ffffffffffffffffffffffffffffffff")
	status, _ := doRequest(t, ts, http.MethodGet, "/v1/state?topic=/a", nil, token)
	if status != http.StatusUnauthorized {
		t.Errorf("wrong-secret status = %d, want 401", status)
	}
}

// =============================================================================
// State Tests
// =============================================================================

func TestGetAndPutState(t *testing.T) {
	s, ts := newTestServer(t)
	token := signToken(t, testSecret)

	status, body := doRequest(t, ts, http.MethodPut, "/v1/state",
		putStateRequest{Topic: "/robot/status", Value: "ok"}, token)
	if status != http.StatusOK {
		t.Fatalf("PUT /v1/state status = %d", status)
	}
	if body["changed"] != float64(1) {
		t.Errorf("changed = %v, want 1", body["changed"])
	}

	status, body = doRequest(t, ts, http.MethodGet, "/v1/state?topic=/robot/status", nil, token)
	if status != http.StatusOK {
		t.Fatalf("GET /v1/state status = %d", status)
	}
	if body["value"] != "ok" {
		t.Errorf("value = %v, want ok", body["value"])
	}

	if got := s.sync.Data.GetByTopic("/robot/status"); got != "ok" {
		t.Errorf("cache value = %v", got)
	}
}

func TestFilterState(t *testing.T) {
	s, ts := newTestServer(t)
	token := signToken(t, testSecret)

	s.sync.Data.UpdateFromTopic("/acme/r1/status", "ok", nil)
	s.sync.Data.UpdateFromTopic("/acme/r2/status", "down", nil)
	s.sync.Data.UpdateFromTopic("/acme/r1/load", float64(5), nil)

	status, body := doRequest(t, ts, http.MethodGet, "/v1/state/filter?selector=/acme/%2B/status", nil, token)
	if status != http.StatusOK {
		t.Fatalf("GET /v1/state/filter status = %d", status)
	}
	value := body["value"].(map[string]any)
	acme := value["acme"].(map[string]any)
	if len(acme) != 2 {
		t.Errorf("filtered = %v, want both devices", acme)
	}
	if _, ok := acme["r1"].(map[string]any)["load"]; ok {
		t.Error("filter leaked non-matching leaf")
	}
}

func TestPutStateValidation(t *testing.T) {
	_, ts := newTestServer(t)
	token := signToken(t, testSecret)

	status, _ := doRequest(t, ts, http.MethodPut, "/v1/state", putStateRequest{Value: 1}, token)
	if status != http.StatusBadRequest {
		t.Errorf("missing topic status = %d, want 400", status)
	}
}

// =============================================================================
// RPC Tests
// =============================================================================

func TestRPCEndpoint(t *testing.T) {
	s, ts := newTestServer(t)
	token := signToken(t, testSecret)

	s.sync.Register("/double", func(args any) (any, error) {
		return args.(float64) * 2, nil
	})

	status, body := doRequest(t, ts, http.MethodPost, "/v1/rpc",
		rpcRequest{Command: "/double", Args: float64(21)}, token)
	if status != http.StatusOK {
		t.Fatalf("POST /v1/rpc status = %d", status)
	}
	if body["result"] != float64(42) {
		t.Errorf("result = %v, want 42", body["result"])
	}
}

// =============================================================================
// History Tests
// =============================================================================

func TestHistoryDisabled(t *testing.T) {
	_, ts := newTestServer(t)
	token := signToken(t, testSecret)

	status, _ := doRequest(t, ts, http.MethodGet, "/v1/history?topic=/a", nil, token)
	if status != http.StatusNotFound {
		t.Errorf("history status = %d, want 404 when disabled", status)
	}
}
