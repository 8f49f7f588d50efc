package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwaoma2005/telegram-gaming-bot/internal/gateway"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/metrics"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/subscription"
)

// stubProvider accepts the signature "good-sig" and parses bodies of the
// form {"reference":...,"succeeded":...}
type stubProvider struct{}

func (stubProvider) Name() string { return "stub" }

func (stubProvider) CreateCheckout(_ context.Context, _ gateway.CheckoutRequest) (*gateway.Checkout, error) {
	return nil, errors.New("not used")
}

func (stubProvider) Verify(_ context.Context, _ string) (*gateway.VerifyResult, error) {
	return nil, errors.New("not used")
}

func (stubProvider) SignatureHeader() string { return "x-stub-signature" }

func (stubProvider) VerifyWebhookSignature(signature string, _ []byte) bool {
	return signature == "good-sig"
}

func (stubProvider) ParseWebhookEvent(body []byte) (*gateway.WebhookEvent, error) {
	var payload struct {
		Reference string `json:"reference"`
		Succeeded bool   `json:"succeeded"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return &gateway.WebhookEvent{Reference: payload.Reference, Succeeded: payload.Succeeded}, nil
}

type stubActivator struct {
	mu      sync.Mutex
	calls   []string
	result  *subscription.Activation
	err     error
	settled chan string
}

func (a *stubActivator) ConfirmFromWebhook(_ context.Context, reference string) (int64, *subscription.Activation, error) {
	a.mu.Lock()
	a.calls = append(a.calls, reference)
	a.mu.Unlock()

	if a.settled != nil {
		a.settled <- reference
	}
	if a.err != nil {
		return 0, nil, a.err
	}
	return 42, a.result, nil
}

func (a *stubActivator) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type stubNotifier struct {
	activated chan int64
}

func (n *stubNotifier) NotifyActivated(_ context.Context, userID int64, _ *subscription.Activation) {
	n.activated <- userID
}

func (n *stubNotifier) NotifyReminder(_ context.Context, _ int64, _ int) {}

func (n *stubNotifier) NotifyExpired(_ context.Context, _ int64) {}

func newTestServer(t *testing.T, act *stubActivator, notifier subscription.Notifier) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	providers := map[string]gateway.Provider{"stub": stubProvider{}}
	s := NewServer(act, notifier, providers, metrics.New(), log)

	srv := httptest.NewServer(s.newRouter())
	t.Cleanup(srv.Close)
	return srv
}

func postWebhook(t *testing.T, srv *httptest.Server, provider, signature, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhook/"+provider, strings.NewReader(body))
	require.NoError(t, err)
	if signature != "" {
		req.Header.Set("x-stub-signature", signature)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &stubActivator{}, &stubNotifier{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "Premium Gaming Bot", body["service"])

	_, err = time.Parse(time.RFC3339, body["timestamp"])
	assert.NoError(t, err)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubActivator{}, &stubNotifier{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "go_goroutines")
}

func TestWebhookUnknownProvider(t *testing.T) {
	srv := newTestServer(t, &stubActivator{}, &stubNotifier{})

	resp := postWebhook(t, srv, "stripe", "good-sig", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	act := &stubActivator{}
	srv := newTestServer(t, act, &stubNotifier{})

	resp := postWebhook(t, srv, "stub", "forged", `{"reference":"ref-1","succeeded":true}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postWebhook(t, srv, "stub", "", `{"reference":"ref-1","succeeded":true}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Zero(t, act.callCount(), "unauthenticated deliveries never settle")
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	srv := newTestServer(t, &stubActivator{}, &stubNotifier{})

	resp := postWebhook(t, srv, "stub", "good-sig", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookRejectsOversizeBody(t *testing.T) {
	srv := newTestServer(t, &stubActivator{}, &stubNotifier{})

	resp := postWebhook(t, srv, "stub", "good-sig", strings.Repeat("a", 70000))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookSettlesSuccessfulCharge(t *testing.T) {
	act := &stubActivator{result: &subscription.Activation{}}
	notifier := &stubNotifier{activated: make(chan int64, 1)}
	srv := newTestServer(t, act, notifier)

	resp := postWebhook(t, srv, "stub", "good-sig", `{"reference":"ref-1","succeeded":true}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var ack map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.True(t, ack["received"])

	select {
	case uid := <-notifier.activated:
		assert.Equal(t, int64(42), uid)
	case <-time.After(2 * time.Second):
		t.Fatal("settlement did not run")
	}
}

func TestWebhookSkipsNotificationWhenAlreadyActive(t *testing.T) {
	act := &stubActivator{
		result:  &subscription.Activation{AlreadyActive: true},
		settled: make(chan string, 1),
	}
	notifier := &stubNotifier{activated: make(chan int64, 1)}
	srv := newTestServer(t, act, notifier)

	resp := postWebhook(t, srv, "stub", "good-sig", `{"reference":"ref-1","succeeded":true}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-act.settled:
	case <-time.After(2 * time.Second):
		t.Fatal("settlement did not run")
	}

	select {
	case <-notifier.activated:
		t.Fatal("the verify button already told the user, no second message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebhookAcksFailedChargesWithoutSettling(t *testing.T) {
	act := &stubActivator{}
	srv := newTestServer(t, act, &stubNotifier{})

	resp := postWebhook(t, srv, "stub", "good-sig", `{"reference":"ref-1","succeeded":false}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postWebhook(t, srv, "stub", "good-sig", `{"reference":"","succeeded":true}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, act.callCount())
}
