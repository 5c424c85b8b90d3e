package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkdesk/internal/journal"
	"linkdesk/internal/logging"
	"linkdesk/internal/metrics"
	"linkdesk/internal/notify"
	"linkdesk/pkg/types"
)

type fakeDelivery struct {
	userCalls  []int64
	adminCalls int
	online     map[int64]int
	admins     int
}

func (f *fakeDelivery) NotifyUser(userID int64, _ types.Event) int {
	f.userCalls = append(f.userCalls, userID)
	return f.online[userID]
}

func (f *fakeDelivery) NotifyAllAdmins(_ types.Event) int {
	f.adminCalls++
	return f.admins
}

type fakeCounter struct{ n int }

func (f fakeCounter) Len() int { return f.n }

type fixture struct {
	delivery *fakeDelivery
	server   *httptest.Server
}

func newFixture(t *testing.T, jrnl *journal.Journal, internalToken string) *fixture {
	t.Helper()

	delivery := &fakeDelivery{online: map[int64]int{7: 1, 99: 1}, admins: 2}
	var recorder notify.Recorder
	if jrnl != nil {
		recorder = jrnl
	}
	notifier := notify.New(delivery, recorder, logging.Nop())

	wsStub := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUpgradeRequired)
	})
	srv := NewServer(notifier, fakeCounter{n: 3}, jrnl, metrics.New(), "/ws/notifications", wsStub, internalToken, logging.Nop())

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &fixture{delivery: delivery, server: ts}
}

func (f *fixture) post(t *testing.T, path, body, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestOrderStatusEventAccepted(t *testing.T) {
	f := newFixture(t, nil, "")

	resp := f.post(t, "/internal/events/order-status",
		`{"orderId":42,"status":"published","orderOwnerUserId":7}`, "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody(t, resp)
	delivered := body["delivered"].(map[string]interface{})
	assert.Equal(t, float64(1), delivered["owner"])
	assert.Equal(t, float64(2), delivered["admins"])

	assert.Equal(t, []int64{7}, f.delivery.userCalls)
	assert.Equal(t, 1, f.delivery.adminCalls)
}

func TestOrderStatusEventValidation(t *testing.T) {
	f := newFixture(t, nil, "")

	for name, body := range map[string]string{
		"bad json":      `{"orderId":`,
		"missing order": `{"status":"published","orderOwnerUserId":7}`,
		"missing owner": `{"orderId":42,"status":"published"}`,
		"empty status":  `{"orderId":42,"status":"","orderOwnerUserId":7}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := f.post(t, "/internal/events/order-status", body, "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Empty(t, f.delivery.userCalls, "invalid requests must not fan out")
}

func TestCommentEventAccepted(t *testing.T) {
	f := newFixture(t, nil, "")

	resp := f.post(t, "/internal/events/comment",
		`{"orderId":42,"orderOwnerUserId":7,"comment":{"userId":99,"content":"done","user":{"id":99,"is_admin":true}}}`, "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Admin-authored: owner and author sends only.
	assert.Equal(t, []int64{7, 99}, f.delivery.userCalls)
	assert.Equal(t, 0, f.delivery.adminCalls)
}

func TestCommentEventRequiresAuthor(t *testing.T) {
	f := newFixture(t, nil, "")

	resp := f.post(t, "/internal/events/comment",
		`{"orderId":42,"orderOwnerUserId":7,"comment":{"content":"anonymous"}}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMessageEventAccepted(t *testing.T) {
	f := newFixture(t, nil, "")

	resp := f.post(t, "/internal/events/message",
		`{"recipientUserId":7,"message":{"senderName":"Dana","body":"hi"}}`, "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []int64{7}, f.delivery.userCalls)
}

func TestInternalTokenGuard(t *testing.T) {
	f := newFixture(t, nil, "s3cret")

	resp := f.post(t, "/internal/events/order-status",
		`{"orderId":42,"status":"published","orderOwnerUserId":7}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.post(t, "/internal/events/order-status",
		`{"orderId":42,"status":"published","orderOwnerUserId":7}`, "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.post(t, "/internal/events/order-status",
		`{"orderId":42,"status":"published","orderOwnerUserId":7}`, "s3cret")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil, "")

	resp, err := f.server.Client().Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["connections"])
}

func TestJournalDisabled(t *testing.T) {
	f := newFixture(t, nil, "")

	resp, err := f.server.Client().Get(f.server.URL + "/internal/journal")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJournalEndpoint(t *testing.T) {
	jrnl, err := journal.Open(filepath.Join(t.TempDir(), "j.db"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = jrnl.Close() })

	f := newFixture(t, jrnl, "")
	require.NoError(t, jrnl.Record(context.Background(), "new_comment", 42, 2))

	resp := f.post(t, "/internal/events/order-status",
		`{"orderId":43,"status":"published","orderOwnerUserId":7}`, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	listResp, err := f.server.Client().Get(f.server.URL + "/internal/journal?limit=10")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	body := decodeBody(t, listResp)
	entries := body["entries"].([]interface{})
	require.Len(t, entries, 2)
	newest := entries[0].(map[string]interface{})
	assert.Equal(t, "order_status_update", newest["eventType"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil, "")

	resp, err := f.server.Client().Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
