package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xdignya776/shoptrae/internal/platform/requestctx"
)

var fixedTime = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func checkoutRequest(visitor, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderName, key)
	}
	if visitor != "" {
		req = req.WithContext(requestctx.WithVisitorID(req.Context(), visitor))
	}
	return req
}

func TestMiddleware_PassesThroughWithoutKey(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, checkoutRequest("v1", "", `{}`))
		if rr.Code != http.StatusCreated {
			t.Fatalf("unexpected status %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected both requests to reach the handler, got %d", calls)
	}
}

func TestMiddleware_RequiredKey(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithRequiredKey())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run without a key")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, checkoutRequest("v1", "", `{}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_ReplaysCompletedCheckout(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"orderId":"901"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, checkoutRequest("v1", "order-1", `{"email":"a@b.co"}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, checkoutRequest("v1", "order-1", `{"email":"a@b.co"}`))

	if calls != 1 {
		t.Fatalf("expected a single order placement, got %d", calls)
	}
	if second.Header().Get(ReplayHeader) != "true" {
		t.Fatalf("expected replay header on second response")
	}
	if second.Body.String() != `{"orderId":"901"}` {
		t.Fatalf("unexpected replay body %q", second.Body.String())
	}
	if first.Header().Get(ReplayHeader) != "" {
		t.Fatalf("first response must not be marked as replay")
	}
}

func TestMiddleware_KeysAreScopedPerVisitor(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), checkoutRequest("v1", "same", `{}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, checkoutRequest("v2", "same", `{}`))

	if calls != 2 {
		t.Fatalf("expected each visitor to run the handler, got %d", calls)
	}
	if rr.Header().Get(ReplayHeader) != "" {
		t.Fatalf("visitor v2 must not receive v1's response")
	}
}

func TestMiddleware_FingerprintMismatch(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), checkoutRequest("v1", "k", `{"email":"a@b.co"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, checkoutRequest("v1", "k", `{"email":"other@b.co"}`))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_ServerErrorReleasesKey(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), checkoutRequest("v1", "retry", `{}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, checkoutRequest("v1", "retry", `{}`))

	if calls != 2 || rr.Code != http.StatusOK {
		t.Fatalf("expected retry to run the handler again, calls=%d status=%d", calls, rr.Code)
	}
}

func TestMiddleware_IgnoresReads(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithRequiredKey())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/checkout", nil))
	if rr.Code != http.StatusOK || calls != 1 {
		t.Fatalf("GET should bypass idempotency, status=%d calls=%d", rr.Code, calls)
	}
}

func TestMemoryStore_PendingAndCleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	res, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("unexpected first reservation %+v err=%v", res, err)
	}
	res, err = store.Reserve(ctx, "k", "fp", fixedTime.Add(time.Second), time.Minute)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %+v err=%v", res, err)
	}

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one expired record, got %d", removed)
	}
	res, _ = store.Reserve(ctx, "k", "other", fixedTime.Add(3*time.Minute), time.Minute)
	if res.State != ReservationStateNew {
		t.Fatalf("expired key should be reusable, got %v", res.State)
	}
}

func assertErrorCode(t *testing.T, body []byte, code string) {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload["error"] != code {
		t.Fatalf("expected error %q, got %v", code, payload["error"])
	}
}
