package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestHealthz_ContentType(t *testing.T) {
	h := New()
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyz_AllCheckersPass(t *testing.T) {
	h := New(
		Checker{Name: "template_store", Check: func(_ context.Context) error { return nil }},
		Checker{Name: "generation", Check: func(_ context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Checks["template_store"] != "ok" {
		t.Errorf("template_store check = %q, want %q", body.Checks["template_store"], "ok")
	}
	if body.Checks["generation"] != "ok" {
		t.Errorf("generation check = %q, want %q", body.Checks["generation"], "ok")
	}
}

func TestReadyz_CheckerFails(t *testing.T) {
	h := New(
		Checker{Name: "template_store", Check: func(_ context.Context) error {
			return errors.New("connection refused")
		}},
		Checker{Name: "generation", Check: func(_ context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if body.Checks["template_store"] != "fail: connection refused" {
		t.Errorf("template_store check = %q, want %q", body.Checks["template_store"], "fail: connection refused")
	}
	if body.Checks["generation"] != "ok" {
		t.Errorf("generation check = %q, want %q", body.Checks["generation"], "ok")
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz_AllCheckersFail(t *testing.T) {
	h := New(
		Checker{Name: "template_store", Check: func(_ context.Context) error {
			return errors.New("timeout")
		}},
		Checker{Name: "generation", Check: func(_ context.Context) error {
			return errors.New("no providers configured")
		}},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if body.Checks["template_store"] != "fail: timeout" {
		t.Errorf("template_store check = %q", body.Checks["template_store"])
	}
	if body.Checks["generation"] != "fail: no providers configured" {
		t.Errorf("generation check = %q", body.Checks["generation"])
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	h := New(
		Checker{Name: "test", Check: func(_ context.Context) error { return nil }},
	)

	mux := http.NewServeMux()
	h.Register(mux)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(
		Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestReadyz_RunsCheckersConcurrently(t *testing.T) {
	// Each checker waits for the other to start, so a sequential
	// evaluation would time out.
	started := make(chan struct{}, 2)

	h := New(
		Checker{Name: "a", Check: func(ctx context.Context) error { return waitPeer(ctx, started) }},
		Checker{Name: "b", Check: func(ctx context.Context) error { return waitPeer(ctx, started) }},
	)
	checks, ok := h.Evaluate(context.Background())
	if !ok {
		t.Fatalf("checks = %v, want all ok", checks)
	}
}

// waitPeer signals its own start and waits until two checkers have started.
func waitPeer(ctx context.Context, started chan struct{}) error {
	started <- struct{}{}
	timeout := time.After(2 * time.Second)
	for len(started) < 2 {
		select {
		case <-timeout:
			return errors.New("peer never started")
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPingAndStateChecks(t *testing.T) {
	healthy := true
	h := New(
		PingCheck("template_store", pinger{}),
		PingCheck("broken_store", pinger{err: errors.New("connection refused")}),
		StateCheck("generation", func() bool { return healthy }),
	)

	checks, ok := h.Evaluate(context.Background())
	if ok {
		t.Fatal("expected failure from broken_store")
	}
	if checks["template_store"] != "ok" || checks["generation"] != "ok" {
		t.Errorf("checks = %v", checks)
	}
	if checks["broken_store"] != "fail: connection refused" {
		t.Errorf("broken_store = %q", checks["broken_store"])
	}

	healthy = false
	checks, _ = h.Evaluate(context.Background())
	if checks["generation"] != "fail: unavailable" {
		t.Errorf("generation = %q, want fail: unavailable", checks["generation"])
	}
}
