package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func okCheck(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return nil }}
}

func failCheck(name, msg string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return errors.New(msg) }}
}

// serve runs h's routes for one GET and decodes the JSON body.
func serve(t *testing.T, h *Handler, ctx context.Context, path string) (int, result) {
	t.Helper()
	r := chi.NewRouter()
	h.Routes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_IgnoresCheckers(t *testing.T) {
	h := New(failCheck("capture", "device busy"))

	code, body := serve(t, h, context.Background(), "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
	if len(body.Checks) != 0 {
		t.Errorf("healthz should not report checks, got %v", body.Checks)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{okCheck("capture"), okCheck("playback")},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"capture": "ok", "playback": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{failCheck("capture", "device unplugged"), okCheck("playback")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"capture": "fail: device unplugged", "playback": "ok"},
		},
		{
			name:       "all fail",
			checkers:   []Checker{failCheck("capture", "timeout"), failCheck("playback", "not primed")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"capture": "fail: timeout", "playback": "fail: not primed"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := serve(t, New(tc.checkers...), context.Background(), "/readyz")
			if code != tc.wantCode {
				t.Errorf("status code = %d, want %d", code, tc.wantCode)
			}
			if body.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if code, _ := serve(t, h, ctx, "/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", code)
	}
}

func TestCheck_ReportsEachChecker(t *testing.T) {
	h := New(okCheck("capture"), failCheck("playback", "end of stream"))

	checks, ok := h.Check(context.Background())
	if ok {
		t.Error("Check() ok = true with a failing checker")
	}
	if len(checks) != 2 || checks["playback"] != "fail: end of stream" {
		t.Errorf("Check() = %v", checks)
	}
}

func TestFlag(t *testing.T) {
	var capture, playback Flag
	h := New(capture.Checker("capture"), playback.Checker("playback"))

	if err := playback.Checker("playback").Check(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Errorf("lowered flag check = %v, want ErrNotReady", err)
	}

	steps := []struct {
		capture, playback bool
		wantCode          int
	}{
		{false, false, http.StatusServiceUnavailable},
		{true, false, http.StatusServiceUnavailable},
		{true, true, http.StatusOK},
		{false, true, http.StatusServiceUnavailable},
	}
	for i, s := range steps {
		capture.Set(s.capture)
		playback.Set(s.playback)
		if code, _ := serve(t, h, context.Background(), "/readyz"); code != s.wantCode {
			t.Errorf("step %d: status code = %d, want %d", i, code, s.wantCode)
		}
		if capture.Ready() != s.capture {
			t.Errorf("step %d: Ready() = %v, want %v", i, capture.Ready(), s.capture)
		}
	}
}
