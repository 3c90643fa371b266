package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHealth_returnsOK(t *testing.T) {
	origVersion, origCommit := Version, Commit
	Version = "1.2.3"
	Commit = "abc1234"
	t.Cleanup(func() {
		Version = origVersion
		Commit = origCommit
	})

	handler := HandleHealth()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", resp.Version)
	}
	if resp.Commit != "abc1234" {
		t.Errorf("commit = %q, want abc1234", resp.Commit)
	}
}

func healthy() HealthChecker { return HealthCheckFunc(func(context.Context) error { return nil }) }

func failing(msg string) HealthChecker {
	return HealthCheckFunc(func(context.Context) error { return errors.New(msg) })
}

func TestHandleReady(t *testing.T) {
	registered := func() bool { return true }
	tests := []struct {
		name       string
		checks     ReadinessChecks
		wantStatus int
		want       map[string]string
	}{
		{
			name:       "services only",
			checks:     ReadinessChecks{ServicesRegistered: registered},
			wantStatus: http.StatusOK,
			want:       map[string]string{"services": ""},
		},
		{
			name:       "no services",
			checks:     ReadinessChecks{},
			wantStatus: http.StatusServiceUnavailable,
			want:       map[string]string{"services": "no domain services registered"},
		},
		{
			name: "stores healthy",
			checks: ReadinessChecks{
				ServicesRegistered: registered,
				EntityStore:        healthy(),
				IdempotencyStore:   healthy(),
			},
			wantStatus: http.StatusOK,
			want:       map[string]string{"services": "", "entity_store": "", "idempotency_store": ""},
		},
		{
			name: "stores down",
			checks: ReadinessChecks{
				ServicesRegistered: registered,
				EntityStore:        failing("connection refused"),
				IdempotencyStore:   failing("redis timeout"),
			},
			wantStatus: http.StatusServiceUnavailable,
			want: map[string]string{
				"services":          "",
				"entity_store":      "connection refused",
				"idempotency_store": "redis timeout",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleReady(tt.checks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp ReadinessResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			wantReady := "ready"
			if tt.wantStatus != http.StatusOK {
				wantReady = "not_ready"
			}
			if resp.Status != wantReady {
				t.Errorf("status = %q, want %q", resp.Status, wantReady)
			}
			if len(resp.Checks) != len(tt.want) {
				t.Errorf("checks = %v, want %d entries", resp.Checks, len(tt.want))
			}
			for name, wantErr := range tt.want {
				got := resp.Checks[name]
				if got.Error != wantErr {
					t.Errorf("%s error = %q, want %q", name, got.Error, wantErr)
				}
				if (got.Status == "ok") != (wantErr == "") {
					t.Errorf("%s status = %q", name, got.Status)
				}
			}
		})
	}
}

func TestHandleReady_checkTimeout(t *testing.T) {
	checks := ReadinessChecks{
		ServicesRegistered: func() bool { return true },
		EntityStore: HealthCheckFunc(func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				return errors.New("check ran without a deadline")
			}
			return nil
		}),
	}

	rec := httptest.NewRecorder()
	HandleReady(checks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}
