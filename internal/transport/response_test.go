package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pitabwire/ria/model"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) model.ErrorEnvelope {
	t.Helper()
	return decodeBody[errorBody](t, w).Error
}

func TestWriteJSON_headersAndBody(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]int{"TotalCount": 3})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	headers := map[string]string{
		"Content-Type":           "application/json; charset=utf-8",
		"X-Content-Type-Options": "nosniff",
	}
	for k, want := range headers {
		if got := w.Header().Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	var body map[string]int
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["TotalCount"] != 3 {
		t.Errorf("TotalCount = %d, want 3", body["TotalCount"])
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"envelope", model.NewNotFoundError("no service named InventoryService"), http.StatusNotFound, model.ErrNotFound},
		{"wrapped envelope", fmt.Errorf("describe: %w", model.NewBadRequestError("missing service name")), http.StatusBadRequest, model.ErrBadRequest},
		{"unsupported operation", model.NewOperationNotSupportedError("DeleteProduct"), http.StatusBadRequest, model.ErrOperationNotAllowed},
		{"deadline", fmt.Errorf("submit: %w", context.DeadlineExceeded), http.StatusRequestTimeout, model.ErrCanceled},
		{"client gone", context.Canceled, http.StatusRequestTimeout, model.ErrCanceled},
		{"plain error", fmt.Errorf("dial tcp 10.0.0.7:5432: connection refused"), http.StatusInternalServerError, model.ErrInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			env := decodeError(t, w)
			if env.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", env.Code, tt.wantCode)
			}
		})
	}
}

func TestWriteError_hidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, fmt.Errorf("dial tcp 10.0.0.7:5432: connection refused"))

	if msg := decodeError(t, w).Message; msg == "" || msg == "dial tcp 10.0.0.7:5432: connection refused" {
		t.Errorf("message = %q, want a generic message", msg)
	}
}

func TestWriteValidationError_listsFields(t *testing.T) {
	w := httptest.NewRecorder()
	WriteValidationError(w, []model.FieldError{
		{Field: "Name", Code: "required", Message: "Name is required"},
		{Field: "UnitPrice", Code: "min", Message: "UnitPrice must be positive"},
	})

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	env := decodeError(t, w)
	if env.Code != model.ErrValidationError {
		t.Errorf("code = %q, want %q", env.Code, model.ErrValidationError)
	}
	if len(env.Details) != 2 || env.Details[1].Field != "UnitPrice" {
		t.Errorf("details = %+v", env.Details)
	}
}

func TestWriteNotFound(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNotFound(w, "no operation named GetWidgets")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if msg := decodeError(t, w).Message; msg != "no operation named GetWidgets" {
		t.Errorf("message = %q", msg)
	}
}

func TestStatusForCode(t *testing.T) {
	want := map[string]int{
		model.ErrBadRequest:          http.StatusBadRequest,
		model.ErrUnauthorized:        http.StatusUnauthorized,
		model.ErrForbidden:           http.StatusForbidden,
		model.ErrNotFound:            http.StatusNotFound,
		model.ErrConflict:            http.StatusConflict,
		model.ErrValidationError:     http.StatusUnprocessableEntity,
		model.ErrOperationNotAllowed: http.StatusBadRequest,
		model.ErrCanceled:            http.StatusRequestTimeout,
		model.ErrInternalError:       http.StatusInternalServerError,
		"UNMAPPED":                   http.StatusInternalServerError,
	}
	for code, status := range want {
		w := httptest.NewRecorder()
		WriteError(w, &model.ErrorEnvelope{Code: code, Message: code})
		if w.Code != status {
			t.Errorf("%s: status = %d, want %d", code, w.Code, status)
		}
	}
}
