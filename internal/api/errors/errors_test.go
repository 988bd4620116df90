package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bigkaa/goartstore/share-module/internal/service"
)

func TestFromService(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", service.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{"blob missing", service.ErrBlobMissing, http.StatusNotFound, CodeBlobMissing},
		{"forbidden", service.ErrForbidden, http.StatusForbidden, CodeForbidden},
		{"too large", fmt.Errorf("%w: 2 GiB", service.ErrTooLarge), http.StatusRequestEntityTooLarge, CodeFileTooLarge},
		{"validation", fmt.Errorf("%w: нет имени", service.ErrValidation), http.StatusBadRequest, CodeValidationError},
		{"io", fmt.Errorf("%w: /data/x: permission denied", service.ErrIO), http.StatusInternalServerError, CodeInternalError},
		{"inconsistent", service.ErrInconsistent, http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			FromService(rec, tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			var body errorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("ошибка декодирования: %v", err)
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("code = %q, ожидался %q", body.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestFromService_HidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	FromService(rec, fmt.Errorf("%w: open /srv/uploads/x.pdf: permission denied", service.ErrIO))

	var body errorBody
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Error.Message != "Внутренняя ошибка сервера" {
		t.Errorf("сообщение раскрывает подробности: %q", body.Error.Message)
	}
}

func TestFromService_ForbiddenMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	FromService(rec, service.ErrForbidden)

	var body errorBody
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Error.Message != MessageNotFoundOrForbidden {
		t.Errorf("message = %q", body.Error.Message)
	}
}
