package core

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestNonRetryable(t *testing.T) {
	if NonRetryable(nil) != nil {
		t.Fatal("nil in, nil out")
	}

	cause := errors.New("payment entity is unknown")
	err := NonRetryable(cause)

	if !IsNonRetryable(err) {
		t.Fatal("NonRetryable result should classify as non-retryable")
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause must stay in the chain")
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected rich error, got %T", err)
	}
	if richErr.TextCode != IngestErrorNonRetryable {
		t.Fatalf("text code = %q", richErr.TextCode)
	}
	if richErr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("code = %d", richErr.Code)
	}

	wrapped := fmt.Errorf("handler: %w", err)
	if !IsNonRetryable(wrapped) {
		t.Fatal("classification must survive wrapping")
	}
}

func TestIsNonRetryable_PlainErrors(t *testing.T) {
	if IsNonRetryable(nil) {
		t.Fatal("nil is not non-retryable")
	}
	if IsNonRetryable(errors.New("downstream timed out")) {
		t.Fatal("plain errors default to retryable")
	}
}

func TestMapIngestError(t *testing.T) {
	cases := []struct {
		name         string
		err          error
		wantCategory goerrors.Category
		wantTextCode string
		wantCode     int
	}{
		{
			name:         "signature failure maps to unauthorized",
			err:          errors.New("verify: signature mismatch for razorpay"),
			wantCategory: goerrors.CategoryAuth,
			wantTextCode: IngestErrorUnauthorized,
			wantCode:     http.StatusUnauthorized,
		},
		{
			name:         "connectivity failure maps to infrastructure",
			err:          errors.New("dial tcp: connection refused"),
			wantCategory: goerrors.CategoryExternal,
			wantTextCode: IngestErrorInfrastructure,
			wantCode:     http.StatusServiceUnavailable,
		},
		{
			name:         "malformed input maps to bad payload",
			err:          errors.New("identity: payload is malformed"),
			wantCategory: goerrors.CategoryBadInput,
			wantTextCode: IngestErrorBadPayload,
			wantCode:     http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := MapIngestError(tc.err)
			if mapped == nil {
				t.Fatal("expected a mapped error")
			}
			if mapped.Category != tc.wantCategory {
				t.Fatalf("category = %v, want %v", mapped.Category, tc.wantCategory)
			}
			if mapped.TextCode != tc.wantTextCode {
				t.Fatalf("text code = %q, want %q", mapped.TextCode, tc.wantTextCode)
			}
			if mapped.Code != tc.wantCode {
				t.Fatalf("code = %d, want %d", mapped.Code, tc.wantCode)
			}
		})
	}

	t.Run("nil stays nil", func(t *testing.T) {
		if MapIngestError(nil) != nil {
			t.Fatal("nil in, nil out")
		}
	})

	t.Run("existing envelope keeps its identity", func(t *testing.T) {
		original := goerrors.New("queue insert failed", goerrors.CategoryExternal).
			WithTextCode(IngestErrorInfrastructure).
			WithCode(http.StatusServiceUnavailable)
		mapped := MapIngestError(original)
		if mapped.TextCode != IngestErrorInfrastructure || mapped.Code != http.StatusServiceUnavailable {
			t.Fatalf("envelope rewritten: %+v", mapped)
		}
	})

	t.Run("envelope without code gets category defaults", func(t *testing.T) {
		mapped := MapIngestError(goerrors.New("boom", goerrors.CategoryInternal))
		if mapped.Code != http.StatusInternalServerError {
			t.Fatalf("code = %d", mapped.Code)
		}
		if mapped.TextCode != IngestErrorInternal {
			t.Fatalf("text code = %q", mapped.TextCode)
		}
	})
}
