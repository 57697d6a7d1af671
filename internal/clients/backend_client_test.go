package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vaidashi/stationery-orders/internal/models"
	"github.com/vaidashi/stationery-orders/pkg/errors"
	"github.com/vaidashi/stationery-orders/pkg/logger"
	"github.com/vaidashi/stationery-orders/pkg/retry"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *BackendClient {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return NewBackendClient(srv.URL, "secret", logger.Nop(),
		WithRetryConfig(&retry.RetryConfig{
			MaxAttempts:     3,
			BackoffStrategy: &retry.ConstantBackoff{Interval: time.Millisecond},
		}))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestLatestOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}

		if r.URL.Path != "/api/orders/department/7/latest" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		writeJSON(w, http.StatusOK, models.Order{ID: "o-1", DepartmentID: "7", Status: models.OrderStatusExported})
	})

	order, err := client.LatestOrder(context.Background(), "7")
	if err != nil {
		t.Fatalf("LatestOrder() error = %v", err)
	}

	if order == nil || order.ID != "o-1" || order.Status != models.OrderStatusExported {
		t.Fatalf("LatestOrder() = %+v", order)
	}
}

func TestLatestOrderEmpty(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "no order"})
		}},
		{"no content", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}},
		{"null body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("null"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler)

			order, err := client.LatestOrder(context.Background(), "7")
			if err != nil || order != nil {
				t.Fatalf("LatestOrder() = %+v, %v; want nil, nil", order, err)
			}
		})
	}
}

func TestRetriesTemporaryFailures(t *testing.T) {
	var calls int32

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, []models.Notification{{ID: "n-1", Title: "hi"}})
	})

	list, err := client.ListNotifications(context.Background())
	if err != nil {
		t.Fatalf("ListNotifications() error = %v", err)
	}

	if len(list) != 1 || atomic.LoadInt32(&calls) != 3 {
		t.Errorf("got %d notifications after %d calls", len(list), calls)
	}
}

func TestUnauthorizedIsNotRetried(t *testing.T) {
	var calls int32

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
	})

	err := client.MarkNotificationRead(context.Background(), "n-1")
	if !errors.Is(err, errors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	if err.Error() != "token expired" {
		t.Errorf("expected backend message, got %q", err.Error())
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestOversizedResponseIsRejected(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusOK, []models.Notification{{ID: "n-1", Title: strings.Repeat("x", 256)}})
	}))
	t.Cleanup(srv.Close)

	client := NewBackendClient(srv.URL, "secret", logger.Nop(),
		WithMaxResponseBytes(64),
		WithRetryConfig(&retry.RetryConfig{
			MaxAttempts:     3,
			BackoffStrategy: &retry.ConstantBackoff{Interval: time.Millisecond},
		}))

	_, err := client.ListNotifications(context.Background())
	if !errors.Is(err, errors.ErrInternal) {
		t.Fatalf("expected an oversized body error, got %v", err)
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("oversized response retried: %d calls", calls)
	}
}

func TestResponseAtLimitIsAccepted(t *testing.T) {
	body := `[{"id":"n-1","title":"hi"}]`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	client := NewBackendClient(srv.URL, "secret", logger.Nop(), WithMaxResponseBytes(int64(len(body))))

	list, err := client.ListNotifications(context.Background())
	if err != nil {
		t.Fatalf("ListNotifications() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != "n-1" {
		t.Errorf("ListNotifications() = %+v", list)
	}
}

func TestCreateOrderSendsIdempotencyKey(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		first := len(keys) == 1
		mu.Unlock()

		if first {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		var req models.NewOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}

		writeJSON(w, http.StatusCreated, models.Order{ID: "o-9", Items: req.Items, Status: models.OrderStatusPending})
	})

	order, err := client.CreateOrder(context.Background(), models.NewOrderRequest{
		Items: []models.LineItem{{ProductID: "p-7", Quantity: 5}},
	}, "key-1")
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}

	if order.ID != "o-9" || len(order.Items) != 1 || order.Items[0].Quantity != 5 {
		t.Errorf("CreateOrder() = %+v", order)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(keys) != 2 || keys[0] != "key-1" || keys[1] != "key-1" {
		t.Errorf("expected the same key on retry, got %v", keys)
	}
}

func TestCreateOrderValidatesBeforeSending(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be sent")
	})

	_, err := client.CreateOrder(context.Background(), models.NewOrderRequest{}, "")
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSubmitSignedUploadsMultipart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/orders/o-1/signed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, _ := io.ReadAll(file)
		if header.Filename != "signed.pdf" || string(data) != "%PDF-signed" {
			t.Errorf("unexpected upload %q %q", header.Filename, data)
		}

		writeJSON(w, http.StatusOK, models.Order{ID: "o-1", Status: models.OrderStatusSubmitted})
	})

	order, err := client.SubmitSigned(context.Background(), "o-1", "signed.pdf", strings.NewReader("%PDF-signed"))
	if err != nil {
		t.Fatalf("SubmitSigned() error = %v", err)
	}

	if order.Status != models.OrderStatusSubmitted {
		t.Errorf("status = %s", order.Status)
	}
}

func TestExportReturnsDocument(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Accept") != "application/pdf" {
			t.Errorf("unexpected request %s accept=%s", r.Method, r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4"))
	})

	doc, err := client.ExportOrder(context.Background(), "o-1")
	if err != nil || string(doc) != "%PDF-1.4" {
		t.Fatalf("ExportOrder() = %q, %v", doc, err)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
		retry  bool
	}{
		{http.StatusBadRequest, errors.ErrInvalidInput, false},
		{http.StatusForbidden, errors.ErrForbidden, false},
		{http.StatusConflict, errors.ErrConflict, false},
		{http.StatusTooManyRequests, errors.ErrRateLimited, true},
		{http.StatusGatewayTimeout, errors.ErrTimeout, true},
		{http.StatusInternalServerError, errors.ErrTemporaryFailure, true},
	}

	for _, tt := range tests {
		err := classifyStatus(tt.status, []byte(`{"error":"x"}`))

		if !errors.Is(err, tt.want) {
			t.Errorf("classifyStatus(%d) = %v, want %v", tt.status, err, tt.want)
		}

		if errors.IsRetryable(err) != tt.retry {
			t.Errorf("classifyStatus(%d) retryable = %v", tt.status, !tt.retry)
		}

		if err.Error() != "x" {
			t.Errorf("classifyStatus(%d) message = %q", tt.status, err.Error())
		}
	}
}
