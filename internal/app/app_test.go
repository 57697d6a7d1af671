package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vaidashi/stationery-orders/internal/config"
	"github.com/vaidashi/stationery-orders/internal/models"
	"github.com/vaidashi/stationery-orders/pkg/logger"
)

type wsFrame struct {
	Action  string          `json:"action,omitempty"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// fakeBackend serves the REST calls made at startup and pushes whatever is
// sent on push once a client is connected
func fakeBackend(t *testing.T, push <-chan wsFrame) *httptest.Server {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("/api/order-window", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, models.OrderWindow{Open: true})
	})
	mux.HandleFunc("/api/orders/department/7/latest", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, models.Order{ID: "o-1", DepartmentID: "7", Status: models.OrderStatusPending})
	})
	mux.HandleFunc("/api/notifications", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []models.Notification{{ID: "n-1", Title: "Window open"}})
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case f := <-push:
				if err := ws.WriteJSON(f); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(srv *httptest.Server) *config.Config {
	return &config.Config{
		BackendURL:   srv.URL,
		AuthToken:    "tok",
		DepartmentID: "7",
		UserID:       "u-1",
		MinQuantity:  1,
		PollInterval: time.Hour,
		Storage:      config.StorageConfig{Driver: "memory"},
		Realtime: config.RealtimeConfig{
			Driver:       "websocket",
			WebSocketURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		},
	}
}

func get(t *testing.T, h http.Handler, path string, dst interface{}) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s = %d %s", path, rec.Code, rec.Body.String())
	}

	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAppLoadsAndFollowsPushes(t *testing.T) {
	push := make(chan wsFrame, 1)
	srv := fakeBackend(t, push)

	a, err := New(context.Background(), testConfig(srv), logger.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	h := a.server.Handler()

	var order struct {
		Data struct {
			Order   *models.Order  `json:"order"`
			Actions models.Actions `json:"actions"`
		} `json:"data"`
	}
	get(t, h, "/api/v1/order", &order)

	if order.Data.Order == nil || order.Data.Order.ID != "o-1" || !order.Data.Actions.CanExport {
		t.Fatalf("initial order = %+v", order.Data)
	}

	var window struct {
		Data struct {
			CanCreate bool `json:"canCreate"`
		} `json:"data"`
	}
	get(t, h, "/api/v1/order-window", &window)
	if !window.Data.CanCreate {
		t.Error("window should be open after startup")
	}

	eventually(t, func() bool {
		var health struct {
			Data struct {
				RealtimeConnected bool     `json:"realtimeConnected"`
				Topics            []string `json:"topics"`
			} `json:"data"`
		}
		get(t, h, "/api/v1/health", &health)
		return health.Data.RealtimeConnected && len(health.Data.Topics) == 3
	}, "realtime connection")

	push <- wsFrame{Topic: "orders/7", Payload: json.RawMessage(`{"orderId":"o-1","status":"exported"}`)}

	eventually(t, func() bool {
		get(t, h, "/api/v1/order", &order)
		return order.Data.Order.Status == models.OrderStatusExported
	}, "pushed status")

	if !order.Data.Actions.CanUploadSigned {
		t.Errorf("actions after export = %+v", order.Data.Actions)
	}
}

func TestNewRejectsUnknownTransport(t *testing.T) {
	cfg := &config.Config{Realtime: config.RealtimeConfig{Driver: "sse"}}

	if _, err := NewTransport(cfg, logger.Nop()); err == nil {
		t.Fatal("expected an error for an unknown driver")
	}
}
