package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vaidashi/stationery-orders/internal/models"
	"github.com/vaidashi/stationery-orders/pkg/circuitbreaker"
	"github.com/vaidashi/stationery-orders/pkg/errors"
	"github.com/vaidashi/stationery-orders/pkg/logger"
	"github.com/vaidashi/stationery-orders/pkg/retry"
)

const maxResponseBytes = 20 << 20

// BackendClient is a client for the stationery ordering REST API
type BackendClient struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	logger      logger.Logger
	retryConfig *retry.RetryConfig
	breaker     *circuitbreaker.CircuitBreaker
	maxBody     int64
}

// Option customizes a BackendClient
type Option func(*BackendClient)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(b *BackendClient) { b.httpClient = c }
}

// WithRetryConfig replaces the default retry policy
func WithRetryConfig(cfg *retry.RetryConfig) Option {
	return func(b *BackendClient) { b.retryConfig = cfg }
}

// WithCircuitBreaker replaces the default breaker
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(b *BackendClient) { b.breaker = cb }
}

// WithMaxResponseBytes caps how much of a response body is accepted
func WithMaxResponseBytes(n int64) Option {
	return func(b *BackendClient) { b.maxBody = n }
}

// errorBody is the error shape returned by the backend
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// NewBackendClient creates a new BackendClient instance
func NewBackendClient(baseURL, token string, logger logger.Logger, opts ...Option) *BackendClient {
	c := &BackendClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
		retryConfig: &retry.RetryConfig{
			MaxAttempts:     3,
			BackoffStrategy: retry.NewDefaultExponentialBackoff(),
			Logger:          logger,
		},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			HalfOpenMaxCalls: 1,
		}),
		maxBody: maxResponseBytes,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BreakerMetrics exposes the circuit breaker state
func (c *BackendClient) BreakerMetrics() map[string]interface{} {
	return c.breaker.GetMetrics()
}

// ResetBreaker closes the circuit breaker
func (c *BackendClient) ResetBreaker() {
	c.breaker.Reset()
	c.logger.Info("Backend circuit breaker reset")
}

// request describes one REST call
type request struct {
	method      string
	path        string
	body        []byte
	contentType string
	idemKey     string
	accept      string
}

// response is a successful reply
type response struct {
	status int
	body   []byte
}

// do executes req with retry and the circuit breaker
func (c *BackendClient) do(ctx context.Context, req request) (*response, error) {
	var out *response

	retryFunc := func() error {
		return c.breaker.Execute(func() error {
			resp, err := c.send(ctx, req)
			if err != nil {
				return err
			}
			out = resp
			return nil
		}, errors.IsRetryable)
	}

	if err := retry.Retry(ctx, retryFunc, c.retryConfig); err != nil {
		c.logger.Error("Backend request failed",
			"error", err,
			"method", req.method,
			"path", req.path)
		return nil, err
	}

	return out, nil
}

func (c *BackendClient) send(ctx context.Context, r request) (*response, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return nil, errors.NewInternalError(fmt.Sprintf("failed to create request: %v", err))
	}

	accept := r.accept
	if accept == "" {
		accept = "application/json"
	}
	req.Header.Set("Accept", accept)

	if r.body != nil {
		contentType := r.contentType
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	if r.idemKey != "" {
		req.Header.Set("Idempotency-Key", r.idemKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, errors.NewTimeoutError(fmt.Sprintf("%s %s timed out", r.method, r.path))
		}
		return nil, errors.NewTemporaryError(fmt.Sprintf("failed to send request: %v", err))
	}
	defer resp.Body.Close()

	// one byte past the cap tells an oversized body from one that fits exactly
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, errors.NewTemporaryError(fmt.Sprintf("failed to read response body: %v", err))
	}

	if int64(len(data)) > c.maxBody {
		return nil, errors.NewInternalError(fmt.Sprintf("response body exceeds %d bytes", c.maxBody)).
			WithContext("method", r.method).
			WithContext("path", r.path)
	}

	if resp.StatusCode >= 400 {
		return nil, classifyStatus(resp.StatusCode, data).
			WithContext("method", r.method).
			WithContext("path", r.path)
	}

	return &response{status: resp.StatusCode, body: data}, nil
}

// classifyStatus maps a backend error response onto the error taxonomy
func classifyStatus(status int, body []byte) *errors.AppError {
	msg := fmt.Sprintf("backend returned %d", status)

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		if eb.Message != "" {
			msg = eb.Message
		} else if eb.Error != "" {
			msg = eb.Error
		}
	}

	switch {
	case status == http.StatusUnauthorized:
		return errors.NewUnauthorizedError(msg)
	case status == http.StatusForbidden:
		return errors.NewForbiddenError(msg)
	case status == http.StatusNotFound:
		return errors.NewNotFoundError(msg)
	case status == http.StatusConflict:
		return errors.NewConflictError(msg)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return errors.NewTimeoutError(msg)
	case status == http.StatusTooManyRequests:
		return errors.NewRateLimitedError(msg)
	case status == http.StatusInternalServerError ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable:
		return errors.NewTemporaryError(msg)
	case status < 500:
		return errors.NewInvalidInputError(msg)
	default:
		return errors.NewAppError(errors.ErrInternal, msg, status, false)
	}
}

func (c *BackendClient) getJSON(ctx context.Context, path string, dst interface{}) (bool, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: path})
	if err != nil {
		return false, err
	}

	return decodeBody(resp, dst)
}

func (c *BackendClient) sendJSON(ctx context.Context, method, path string, payload, dst interface{}, idemKey string) (bool, error) {
	var body []byte

	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return false, errors.NewInternalError(fmt.Sprintf("failed to marshal request: %v", err))
		}
		body = b
	}

	resp, err := c.do(ctx, request{method: method, path: path, body: body, idemKey: idemKey})
	if err != nil {
		return false, err
	}

	if dst == nil {
		return true, nil
	}

	return decodeBody(resp, dst)
}

// decodeBody reports false for 204 and JSON null bodies
func decodeBody(resp *response, dst interface{}) (bool, error) {
	trimmed := bytes.TrimSpace(resp.body)

	if resp.status == http.StatusNoContent || len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false, nil
	}

	if err := json.Unmarshal(trimmed, dst); err != nil {
		return false, errors.NewInternalError(fmt.Sprintf("failed to parse response: %v", err))
	}

	return true, nil
}

// GetOrder fetches one order
func (c *BackendClient) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order

	found, err := c.getJSON(ctx, "/api/orders/"+url.PathEscape(orderID), &order)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.NewNotFoundError("order " + orderID + " not found")
	}

	return &order, nil
}

// LatestOrder returns the department's most recent order, nil when it has none
func (c *BackendClient) LatestOrder(ctx context.Context, departmentID string) (*models.Order, error) {
	var order models.Order

	found, err := c.getJSON(ctx, "/api/orders/department/"+url.PathEscape(departmentID)+"/latest", &order)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil || !found || order.ID == "" {
		return nil, err
	}

	return &order, nil
}

// ListOrders returns the department's orders, or every order when departmentID is empty
func (c *BackendClient) ListOrders(ctx context.Context, departmentID string) ([]models.Order, error) {
	path := "/api/orders"
	if departmentID != "" {
		path += "?departmentId=" + url.QueryEscape(departmentID)
	}

	var orders []models.Order
	if _, err := c.getJSON(ctx, path, &orders); err != nil {
		return nil, err
	}

	return orders, nil
}

// CreateOrder submits a new order. idempotencyKey makes retries safe.
func (c *BackendClient) CreateOrder(ctx context.Context, req models.NewOrderRequest, idempotencyKey string) (*models.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, errors.NewInvalidInputError(err.Error())
	}

	if idempotencyKey == "" {
		idempotencyKey = models.NewIdempotencyKey()
	}

	var order models.Order
	if _, err := c.sendJSON(ctx, http.MethodPost, "/api/orders", req, &order, idempotencyKey); err != nil {
		return nil, err
	}

	return &order, nil
}

// ExportOrder asks the backend to render the order as PDF and returns the document
func (c *BackendClient) ExportOrder(ctx context.Context, orderID string) ([]byte, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/orders/" + url.PathEscape(orderID) + "/export",
		accept: "application/pdf",
	})
	if err != nil {
		return nil, err
	}

	return resp.body, nil
}

// SubmitSigned uploads the signed order document
func (c *BackendClient) SubmitSigned(ctx context.Context, orderID, filename string, document io.Reader) (*models.Order, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, errors.NewInternalError(fmt.Sprintf("failed to build upload: %v", err))
	}

	if _, err := io.Copy(part, document); err != nil {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("failed to read document: %v", err))
	}

	if err := w.Close(); err != nil {
		return nil, errors.NewInternalError(fmt.Sprintf("failed to build upload: %v", err))
	}

	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/api/orders/" + url.PathEscape(orderID) + "/signed",
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
	})
	if err != nil {
		return nil, err
	}

	var order models.Order
	found, err := decodeBody(resp, &order)
	if err != nil || !found {
		return nil, err
	}

	return &order, nil
}

type reviewRequest struct {
	Comment string `json:"comment,omitempty"`
}

// ApproveOrder approves a submitted order
func (c *BackendClient) ApproveOrder(ctx context.Context, orderID, comment string) (*models.Order, error) {
	return c.review(ctx, orderID, "approve", comment)
}

// RejectOrder rejects an order with the administrator's comment
func (c *BackendClient) RejectOrder(ctx context.Context, orderID, comment string) (*models.Order, error) {
	return c.review(ctx, orderID, "reject", comment)
}

func (c *BackendClient) review(ctx context.Context, orderID, action, comment string) (*models.Order, error) {
	var order models.Order

	found, err := c.sendJSON(ctx, http.MethodPost,
		"/api/orders/"+url.PathEscape(orderID)+"/"+action,
		reviewRequest{Comment: comment}, &order, "")
	if err != nil || !found {
		return nil, err
	}

	return &order, nil
}

// GetOrderWindow returns the current order window state
func (c *BackendClient) GetOrderWindow(ctx context.Context) (*models.OrderWindow, error) {
	var window models.OrderWindow

	if _, err := c.getJSON(ctx, "/api/order-window", &window); err != nil {
		return nil, err
	}

	return &window, nil
}

// ToggleOrderWindow flips the admin override and returns the new state
func (c *BackendClient) ToggleOrderWindow(ctx context.Context) (*models.OrderWindow, error) {
	var window models.OrderWindow

	if _, err := c.sendJSON(ctx, http.MethodPost, "/api/order-window/toggle", nil, &window, ""); err != nil {
		return nil, err
	}

	return &window, nil
}

// ListNotifications returns the user's notifications, newest first
func (c *BackendClient) ListNotifications(ctx context.Context) ([]models.Notification, error) {
	var list []models.Notification

	if _, err := c.getJSON(ctx, "/api/notifications", &list); err != nil {
		return nil, err
	}

	return list, nil
}

// MarkNotificationRead marks one notification as read
func (c *BackendClient) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := c.sendJSON(ctx, http.MethodPut, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil, "")
	return err
}

// MarkAllNotificationsRead marks every notification as read
func (c *BackendClient) MarkAllNotificationsRead(ctx context.Context) error {
	_, err := c.sendJSON(ctx, http.MethodPut, "/api/notifications/read-all", nil, nil, "")
	return err
}
