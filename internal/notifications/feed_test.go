package notifications

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/vaidashi/stationery-orders/internal/models"
	"github.com/vaidashi/stationery-orders/internal/realtime"
	apperrors "github.com/vaidashi/stationery-orders/pkg/errors"
	"github.com/vaidashi/stationery-orders/pkg/logger"
	"github.com/vaidashi/stationery-orders/pkg/metrics"
)

type fakeSource struct {
	mu        sync.Mutex
	list      []models.Notification
	failWith  error
	readCalls []string
	allCalls  int
}

func (s *fakeSource) ListNotifications(ctx context.Context) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.Notification(nil), s.list...), nil
}

func (s *fakeSource) MarkNotificationRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.readCalls = append(s.readCalls, id)
	return s.failWith
}

func (s *fakeSource) MarkAllNotificationsRead(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.allCalls++
	return s.failWith
}

func push(t *testing.T, f *Feed, n models.Notification) error {
	t.Helper()

	data, err := json.Marshal(n)
	if err != nil {
		t.Fatal(err)
	}

	return f.OnPush(context.Background(), realtime.Message{Topic: "notifications/u-1", Payload: data})
}

func newLoadedFeed(t *testing.T, src *fakeSource) *Feed {
	t.Helper()

	f := NewFeed(src, logger.Nop(), metrics.New())
	if err := f.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	return f
}

func TestFetchReplacesList(t *testing.T) {
	src := &fakeSource{list: []models.Notification{{ID: "a"}, {ID: "b", Read: true}, {ID: "a"}}}
	f := newLoadedFeed(t, src)

	push(t, f, models.Notification{ID: "z"})

	src.list = []models.Notification{{ID: "c"}}
	f.Fetch(context.Background())

	items := f.Items()
	if len(items) != 1 || items[0].ID != "c" {
		t.Errorf("Items() = %+v, want only c", items)
	}
}

func TestFetchDropsDuplicateIDs(t *testing.T) {
	f := newLoadedFeed(t, &fakeSource{list: []models.Notification{{ID: "a"}, {ID: "b", Read: true}, {ID: "a"}}})

	if len(f.Items()) != 2 || f.UnreadCount() != 1 {
		t.Errorf("Items() = %+v", f.Items())
	}
}

func TestOnPushPrependsOnce(t *testing.T) {
	f := newLoadedFeed(t, &fakeSource{list: []models.Notification{{ID: "old"}}})

	push(t, f, models.Notification{ID: "new", Title: "Order approved"})
	push(t, f, models.Notification{ID: "new", Title: "Order approved"})

	items := f.Items()
	if len(items) != 2 || items[0].ID != "new" || items[1].ID != "old" {
		t.Errorf("Items() = %+v", items)
	}
}

func TestOnPushRejectsMalformed(t *testing.T) {
	f := newLoadedFeed(t, &fakeSource{})

	err := f.OnPush(context.Background(), realtime.Message{Payload: json.RawMessage(`{"title":"no id"}`)})
	if !apperrors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("OnPush() = %v", err)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	src := &fakeSource{list: []models.Notification{{ID: "a"}, {ID: "b"}}}
	f := newLoadedFeed(t, src)

	for i := 0; i < 2; i++ {
		if err := f.MarkRead(context.Background(), "a"); err != nil {
			t.Fatalf("MarkRead() #%d error = %v", i, err)
		}
	}

	read := 0
	for _, n := range f.Items() {
		if n.ID == "a" && n.Read {
			read++
		}
	}

	if read != 1 || f.UnreadCount() != 1 {
		t.Errorf("read copies of a = %d, unread = %d", read, f.UnreadCount())
	}

	if len(src.readCalls) != 1 {
		t.Errorf("backend calls = %v, want exactly one", src.readCalls)
	}
}

func TestMarkReadRevertsOnFailure(t *testing.T) {
	src := &fakeSource{
		list:     []models.Notification{{ID: "a"}},
		failWith: apperrors.NewTemporaryError("backend down"),
	}
	f := newLoadedFeed(t, src)

	if err := f.MarkRead(context.Background(), "a"); err == nil {
		t.Fatal("expected the backend error")
	}

	if f.UnreadCount() != 1 {
		t.Error("read flag must be reverted after a failed call")
	}
}

func TestMarkReadUnknown(t *testing.T) {
	f := newLoadedFeed(t, &fakeSource{})

	if err := f.MarkRead(context.Background(), "nope"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("MarkRead(unknown) = %v", err)
	}
}

func TestMarkAllRevertsOnlyWhatItFlipped(t *testing.T) {
	src := &fakeSource{list: []models.Notification{{ID: "a"}, {ID: "b", Read: true}, {ID: "c"}}}
	f := newLoadedFeed(t, src)

	src.failWith = apperrors.NewUnauthorizedError("token expired")

	if err := f.MarkAll(context.Background()); !apperrors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("MarkAll() = %v", err)
	}

	for _, n := range f.Items() {
		if want := n.ID == "b"; n.Read != want {
			t.Errorf("%s read = %v, want %v", n.ID, n.Read, want)
		}
	}

	src.failWith = nil
	if err := f.MarkAll(context.Background()); err != nil || f.UnreadCount() != 0 {
		t.Fatalf("MarkAll() = %v, unread %d", err, f.UnreadCount())
	}

	f.MarkAll(context.Background())
	if src.allCalls != 2 {
		t.Errorf("backend read-all calls = %d, want 2", src.allCalls)
	}
}

type recordingSubscriber struct {
	topics []string
	unsubs int
}

func (r *recordingSubscriber) Subscribe(topic string, h realtime.Handler) (func(), error) {
	r.topics = append(r.topics, topic)
	return func() { r.unsubs++ }, nil
}

func TestAttachAndClose(t *testing.T) {
	f := NewFeed(&fakeSource{}, logger.Nop(), nil)
	sub := &recordingSubscriber{}

	if err := f.Attach(sub, "u-1"); err != nil {
		t.Fatal(err)
	}

	if len(sub.topics) != 1 || sub.topics[0] != "notifications/u-1" {
		t.Errorf("topics = %v", sub.topics)
	}

	f.Close()
	f.Close()

	if sub.unsubs != 1 {
		t.Errorf("unsubscribes = %d, want 1", sub.unsubs)
	}
}
