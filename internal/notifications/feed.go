package notifications

import (
	"context"
	"fmt"
	"sync"

	"github.com/vaidashi/stationery-orders/internal/models"
	"github.com/vaidashi/stationery-orders/internal/realtime"
	apperrors "github.com/vaidashi/stationery-orders/pkg/errors"
	"github.com/vaidashi/stationery-orders/pkg/logger"
	"github.com/vaidashi/stationery-orders/pkg/metrics"
)

// Source is the notification part of the backend API
type Source interface {
	ListNotifications(ctx context.Context) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// Subscriber registers realtime handlers
type Subscriber interface {
	Subscribe(topic string, handler realtime.Handler) (func(), error)
}

// Feed is the de-duplicated notification list of one user, newest first
type Feed struct {
	source  Source
	logger  logger.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	items []models.Notification
	unsub func()
}

// NewFeed creates an empty feed
func NewFeed(source Source, logger logger.Logger, m *metrics.Metrics) *Feed {
	return &Feed{
		source:  source,
		logger:  logger.With("component", "notifications"),
		metrics: m,
	}
}

// Attach subscribes the feed to the user's notification topic
func (f *Feed) Attach(sub Subscriber, userID string) error {
	unsub, err := sub.Subscribe(realtime.NotificationsTopic(userID), f.OnPush)
	if err != nil {
		return err
	}

	f.mu.Lock()
	prev := f.unsub
	f.unsub = unsub
	f.mu.Unlock()

	if prev != nil {
		prev()
	}

	return nil
}

// Close unsubscribes the feed
func (f *Feed) Close() {
	f.mu.Lock()
	unsub := f.unsub
	f.unsub = nil
	f.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Fetch replaces the local list with the backend's
func (f *Feed) Fetch(ctx context.Context) error {
	list, err := f.source.ListNotifications(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch notifications: %w", err)
	}

	seen := make(map[string]bool, len(list))
	items := make([]models.Notification, 0, len(list))
	for _, n := range list {
		if n.ID == "" || seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		items = append(items, n)
	}

	f.mu.Lock()
	f.items = items
	f.mu.Unlock()

	f.metrics.NotificationChange("fetch")
	return nil
}

// OnPush prepends a pushed notification unless one with the same ID is
// already present. It is a realtime.Handler.
func (f *Feed) OnPush(ctx context.Context, msg realtime.Message) error {
	var n models.Notification
	if err := msg.Decode(&n); err != nil || n.ID == "" {
		return apperrors.NewInvalidInputError("malformed notification push")
	}

	f.mu.Lock()
	if f.indexLocked(n.ID) >= 0 {
		f.mu.Unlock()
		f.metrics.NotificationChange("duplicate")
		return nil
	}

	f.items = append([]models.Notification{n}, f.items...)
	f.mu.Unlock()

	f.metrics.NotificationChange("push")
	f.logger.Debug("Notification received", "id", n.ID, "type", n.Type)

	return nil
}

func (f *Feed) indexLocked(id string) int {
	for i := range f.items {
		if f.items[i].ID == id {
			return i
		}
	}
	return -1
}

// execute applies cmd locally, runs call and undoes cmd if call fails
func (f *Feed) execute(ctx context.Context, cmd command, kind string, call func(context.Context) error) error {
	f.mu.Lock()
	changed := cmd.apply(f)
	f.mu.Unlock()

	if !changed {
		return nil
	}

	if err := call(ctx); err != nil {
		f.mu.Lock()
		cmd.undo(f)
		f.mu.Unlock()

		f.metrics.NotificationChange("reverted")
		f.logger.Warn("Reverted optimistic update", "change", kind, "error", err)
		return err
	}

	f.metrics.NotificationChange(kind)
	return nil
}

// MarkRead marks one notification read. Marking an already-read
// notification does nothing.
func (f *Feed) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	known := f.indexLocked(id) >= 0
	f.mu.Unlock()

	if !known {
		return apperrors.NewNotFoundError(fmt.Sprintf("notification %s not found", id))
	}

	return f.execute(ctx, &markReadCommand{id: id}, "read", func(ctx context.Context) error {
		return f.source.MarkNotificationRead(ctx, id)
	})
}

// MarkAll marks every notification read
func (f *Feed) MarkAll(ctx context.Context) error {
	return f.execute(ctx, &markAllCommand{}, "read_all", f.source.MarkAllNotificationsRead)
}

// Items returns a copy of the list, newest first
func (f *Feed) Items() []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]models.Notification(nil), f.items...)
}

// UnreadCount counts unread notifications
func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, it := range f.items {
		if !it.Read {
			n++
		}
	}
	return n
}
