package realtime

// Topic names used by the backend
const (
	AdminOrdersTopic = "orders/admin"
	OrderWindowTopic = "order-window"
)

// OrdersTopic carries status updates for a department's orders
func OrdersTopic(departmentID string) string {
	return "orders/" + departmentID
}

// NotificationsTopic carries notifications for one user
func NotificationsTopic(userID string) string {
	return "notifications/" + userID
}
