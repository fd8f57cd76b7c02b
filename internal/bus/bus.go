package bus

// Notification is a message queued for delivery to one chat.
type Notification struct {
	ChatID int64
	Text   string
}
