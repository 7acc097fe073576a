package model

// Notification is a batch of update messages for one channel, as received
// over HTTP or read from Kafka.
type Notification struct {
	Channel  string          `json:"channel"` // user:update | account:update
	Messages []UpdateMessage `json:"messages"`
}
