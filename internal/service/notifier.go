package queue_publisher

import (
	"context"
	"log"
)

// LogNotifier satisfies the checkout package's Notifier port by
// writing buyer messages to the process log. Outbound email is an
// external collaborator; swapping it in only requires another
// implementation of this one method. Notifications are
// fire-and-forget, so there is no error to return.
type LogNotifier struct{}

// NewLogNotifier returns a LogNotifier.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

// Notify logs the message addressed to the buyer.
func (n *LogNotifier) Notify(_ context.Context, buyerID uint64, message string) {
	log.Printf("notify buyer=%d: %s", buyerID, message)
}
