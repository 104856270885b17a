package notify

import (
	"context"

	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"go.uber.org/zap"
)

// Audience says who a notification is for.
type Audience string

const (
	AudienceCustomer   Audience = "customer"
	AudienceOperations Audience = "operations"
)

type Notification struct {
	EventID  string
	Audience Audience
	UserID   string // empty for operations notices
	OrderID  string
	Subject  string
	Body     string
}

// Notifier delivers a notification. It must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log. It is the default sink until
// a mail or push channel is configured.
type LogNotifier struct {
	Log *zap.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) error {
	logging.FromContext(ctx, logging.OrNop(l.Log)).Info("notification",
		zap.String("event_id", n.EventID),
		zap.String("audience", string(n.Audience)),
		zap.String("user_id", n.UserID),
		zap.String("order_id", n.OrderID),
		zap.String("subject", n.Subject),
		zap.String("body", n.Body),
	)
	return nil
}
