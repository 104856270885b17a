package orders

// Order events are keyed by order_id so one order's events stay in one
// partition; stock events are keyed by product_id.
const (
	TopicOrderCreated       = "order.created"
	TopicOrderCancelled     = "order.cancelled"
	TopicOrderPaid          = "order.paid"
	TopicOrderStatusChanged = "order.status_changed"
	TopicPaymentFailed      = "payment.failed"
	TopicLowStock           = "inventory.low_stock"
)

var AllTopics = []string{
	TopicOrderCreated,
	TopicOrderCancelled,
	TopicOrderPaid,
	TopicOrderStatusChanged,
	TopicPaymentFailed,
	TopicLowStock,
}
