package orders

const (
	TopicStatusChanged   = "order.status.changed"
	TopicRefundRequested = "order.refund.requested"
	TopicReviewRequired  = "order.review.required"
	TopicStockLow        = "inventory.stock.low"
	TopicStockAvailable  = "inventory.stock.available"
	TopicReturnReceived  = "warehouse.return.received"
	TopicRefundResult    = "payment.refund.result"
)

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
