package orders

const (
	TopicOrderCreated     = "order.created"
	TopicOrderShipped     = "order.shipped"
	TopicOrderClosed      = "order.closed" // completed / cancelled / expired
	TopicPaymentConfirmed = "payment.confirmed"
)

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
