package orders

type OrderStatus string

const (
	StatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	StatusPaid           OrderStatus = "PAID"
	StatusConfirmed      OrderStatus = "CONFIRMED"
	StatusShipped        OrderStatus = "SHIPPED"
	StatusDelivered      OrderStatus = "DELIVERED"
	StatusCompleted      OrderStatus = "COMPLETED"
	StatusCancelled      OrderStatus = "CANCELLED"
	StatusRefunding      OrderStatus = "REFUNDING"
	StatusRefunded       OrderStatus = "REFUNDED"
)

type PaymentStatus string

const (
	PaymentPending         PaymentStatus = "PENDING"
	PaymentProcessing      PaymentStatus = "PROCESSING"
	PaymentSuccess         PaymentStatus = "SUCCESS"
	PaymentFailed          PaymentStatus = "FAILED"
	PaymentCancelled       PaymentStatus = "CANCELLED"
	PaymentTimeout         PaymentStatus = "TIMEOUT"
	PaymentRefunding       PaymentStatus = "REFUNDING"
	PaymentRefunded        PaymentStatus = "REFUNDED"
	PaymentPartialRefunded PaymentStatus = "PARTIAL_REFUNDED"
)

var orderNext = map[OrderStatus]map[OrderStatus]bool{
	StatusPendingPayment: {StatusPaid: true, StatusCancelled: true},
	StatusPaid:           {StatusConfirmed: true, StatusRefunding: true},
	StatusConfirmed:      {StatusShipped: true, StatusRefunding: true},
	StatusShipped:        {StatusDelivered: true},
	StatusDelivered:      {StatusCompleted: true, StatusRefunding: true},
	StatusRefunding:      {StatusRefunded: true, StatusConfirmed: true}, // CONFIRMED = refund denied
	StatusCompleted:      {},
	StatusCancelled:      {},
	StatusRefunded:       {},
}

var paymentNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:         {PaymentProcessing: true, PaymentSuccess: true, PaymentFailed: true, PaymentCancelled: true, PaymentTimeout: true},
	PaymentProcessing:      {PaymentSuccess: true, PaymentFailed: true, PaymentCancelled: true, PaymentTimeout: true},
	PaymentSuccess:         {PaymentRefunding: true},
	PaymentRefunding:       {PaymentRefunded: true, PaymentPartialRefunded: true, PaymentSuccess: true}, // SUCCESS = refund denied
	PaymentPartialRefunded: {PaymentRefunding: true},
	PaymentFailed:          {},
	PaymentCancelled:       {},
	PaymentTimeout:         {},
	PaymentRefunded:        {},
}

// Display labels for the HTTP view; the enums themselves carry no behaviour.
var OrderStatusLabels = map[OrderStatus]string{
	StatusPendingPayment: "Awaiting payment",
	StatusPaid:           "Paid",
	StatusConfirmed:      "Confirmed by merchant",
	StatusShipped:        "Shipped",
	StatusDelivered:      "Delivered",
	StatusCompleted:      "Completed",
	StatusCancelled:      "Cancelled",
	StatusRefunding:      "Refund in progress",
	StatusRefunded:       "Refunded",
}

func CanTransitionOrder(from, to OrderStatus) bool {
	return orderNext[from][to]
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return paymentNext[from][to]
}

// ApplyOrder is the only way an order status changes.
func ApplyOrder(from, to OrderStatus) (OrderStatus, error) {
	if !CanTransitionOrder(from, to) {
		return from, &InvalidStateTransitionError{Machine: "order", Current: string(from), Target: string(to)}
	}
	return to, nil
}

// ApplyPayment is the only way a payment status changes.
func ApplyPayment(from, to PaymentStatus) (PaymentStatus, error) {
	if !CanTransitionPayment(from, to) {
		return from, &InvalidStateTransitionError{Machine: "payment", Current: string(from), Target: string(to)}
	}
	return to, nil
}

func IsTerminalOrder(s OrderStatus) bool {
	next, ok := orderNext[s]
	return ok && len(next) == 0
}

func IsTerminalPayment(s PaymentStatus) bool {
	next, ok := paymentNext[s]
	return ok && len(next) == 0
}

// OrderStatuses lists every order status in declaration order.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{
		StatusPendingPayment, StatusPaid, StatusConfirmed, StatusShipped, StatusDelivered,
		StatusCompleted, StatusCancelled, StatusRefunding, StatusRefunded,
	}
}
