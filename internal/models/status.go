package models

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
	OrderStatusFailed     OrderStatus = "failed"
)

// PaymentStatus is the gateway payment state as stored locally.
type PaymentStatus string

const (
	PaymentStatusPending     PaymentStatus = "pending"
	PaymentStatusApproved    PaymentStatus = "approved"
	PaymentStatusAuthorized  PaymentStatus = "authorized"
	PaymentStatusInProcess   PaymentStatus = "in_process"
	PaymentStatusInMediation PaymentStatus = "in_mediation"
	PaymentStatusRejected    PaymentStatus = "rejected"
	PaymentStatusCancelled   PaymentStatus = "cancelled"
	PaymentStatusRefunded    PaymentStatus = "refunded"
	PaymentStatusChargedBack PaymentStatus = "charged_back"
)

// ParsePaymentStatus maps a gateway status string. Unknown values fold to pending.
func ParsePaymentStatus(s string) PaymentStatus {
	switch PaymentStatus(s) {
	case PaymentStatusPending, PaymentStatusApproved, PaymentStatusAuthorized,
		PaymentStatusInProcess, PaymentStatusInMediation, PaymentStatusRejected,
		PaymentStatusCancelled, PaymentStatusRefunded, PaymentStatusChargedBack:
		return PaymentStatus(s)
	default:
		return PaymentStatusPending
	}
}

// OrderStatus returns the order state implied by a payment in state s.
func (s PaymentStatus) OrderStatus() OrderStatus {
	switch s {
	case PaymentStatusApproved, PaymentStatusAuthorized:
		return OrderStatusPaid
	case PaymentStatusRejected:
		return OrderStatusFailed
	case PaymentStatusCancelled:
		return OrderStatusCancelled
	case PaymentStatusRefunded, PaymentStatusChargedBack:
		return OrderStatusRefunded
	case PaymentStatusInProcess, PaymentStatusInMediation:
		return OrderStatusProcessing
	default:
		return OrderStatusPending
	}
}

// CanCancel reports whether an order in state s may be cancelled by request.
func (s OrderStatus) CanCancel() bool {
	return s != OrderStatusPaid && s != OrderStatusCancelled
}

// CanRetry reports whether the buyer may attempt to pay again.
func (s OrderStatus) CanRetry() bool {
	return s == OrderStatusFailed || s == OrderStatusCancelled || s == OrderStatusPending
}

// Message is the human readable summary shown on the status projection.
func (s OrderStatus) Message(failureReason string) string {
	switch s {
	case OrderStatusPaid:
		return "Payment approved"
	case OrderStatusPending:
		return "Payment pending approval"
	case OrderStatusProcessing:
		return "Payment is being reviewed"
	case OrderStatusFailed:
		if failureReason == "" {
			failureReason = "unknown error"
		}
		return "Payment rejected: " + failureReason
	case OrderStatusCancelled:
		return "Payment cancelled"
	case OrderStatusRefunded:
		return "Payment refunded"
	default:
		return "Unknown status"
	}
}
