package types

// Logger defines the interface for logging across the flashsale core.
// Arguments are alternating key/value pairs.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)

	// Info logs an info message.
	Info(msg string, args ...any)

	// Warn logs a warning message.
	Warn(msg string, args ...any)

	// Error logs an error message.
	Error(msg string, args ...any)
}

// AdmissionStatus is the outcome of an admission attempt for a voucher.
// The integer values are the wire contract of the admission script.
type AdmissionStatus int

const (
	// StatusAccepted means the request won a unit of stock.
	StatusAccepted AdmissionStatus = 0

	// StatusOutOfStock means the voucher has no stock left.
	StatusOutOfStock AdmissionStatus = 1

	// StatusDuplicateOrder means the user already holds an order for this voucher.
	StatusDuplicateOrder AdmissionStatus = 2
)

// String returns a label suitable for logs and metrics.
func (s AdmissionStatus) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusOutOfStock:
		return "out_of_stock"
	case StatusDuplicateOrder:
		return "duplicate_order"
	default:
		return "unknown"
	}
}

// OrderIntent is an accepted admission waiting to be persisted.
// On the stream it is carried as flat string fields {id, userId, voucherId}.
type OrderIntent struct {
	ID        uint64
	UserID    uint64
	VoucherID uint64
}

// InvalidationEvent tells other processes to drop their local copy of a key.
type InvalidationEvent struct {
	Key    string `json:"key"`
	Sender string `json:"sender"`
}
