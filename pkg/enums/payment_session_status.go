package enums

import "fmt"

// PaymentSessionStatus tracks the lifecycle of a payment session. Only a
// pending session may be completed or failed; the other states are terminal.
type PaymentSessionStatus string

const (
	PaymentSessionPending   PaymentSessionStatus = "pending"
	PaymentSessionCompleted PaymentSessionStatus = "completed"
	PaymentSessionFailed    PaymentSessionStatus = "failed"
	PaymentSessionExpired   PaymentSessionStatus = "expired"
)

var validPaymentSessionStatuses = []PaymentSessionStatus{
	PaymentSessionPending,
	PaymentSessionCompleted,
	PaymentSessionFailed,
	PaymentSessionExpired,
}

// String implements fmt.Stringer.
func (p PaymentSessionStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentSessionStatus.
func (p PaymentSessionStatus) IsValid() bool {
	for _, candidate := range validPaymentSessionStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the session can no longer change state.
func (p PaymentSessionStatus) IsTerminal() bool {
	return p != PaymentSessionPending
}

// ParsePaymentSessionStatus converts raw input into a PaymentSessionStatus.
func ParsePaymentSessionStatus(value string) (PaymentSessionStatus, error) {
	for _, candidate := range validPaymentSessionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment session status %q", value)
}
