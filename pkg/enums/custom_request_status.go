package enums

import "fmt"

// CustomRequestStatus mirrors the custom_request_status enum owned by the intake flow.
type CustomRequestStatus string

const (
	CustomRequestStatusSubmitted       CustomRequestStatus = "submitted"
	CustomRequestStatusQuoted          CustomRequestStatus = "quoted"
	CustomRequestStatusAwaitingPayment CustomRequestStatus = "awaiting_payment"
	CustomRequestStatusInProgress      CustomRequestStatus = "in_progress"
	CustomRequestStatusDelivered       CustomRequestStatus = "delivered"
	CustomRequestStatusCancelled       CustomRequestStatus = "cancelled"
)

var validCustomRequestStatuses = []CustomRequestStatus{
	CustomRequestStatusSubmitted,
	CustomRequestStatusQuoted,
	CustomRequestStatusAwaitingPayment,
	CustomRequestStatusInProgress,
	CustomRequestStatusDelivered,
	CustomRequestStatusCancelled,
}

// String implements fmt.Stringer.
func (s CustomRequestStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known CustomRequestStatus.
func (s CustomRequestStatus) IsValid() bool {
	for _, candidate := range validCustomRequestStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// AcceptsPayment reports whether a paid checkout may start work on the request.
func (s CustomRequestStatus) AcceptsPayment() bool {
	switch s {
	case CustomRequestStatusSubmitted, CustomRequestStatusQuoted, CustomRequestStatusAwaitingPayment:
		return true
	default:
		return false
	}
}

// ParseCustomRequestStatus converts raw input into a CustomRequestStatus.
func ParseCustomRequestStatus(value string) (CustomRequestStatus, error) {
	for _, candidate := range validCustomRequestStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid custom request status %q", value)
}
