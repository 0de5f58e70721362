package enums

import "testing"

func TestPaymentStatusTransitions(t *testing.T) {
	tests := []struct {
		from PaymentStatus
		to   PaymentStatus
		want bool
	}{
		{PaymentStatusPending, PaymentStatusPaid, true},
		{PaymentStatusPending, PaymentStatusFailed, true},
		{PaymentStatusPaid, PaymentStatusRefunded, true},
		{PaymentStatusPending, PaymentStatusRefunded, false},
		{PaymentStatusPaid, PaymentStatusFailed, false},
		{PaymentStatusPaid, PaymentStatusPending, false},
		{PaymentStatusFailed, PaymentStatusPaid, false},
		{PaymentStatusRefunded, PaymentStatusPaid, false},
		{PaymentStatusPaid, PaymentStatusPaid, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestPaymentStatusTerminal(t *testing.T) {
	if PaymentStatusPending.IsTerminal() || PaymentStatusPaid.IsTerminal() {
		t.Fatal("pending and paid must not be terminal")
	}
	if !PaymentStatusFailed.IsTerminal() || !PaymentStatusRefunded.IsTerminal() {
		t.Fatal("failed and refunded must be terminal")
	}
}

func TestParsePaymentStatus(t *testing.T) {
	if _, err := ParsePaymentStatus("settled"); err == nil {
		t.Fatal("expected unknown status to fail")
	}
	status, err := ParsePaymentStatus("refunded")
	if err != nil || status != PaymentStatusRefunded {
		t.Fatalf("unexpected parse result %q %v", status, err)
	}
}
