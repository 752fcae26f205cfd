package contracts

import "testing"

func TestMapBrokerStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want OrderStatus
	}{
		{"Filled", OrderStatusFilled},
		{"completed", OrderStatusFilled},
		{"Cancelled", OrderStatusCancelled},
		{"rejected", OrderStatusRejected},
		{"ERROR", OrderStatusRejected},
		{"Submitted", OrderStatusSubmitted},
		{"PreSubmitted", OrderStatusSubmitted},
		{"  filled  ", OrderStatusFilled},
		{"PendingSubmit", OrderStatusPending},
		{"", OrderStatusPending},
		{"something-new", OrderStatusPending},
	}
	for _, c := range cases {
		if got := MapBrokerStatus(c.raw); got != c.want {
			t.Errorf("MapBrokerStatus(%q) = %s, want %s", c.raw, got, c.want)
		}
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusSubmitted} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
