package model

import "fmt"

type OutcomeKind string

const (
	OutcomeDelivered       OutcomeKind = "delivered"
	OutcomeRejected        OutcomeKind = "rejected"
	OutcomeTransportFailed OutcomeKind = "transport_failed"
)

// DeliveryOutcome is the result of one delivery attempt. It is consumed by logging and metrics
// and never stored.
type DeliveryOutcome struct {
	Kind       OutcomeKind
	StatusCode int
	Body       []byte
	Response   any
	Err        error
}

func Delivered(status int, body []byte, parsed any) DeliveryOutcome {
	return DeliveryOutcome{Kind: OutcomeDelivered, StatusCode: status, Body: body, Response: parsed}
}

func Rejected(status int, body []byte) DeliveryOutcome {
	return DeliveryOutcome{
		Kind:       OutcomeRejected,
		StatusCode: status,
		Body:       body,
		Err:        fmt.Errorf("collector responded with status %d", status),
	}
}

func TransportFailed(cause error) DeliveryOutcome {
	return DeliveryOutcome{Kind: OutcomeTransportFailed, Err: cause}
}

func (o DeliveryOutcome) OK() bool {
	return o.Kind == OutcomeDelivered
}
