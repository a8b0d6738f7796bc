package payments

import (
	"context"
	"errors"
)

// Status enumerates the normalised payment states shared across processors.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or processor confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the processor reports the payment as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the processor reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

// ErrInvalidRequest is returned when a processor request is missing required fields.
var ErrInvalidRequest = errors.New("payments: invalid request")

// CreateOrderRequest captures the payload required to open a processor-side payment order.
type CreateOrderRequest struct {
	Amount         int64
	Currency       string
	Receipt        string
	Metadata       map[string]string
	IdempotencyKey string
}

// ProcessorOrder is the processor's view of an opened payment order. ID is stored on the
// order as its processor order id and correlates confirmations and webhooks.
type ProcessorOrder struct {
	ID           string
	Provider     string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       Status
	Raw          map[string]any
}

// Processor opens payment orders with the external payment processor.
type Processor interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (ProcessorOrder, error)
}

func validateCreateOrder(req CreateOrderRequest) error {
	switch {
	case req.Amount <= 0:
		return errors.Join(ErrInvalidRequest, errors.New("amount must be positive"))
	case req.Currency == "":
		return errors.Join(ErrInvalidRequest, errors.New("currency is required"))
	case req.Receipt == "":
		return errors.Join(ErrInvalidRequest, errors.New("receipt is required"))
	}
	return nil
}
