package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe processor operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProcessorConfig configures the StripeProcessor.
type StripeProcessorConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger

	intents stripePaymentIntentAPI
}

// StripeProcessor opens payment orders as Stripe PaymentIntents.
type StripeProcessor struct {
	intents stripePaymentIntentAPI
	account string
	logger  StripeLogger
}

// NewStripeProcessor constructs a Stripe-backed Processor.
func NewStripeProcessor(cfg StripeProcessorConfig) (*StripeProcessor, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	intents := cfg.intents
	if intents == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProcessor{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// CreateOrder creates a PaymentIntent for the order total. The receipt (order number) is sent as
// description and metadata so dashboard searches and webhooks can be correlated.
func (p *StripeProcessor) CreateOrder(ctx context.Context, req CreateOrderRequest) (ProcessorOrder, error) {
	if p == nil {
		return ProcessorOrder{}, errors.New("stripe: processor is nil")
	}
	if err := validateCreateOrder(req); err != nil {
		return ProcessorOrder{}, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String(req.Receipt),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	params.Metadata = make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}
	params.Metadata["receipt"] = req.Receipt

	intent, err := p.intents.New(params)
	if err != nil {
		return ProcessorOrder{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"receipt":       req.Receipt,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
	})

	return stripeProcessorOrder(intent), nil
}

func stripeProcessorOrder(intent *stripe.PaymentIntent) ProcessorOrder {
	if intent == nil {
		return ProcessorOrder{}
	}

	raw := map[string]any{}
	if data, err := json.Marshal(intent); err == nil {
		_ = json.Unmarshal(data, &raw)
	} else {
		raw["payment_intent"] = intent
	}

	return ProcessorOrder{
		ID:           intent.ID,
		Provider:     "stripe",
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
		Status:       stripeIntentStatus(intent.Status),
		Raw:          raw,
	}
}

func stripeIntentStatus(status stripe.PaymentIntentStatus) Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}
