package processor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	stripe "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

const callTimeout = 10 * time.Second

// StripeClient talks to Stripe through an injected API handle rather
// than the package-level singleton, so tests can substitute it.
type StripeClient struct {
	api        *client.API
	successURL string
	cancelURL  string
}

// NewStripeClient builds a client from STRIPE_SECRET_KEY with a bounded
// HTTP timeout on every call.
func NewStripeClient() *StripeClient {
	key := os.Getenv("STRIPE_SECRET_KEY")

	config := &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: callTimeout},
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, config),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, config),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, config),
	}

	successURL := os.Getenv("CHECKOUT_SUCCESS_URL")
	if successURL == "" {
		successURL = "https://pay.payhold.dev/success"
	}
	cancelURL := os.Getenv("CHECKOUT_CANCEL_URL")
	if cancelURL == "" {
		cancelURL = "https://pay.payhold.dev/cancel"
	}

	return &StripeClient{
		api:        client.New(key, backends),
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

// CreateCheckout opens a checkout session tagged with the escrow
// transaction id, which webhooks use to find the ledger row.
func (s *StripeClient) CreateCheckout(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(p.Currency),
					UnitAmount: stripe.Int64(p.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Job %s (%s)", p.JobID, p.PaymentType)),
					},
				},
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				"escrow_transaction_id": p.EscrowID,
				"job_id":                p.JobID,
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("escrow_transaction_id", p.EscrowID)

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classify("create_checkout", err)
	}
	return &CheckoutSession{SessionID: sess.ID, CheckoutURL: sess.URL}, nil
}

// CreateTransfer dispatches a payout to the payee's connected account.
// Stripe dedupes on the idempotency key, so a timeout plus retry cannot
// produce two transfers.
func (s *StripeClient) CreateTransfer(ctx context.Context, p TransferParams) (*Transfer, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(p.Amount),
		Currency:    stripe.String(p.Currency),
		Destination: stripe.String(p.Destination),
	}
	params.Context = ctx
	params.SetIdempotencyKey(p.IdempotencyKey)
	params.AddMetadata("escrow_transaction_id", p.EscrowID)

	tr, err := s.api.Transfers.New(params)
	if err != nil {
		return nil, classify("create_transfer", err)
	}
	return &Transfer{TransferID: tr.ID}, nil
}

// classify maps a stripe-go failure into the transient/permanent split.
// Connection drops, 429s and 5xx responses are worth retrying with the
// same idempotency key; everything else is a permanent rejection.
func classify(op string, err error) error {
	if stripeErr, ok := err.(*stripe.Error); ok {
		transient := stripeErr.Type == stripe.ErrorTypeAPIConnection ||
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError
		return &Error{Op: op, Transient: transient, Err: err}
	}
	// non-API errors (timeouts, DNS) are network-level and retryable
	return &Error{Op: op, Transient: true, Err: err}
}
