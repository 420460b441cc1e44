package source

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	stripe "github.com/stripe/stripe-go/v76"
	stripeclient "github.com/stripe/stripe-go/v76/client"
)

// PaymentsCustomer is one customer from the payments processor.
type PaymentsCustomer struct {
	ID     string
	Email  string
	Name   string
	Domain string
}

// PaymentsCharge is one charge, normalized to dollars.
type PaymentsCharge struct {
	ID         string
	CustomerID string
	Amount     float64
	Paid       bool
	Disputed   bool
	RiskScore  int64
	Created    time.Time
}

// PaymentsClient reads customers and charges from the payments
// processor. The orchestrator and tests depend on this interface, not
// on the SDK.
type PaymentsClient interface {
	ListCustomers(ctx context.Context) ([]PaymentsCustomer, error)
	ListCharges(ctx context.Context, customerID string) ([]PaymentsCharge, error)
}

// stripePayments implements PaymentsClient on the Stripe SDK. The SDK
// carries its own retry and pacing behavior, so calls do not go through
// the shared rate-limited Client.
type stripePayments struct {
	api *stripeclient.API
}

// NewStripeClient creates a PaymentsClient backed by Stripe.
func NewStripeClient(apiKey string) PaymentsClient {
	api := &stripeclient.API{}
	api.Init(apiKey, nil)
	return &stripePayments{api: api}
}

func (s *stripePayments) ListCustomers(ctx context.Context) ([]PaymentsCustomer, error) {
	params := &stripe.CustomerListParams{}
	params.Context = ctx
	params.Limit = stripe.Int64(100)

	var out []PaymentsCustomer
	it := s.api.Customers.List(params)
	for it.Next() {
		c := it.Customer()
		out = append(out, PaymentsCustomer{
			ID:     c.ID,
			Email:  c.Email,
			Name:   c.Name,
			Domain: emailDomain(c.Email),
		})
	}
	if err := it.Err(); err != nil {
		return nil, eris.Wrap(err, "payments: list customers")
	}
	return out, nil
}

func (s *stripePayments) ListCharges(ctx context.Context, customerID string) ([]PaymentsCharge, error) {
	params := &stripe.ChargeListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.Limit = stripe.Int64(100)

	var out []PaymentsCharge
	it := s.api.Charges.List(params)
	for it.Next() {
		ch := it.Charge()
		pc := PaymentsCharge{
			ID:         ch.ID,
			CustomerID: customerID,
			Amount:     float64(ch.Amount) / 100,
			Paid:       ch.Paid,
			Disputed:   ch.Disputed,
			Created:    time.Unix(ch.Created, 0).UTC(),
		}
		if ch.Outcome != nil {
			pc.RiskScore = ch.Outcome.RiskScore
		}
		out = append(out, pc)
	}
	if err := it.Err(); err != nil {
		return nil, eris.Wrapf(err, "payments: list charges for %s", customerID)
	}
	return out, nil
}

// emailDomain extracts the domain part of an email address.
func emailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
