package source

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const usagePageSize = 100

// UsageCustomer is one customer's usage counters from the
// product-analytics API.
type UsageCustomer struct {
	CustomerID       string     `json:"customer_id"`
	Name             string     `json:"name"`
	Domain           string     `json:"domain"`
	TotalEvents      int64      `json:"total_events"`
	EventsLast30Days int64      `json:"events_last_30_days"`
	LastActivityAt   *time.Time `json:"last_activity_at,omitempty"`
}

// usagePage is the analytics API's page-numbered list envelope.
type usagePage struct {
	Customers []UsageCustomer `json:"customers"`
	HasMore   bool            `json:"has_more"`
}

// UsageClient reads customer usage counters from the product-analytics
// API through the rate-limited Client.
type UsageClient struct {
	c *Client
}

// NewUsageClient creates an analytics client authenticated with an API key.
func NewUsageClient(baseURL, apiKey string, opts Options) *UsageClient {
	opts.Authorize = func(r *http.Request) {
		r.Header.Set("X-API-Key", apiKey)
	}
	return &UsageClient{c: NewClient(baseURL, opts)}
}

// ListCustomers fetches all customers, following page numbers.
func (c *UsageClient) ListCustomers(ctx context.Context) ([]UsageCustomer, error) {
	var all []UsageCustomer
	for pageNum := 1; ; pageNum++ {
		var p usagePage
		err := c.c.GetJSON(ctx, "/api/v1/customers", url.Values{
			"page":     {strconv.Itoa(pageNum)},
			"per_page": {strconv.Itoa(usagePageSize)},
		}, &p)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Customers...)
		if !p.HasMore {
			return all, nil
		}
	}
}

// DaysSince returns whole days from t to now, or -1 when t is nil.
func DaysSince(t *time.Time, now time.Time) int {
	if t == nil {
		return -1
	}
	d := int(now.Sub(*t).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
