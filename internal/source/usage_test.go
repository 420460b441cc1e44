package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageClient_ListCustomersFollowsPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/customers", r.URL.Path)
		assert.Equal(t, "key-123", r.Header.Get("X-API-Key"))

		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `{
				"customers": [
					{"customer_id": "u1", "name": "Acme", "domain": "acme.com", "total_events": 500, "events_last_30_days": 40, "last_activity_at": "2026-03-01T00:00:00Z"},
					{"customer_id": "u2", "name": "Globex", "total_events": 0, "events_last_30_days": 0}
				],
				"has_more": true
			}`)
		case "2":
			fmt.Fprint(w, `{"customers": [{"customer_id": "u3", "name": "Initech"}], "has_more": false}`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	c := NewUsageClient(srv.URL, "key-123", Options{MinInterval: time.Millisecond})
	customers, err := c.ListCustomers(context.Background())
	require.NoError(t, err)
	require.Len(t, customers, 3)
	assert.Equal(t, int64(500), customers[0].TotalEvents)
	require.NotNil(t, customers[0].LastActivityAt)
	assert.Nil(t, customers[1].LastActivityAt)
	assert.Equal(t, "u3", customers[2].CustomerID)
}

func TestDaysSince(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, -1, DaysSince(nil, now))

	recent := now.Add(-36 * time.Hour)
	assert.Equal(t, 1, DaysSince(&recent, now))

	future := now.Add(time.Hour)
	assert.Equal(t, 0, DaysSince(&future, now))
}

func TestEmailDomain(t *testing.T) {
	assert.Equal(t, "acme.com", emailDomain("billing@acme.com"))
	assert.Equal(t, "acme.com", emailDomain("Jane.Doe@ACME.com"))
	assert.Empty(t, emailDomain("not-an-email"))
	assert.Empty(t, emailDomain("trailing@"))
	assert.Empty(t, emailDomain(""))
}
