package source

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const crmPageSize = 100

// CRMCompany is one company record from the CRM objects API. Property
// values arrive as strings and are parsed by the orchestrator.
type CRMCompany struct {
	ID         string            `json:"id"`
	Properties CompanyProperties `json:"properties"`
	CreatedAt  *time.Time        `json:"createdAt,omitempty"`
	UpdatedAt  *time.Time        `json:"updatedAt,omitempty"`
}

// CompanyProperties holds the CRM company properties the sync reads.
type CompanyProperties struct {
	Name           string `json:"name"`
	Domain         string `json:"domain"`
	LifecycleStage string `json:"lifecyclestage"`
	MRR            string `json:"mrr"`
	Plan           string `json:"plan_tier"`
	OwnerID        string `json:"hubspot_owner_id"`
	Churned        string `json:"churned"`
}

// CRMDeal is one deal record, with associated company and contact IDs.
type CRMDeal struct {
	ID           string           `json:"id"`
	Properties   DealProperties   `json:"properties"`
	Associations DealAssociations `json:"associations"`
}

// DealProperties holds the CRM deal properties the sync reads.
type DealProperties struct {
	Name       string `json:"dealname"`
	Amount     string `json:"amount"`
	Pipeline   string `json:"pipeline"`
	Stage      string `json:"dealstage"`
	CreateDate string `json:"createdate"`
	CloseDate  string `json:"closedate"`
	OwnerID    string `json:"hubspot_owner_id"`
}

// DealAssociations lists IDs of records associated with a deal.
type DealAssociations struct {
	Companies AssocList `json:"companies"`
	Contacts  AssocList `json:"contacts"`
}

// AssocList is the CRM's association envelope.
type AssocList struct {
	Results []AssocRef `json:"results"`
}

// AssocRef references one associated record.
type AssocRef struct {
	ID string `json:"id"`
}

// IDs returns the associated record IDs in order.
func (a AssocList) IDs() []string {
	ids := make([]string, 0, len(a.Results))
	for _, r := range a.Results {
		ids = append(ids, r.ID)
	}
	return ids
}

// CRMPipeline is reference data: a deal pipeline with its stages.
type CRMPipeline struct {
	ID           string     `json:"id"`
	Label        string     `json:"label"`
	DisplayOrder int        `json:"displayOrder"`
	Stages       []CRMStage `json:"stages"`
}

// CRMStage is one stage of a pipeline.
type CRMStage struct {
	ID           string        `json:"id"`
	Label        string        `json:"label"`
	DisplayOrder int           `json:"displayOrder"`
	Metadata     StageMetadata `json:"metadata"`
}

// StageMetadata carries the close/probability classification of a stage.
// The CRM serializes these as strings.
type StageMetadata struct {
	IsClosed    string `json:"isClosed"`
	Probability string `json:"probability"`
}

// Closed reports whether the stage is a closed stage.
func (m StageMetadata) Closed() bool {
	return m.IsClosed == "true"
}

// Prob returns the stage win probability, 0 when unparsable.
func (m StageMetadata) Prob() float64 {
	p, err := strconv.ParseFloat(m.Probability, 64)
	if err != nil {
		return 0
	}
	return p
}

// CRMOwner maps an owner ID to an identity.
type CRMOwner struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// CRMContact is a contact record fetched for deal threading.
type CRMContact struct {
	ID         string            `json:"id"`
	Properties ContactProperties `json:"properties"`
}

// ContactProperties holds the contact properties used for role inference.
type ContactProperties struct {
	Email     string `json:"email"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	JobTitle  string `json:"jobtitle"`
}

// page is the CRM's cursor-paged list envelope.
type page[T any] struct {
	Results []T `json:"results"`
	Paging  *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

// CRMClient reads companies, deals, pipelines, owners and contacts from
// the CRM REST API through the rate-limited Client.
type CRMClient struct {
	c *Client
}

// NewCRMClient creates a CRM client authenticated with a bearer token.
func NewCRMClient(baseURL, token string, opts Options) *CRMClient {
	opts.Authorize = func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return &CRMClient{c: NewClient(baseURL, opts)}
}

// ListCompanies fetches all companies, following pagination cursors.
func (c *CRMClient) ListCompanies(ctx context.Context) ([]CRMCompany, error) {
	return listPaged[CRMCompany](ctx, c.c, "/crm/v3/objects/companies", url.Values{
		"properties": {"name,domain,lifecyclestage,mrr,plan_tier,hubspot_owner_id,churned"},
	})
}

// ListDeals fetches all deals with company and contact associations.
func (c *CRMClient) ListDeals(ctx context.Context) ([]CRMDeal, error) {
	return listPaged[CRMDeal](ctx, c.c, "/crm/v3/objects/deals", url.Values{
		"properties":   {"dealname,amount,pipeline,dealstage,createdate,closedate,hubspot_owner_id"},
		"associations": {"companies,contacts"},
	})
}

// ListPipelines fetches deal pipelines and their stages.
func (c *CRMClient) ListPipelines(ctx context.Context) ([]CRMPipeline, error) {
	var out page[CRMPipeline]
	if err := c.c.GetJSON(ctx, "/crm/v3/pipelines/deals", nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// ListOwners fetches all owners.
func (c *CRMClient) ListOwners(ctx context.Context) ([]CRMOwner, error) {
	return listPaged[CRMOwner](ctx, c.c, "/crm/v3/owners", nil)
}

// GetContact fetches a single contact by ID.
func (c *CRMClient) GetContact(ctx context.Context, id string) (*CRMContact, error) {
	var out CRMContact
	err := c.c.GetJSON(ctx, "/crm/v3/objects/contacts/"+id, url.Values{
		"properties": {"email,firstname,lastname,jobtitle"},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// listPaged follows the after-cursor until the source reports no next page.
func listPaged[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("limit", strconv.Itoa(crmPageSize))

	var all []T
	after := ""
	for {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		if after != "" {
			q.Set("after", after)
		}

		var p page[T]
		if err := c.GetJSON(ctx, path, q, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Results...)

		if p.Paging == nil || p.Paging.Next == nil || p.Paging.Next.After == "" {
			return all, nil
		}
		after = p.Paging.Next.After
	}
}
