package syncer

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zerochurn/success-sync/internal/model"
	"github.com/zerochurn/success-sync/internal/resolve"
	"github.com/zerochurn/success-sync/internal/source"
	"github.com/zerochurn/success-sync/internal/threading"
	"github.com/zerochurn/success-sync/internal/velocity"
)

// stageInfo is the per-run lookup built from pipeline reference data.
type stageInfo struct {
	pipelineID string
	closed     bool
	won        bool
}

// SyncCRM runs the full CRM pass: pipeline reference data first, then
// companies, then deals with their stage history and contacts.
func (s *Syncer) SyncCRM(ctx context.Context) (*Summary, error) {
	if s.crm == nil {
		return nil, eris.New("syncer: crm source not configured")
	}
	return s.run(ctx, model.SourceCRM, s.syncCRM)
}

func (s *Syncer) syncCRM(ctx context.Context, sum *Summary) error {
	stages, err := s.syncPipelines(ctx)
	if err != nil {
		return err
	}

	owners, err := s.ownerEmails(ctx)
	if err != nil {
		return err
	}

	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return err
	}
	idx := resolve.BuildIndex(accounts, func(a *model.Account) string { return a.CRMID })

	companies, err := s.crm.ListCompanies(ctx)
	if err != nil {
		return err
	}
	for i := range companies {
		sum.RecordsFound++
		if err := s.syncCompany(ctx, &companies[i], idx, owners, sum); err != nil {
			sum.RecordsFailed++
			zap.L().Warn("company sync failed",
				zap.String("crm_id", companies[i].ID),
				zap.Error(err))
			continue
		}
		sum.RecordsSynced++
	}

	deals, err := s.crm.ListDeals(ctx)
	if err != nil {
		return err
	}
	contacts := make(map[string]*source.CRMContact)
	for i := range deals {
		sum.RecordsFound++
		if err := s.syncDeal(ctx, &deals[i], idx, owners, stages, contacts); err != nil {
			sum.RecordsFailed++
			zap.L().Warn("deal sync failed",
				zap.String("crm_id", deals[i].ID),
				zap.Error(err))
			continue
		}
		sum.RecordsSynced++
	}
	return nil
}

// syncPipelines replaces the pipeline reference data and returns the
// stage lookup used to classify deals for the rest of the run.
func (s *Syncer) syncPipelines(ctx context.Context) (map[string]stageInfo, error) {
	crmPipelines, err := s.crm.ListPipelines(ctx)
	if err != nil {
		return nil, err
	}

	var pipelines []model.Pipeline
	var stages []model.PipelineStage
	lookup := make(map[string]stageInfo)
	for _, p := range crmPipelines {
		pipelines = append(pipelines, model.Pipeline{
			CRMID:        p.ID,
			Label:        p.Label,
			DisplayOrder: p.DisplayOrder,
		})
		for _, st := range p.Stages {
			closed := st.Metadata.Closed()
			won := closed && st.Metadata.Prob() >= 1.0
			stages = append(stages, model.PipelineStage{
				CRMID:        st.ID,
				PipelineID:   p.ID,
				Label:        st.Label,
				DisplayOrder: st.DisplayOrder,
				Probability:  st.Metadata.Prob(),
				IsClosed:     closed,
				IsWon:        won,
			})
			lookup[st.ID] = stageInfo{pipelineID: p.ID, closed: closed, won: won}
		}
	}

	if err := s.store.ReplacePipelines(ctx, pipelines, stages); err != nil {
		return nil, err
	}
	return lookup, nil
}

// ownerEmails builds the run-scoped owner ID to email map.
func (s *Syncer) ownerEmails(ctx context.Context) (map[string]string, error) {
	owners, err := s.crm.ListOwners(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(owners))
	for _, o := range owners {
		m[o.ID] = o.Email
	}
	return m, nil
}

func (s *Syncer) syncCompany(ctx context.Context, c *source.CRMCompany, idx *resolve.Index, owners map[string]string, sum *Summary) error {
	rec := resolve.Record{
		ExternalID: c.ID,
		Name:       c.Properties.Name,
		Domain:     c.Properties.Domain,
	}
	acct, strategy := resolve.Resolve(rec, idx)
	if acct == nil {
		acct = &model.Account{
			ID:                uuid.New().String(),
			HealthCategory:    model.HealthUnknown,
			DaysSinceActivity: -1,
		}
		sum.Created++
	} else {
		sum.Matched++
		zap.L().Debug("company resolved",
			zap.String("crm_id", c.ID),
			zap.String("account_id", acct.ID),
			zap.String("strategy", strategy))
	}

	acct.CRMID = c.ID
	if c.Properties.Name != "" {
		acct.Name = c.Properties.Name
	}
	if d := resolve.NormalizeDomain(c.Properties.Domain); d != "" {
		acct.Domain = d
	}
	acct.MRR = parseFloat(c.Properties.MRR)
	acct.Plan = c.Properties.Plan
	acct.LifecycleStage = c.Properties.LifecycleStage
	acct.Churned = strings.EqualFold(c.Properties.Churned, "true")
	if email, ok := owners[c.Properties.OwnerID]; ok {
		acct.OwnerEmail = email
	}
	acct.SourceCreatedAt = c.CreatedAt
	acct.SourceUpdatedAt = c.UpdatedAt
	now := s.now()
	acct.LastSyncedAt = &now

	s.rescore(acct)

	if err := s.store.UpsertAccount(ctx, acct); err != nil {
		return err
	}
	idx.Add(acct)
	return nil
}

func (s *Syncer) syncDeal(ctx context.Context, d *source.CRMDeal, idx *resolve.Index, owners map[string]string, stages map[string]stageInfo, contactCache map[string]*source.CRMContact) error {
	existing, err := s.store.GetDealByCRMID(ctx, d.ID)
	if err != nil {
		return err
	}

	deal := existing
	if deal == nil {
		deal = &model.Deal{
			ID:    uuid.New().String(),
			CRMID: d.ID,
		}
	}

	deal.Name = d.Properties.Name
	deal.Amount = parseFloat(d.Properties.Amount)
	deal.CreatedDate = parseTime(d.Properties.CreateDate)
	deal.CloseDate = parseTime(d.Properties.CloseDate)
	if email, ok := owners[d.Properties.OwnerID]; ok {
		deal.OwnerEmail = email
	}

	// Associate the deal with its company's account when one resolves.
	for _, companyID := range d.Associations.Companies.IDs() {
		if acct, _ := resolve.Resolve(resolve.Record{ExternalID: companyID}, idx); acct != nil {
			deal.AccountID = acct.ID
			break
		}
	}

	now := s.now()
	observed := d.Properties.Stage

	latest, err := s.store.LatestStageEntry(ctx, deal.ID)
	if err != nil {
		return err
	}
	if t := velocity.Plan(existing, observed, latest, now); t != nil {
		t.Entry.DealID = deal.ID
		if err := s.store.AppendStageEntry(ctx, &t.Entry); err != nil {
			return err
		}
		deal.StagesVisited = t.StagesVisited
		deal.DaysInCurrentStage = 0
		latest = &t.Entry
	} else if latest != nil {
		deal.DaysInCurrentStage = velocity.DaysBetween(latest.CreatedAt, now)
	}

	if observed != "" {
		deal.StageID = observed
	}
	if info, ok := stages[deal.StageID]; ok {
		deal.PipelineID = info.pipelineID
		if info.closed && !deal.IsClosed && deal.ClosedDate == nil {
			deal.ClosedDate = &now
		}
		deal.IsClosed = info.closed
		deal.IsWon = info.won
	} else if d.Properties.Pipeline != "" {
		deal.PipelineID = d.Properties.Pipeline
	}
	if deal.CreatedDate != nil {
		deal.DaysInPipeline = velocity.DaysBetween(*deal.CreatedDate, now)
	}

	score, err := s.syncDealContacts(ctx, deal, d.Associations.Contacts.IDs(), contactCache)
	if err != nil {
		return err
	}
	deal.ThreadingScore = score

	deal.LastSyncedAt = &now
	return s.store.UpsertDeal(ctx, deal)
}

// syncDealContacts upserts the deal's associated contacts with inferred
// roles and returns the resulting threading score. An explicitly
// designated champion keeps that role across syncs.
func (s *Syncer) syncDealContacts(ctx context.Context, deal *model.Deal, contactIDs []string, cache map[string]*source.CRMContact) (int, error) {
	known, err := s.store.ListDealContacts(ctx, deal.ID)
	if err != nil {
		return 0, err
	}
	champions := make(map[string]bool)
	for _, c := range known {
		if c.Role == model.RoleChampion {
			champions[c.Email] = true
		}
	}

	for _, id := range contactIDs {
		c, ok := cache[id]
		if !ok {
			c, err = s.crm.GetContact(ctx, id)
			if err != nil {
				return 0, err
			}
			cache[id] = c
		}
		if c.Properties.Email == "" {
			continue
		}

		role := threading.InferRole(c.Properties.JobTitle)
		if champions[c.Properties.Email] {
			role = model.RoleChampion
		}
		dc := &model.DealContact{
			DealID: deal.ID,
			Email:  c.Properties.Email,
			Name:   strings.TrimSpace(c.Properties.FirstName + " " + c.Properties.LastName),
			Title:  c.Properties.JobTitle,
			Role:   role,
		}
		if err := s.store.UpsertDealContact(ctx, dc); err != nil {
			return 0, err
		}
	}

	contacts, err := s.store.ListDealContacts(ctx, deal.ID)
	if err != nil {
		return 0, err
	}
	return threading.Score(contacts), nil
}

func parseFloat(v string) float64 {
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseTime accepts the CRM's ISO timestamps and bare dates.
func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
