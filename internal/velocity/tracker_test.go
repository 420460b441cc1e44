package velocity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerochurn/success-sync/internal/model"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestPlan_FirstObservation(t *testing.T) {
	tr := Plan(nil, "appointmentscheduled", nil, now)
	require.NotNil(t, tr)
	assert.Empty(t, tr.Entry.FromStageID)
	assert.Equal(t, "appointmentscheduled", tr.Entry.ToStageID)
	assert.Equal(t, 0, tr.Entry.DaysInPreviousStage)
	assert.Equal(t, 1, tr.StagesVisited)
}

func TestPlan_EmptyObservedStage(t *testing.T) {
	deal := &model.Deal{StageID: "qualifiedtobuy", StagesVisited: 2}
	assert.Nil(t, Plan(deal, "", nil, now))
}

func TestPlan_UnchangedStage(t *testing.T) {
	deal := &model.Deal{StageID: "qualifiedtobuy", StagesVisited: 2}
	latest := &model.StageEntry{ToStageID: "qualifiedtobuy", CreatedAt: now.AddDate(0, 0, -5)}
	assert.Nil(t, Plan(deal, "qualifiedtobuy", latest, now))
}

func TestPlan_StageChange(t *testing.T) {
	deal := &model.Deal{StageID: "appointmentscheduled", StagesVisited: 1}
	latest := &model.StageEntry{ToStageID: "appointmentscheduled", CreatedAt: now.AddDate(0, 0, -7)}

	tr := Plan(deal, "qualifiedtobuy", latest, now)
	require.NotNil(t, tr)
	assert.Equal(t, "appointmentscheduled", tr.Entry.FromStageID)
	assert.Equal(t, "qualifiedtobuy", tr.Entry.ToStageID)
	assert.Equal(t, 7, tr.Entry.DaysInPreviousStage)
	assert.Equal(t, 2, tr.StagesVisited)
	assert.Equal(t, now, tr.Entry.CreatedAt)
}

func TestPlan_AlreadyRecordedTransitionIsNotDuplicated(t *testing.T) {
	// A prior run appended the entry but failed before persisting the
	// deal, so the deal still carries the stale stage.
	deal := &model.Deal{StageID: "appointmentscheduled", StagesVisited: 1}
	latest := &model.StageEntry{
		FromStageID: "appointmentscheduled",
		ToStageID:   "qualifiedtobuy",
		CreatedAt:   now.AddDate(0, 0, -1),
	}
	assert.Nil(t, Plan(deal, "qualifiedtobuy", latest, now))
}

func TestPlan_DwellTimeNeverNegative(t *testing.T) {
	deal := &model.Deal{StageID: "a", StagesVisited: 1}
	// History entry from the future, e.g. clock skew between hosts.
	latest := &model.StageEntry{ToStageID: "a", CreatedAt: now.Add(2 * time.Hour)}

	tr := Plan(deal, "b", latest, now)
	require.NotNil(t, tr)
	assert.Equal(t, 0, tr.Entry.DaysInPreviousStage)
}

func TestPlan_ChangeWithoutHistory(t *testing.T) {
	// A deal persisted before history tracking existed has a stage but
	// no entries; dwell time is unknowable and reported as zero.
	deal := &model.Deal{StageID: "a", StagesVisited: 1}

	tr := Plan(deal, "b", nil, now)
	require.NotNil(t, tr)
	assert.Equal(t, "a", tr.Entry.FromStageID)
	assert.Equal(t, 0, tr.Entry.DaysInPreviousStage)
	assert.Equal(t, 2, tr.StagesVisited)
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 3, DaysBetween(now.AddDate(0, 0, -3), now))
	assert.Equal(t, 0, DaysBetween(now, now))
	assert.Equal(t, 0, DaysBetween(now.Add(time.Hour), now))
	// Partial days floor.
	assert.Equal(t, 2, DaysBetween(now.Add(-52*time.Hour), now))
}
