// Package velocity detects pipeline-stage transitions and plans the
// append-only history entries that stage analytics depend on.
package velocity

import (
	"time"

	"github.com/zerochurn/success-sync/internal/model"
)

// Transition describes the history entry to append and the deal counter
// updates that go with it. History rows are never mutated or deleted
// after creation.
type Transition struct {
	Entry         model.StageEntry
	StagesVisited int
}

// Plan compares the observed stage against the persisted deal. It
// returns nil when the stage is unchanged. For a first observation the
// entry has no from-stage; for a change, days in the previous stage are
// measured from the latest history entry's timestamp to now.
func Plan(deal *model.Deal, observedStage string, latest *model.StageEntry, now time.Time) *Transition {
	if observedStage == "" {
		return nil
	}

	// A latest entry already ending at the observed stage means the
	// transition was recorded; a run that appended it but failed before
	// persisting the deal must not append it again.
	if latest != nil && latest.ToStageID == observedStage {
		return nil
	}

	if deal == nil || deal.StageID == "" {
		visited := 1
		if deal != nil && deal.StagesVisited > 0 {
			visited = deal.StagesVisited
		}
		return &Transition{
			Entry: model.StageEntry{
				ToStageID: observedStage,
				CreatedAt: now,
			},
			StagesVisited: visited,
		}
	}

	if deal.StageID == observedStage {
		return nil
	}

	days := 0
	if latest != nil {
		days = int(now.Sub(latest.CreatedAt).Hours() / 24)
		if days < 0 {
			days = 0
		}
	}

	return &Transition{
		Entry: model.StageEntry{
			FromStageID:         deal.StageID,
			ToStageID:           observedStage,
			DaysInPreviousStage: days,
			CreatedAt:           now,
		},
		StagesVisited: deal.StagesVisited + 1,
	}
}

// DaysBetween returns whole days from a to b, floored at zero.
func DaysBetween(a, b time.Time) int {
	d := int(b.Sub(a).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
