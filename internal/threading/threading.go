// Package threading infers deal-contact roles from job titles and
// derives the multi-threading score.
package threading

import (
	"strings"

	"github.com/zerochurn/success-sync/internal/model"
)

var (
	executiveTitles = []string{
		"ceo", "cto", "cfo", "coo", "cro",
		"chief", "founder", "president", "owner",
	}
	decisionTitles   = []string{"vp", "vice president", "director", "head of"}
	influencerTitles = []string{"manager", "lead"}
)

// InferRole classifies a contact from job-title keywords. Executive
// titles win over VP/director, which win over manager/lead; anything
// else is a plain user. The champion role is never inferred from a
// title, it is set by explicit designation only.
func InferRole(title string) model.ContactRole {
	t := strings.ToLower(title)
	vice := strings.Contains(t, "vice president")
	for _, kw := range executiveTitles {
		if kw == "president" && vice {
			continue
		}
		if strings.Contains(t, kw) {
			return model.RoleExecutiveSponsor
		}
	}
	for _, kw := range decisionTitles {
		if strings.Contains(t, kw) {
			return model.RoleDecisionMaker
		}
	}
	for _, kw := range influencerTitles {
		if strings.Contains(t, kw) {
			return model.RoleInfluencer
		}
	}
	return model.RoleUser
}

// Score derives the 0-100 multi-threading score: breadth credit for up
// to three contacts beyond the first, then depth credit for seniority
// mix. Presence of each senior role counts once, regardless of how many
// contacts hold it.
func Score(contacts []model.DealContact) int {
	if len(contacts) == 0 {
		return 0
	}

	score := 20
	extra := len(contacts) - 1
	if extra > 3 {
		extra = 3
	}
	score += extra * 20

	var hasChampion, hasDecisionMaker, hasSponsor bool
	for _, c := range contacts {
		switch c.Role {
		case model.RoleChampion:
			hasChampion = true
		case model.RoleDecisionMaker:
			hasDecisionMaker = true
		case model.RoleExecutiveSponsor:
			hasSponsor = true
		}
	}
	if hasChampion {
		score += 10
	}
	if hasDecisionMaker {
		score += 10
	}
	if hasSponsor {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}
