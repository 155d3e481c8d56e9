package service

import (
	"github.com/mediscan/analysis-server/internal/domain"
)

// RiskCorrector reconciles a statistical risk prediction with the
// per-parameter clinical breakdown. A model trained on a handful of features
// can understate severity when many individual values are out of range, so a
// deterministic override ladder gets the final word.
type RiskCorrector struct {
	rules []correctionRule
}

// findingCounts summarizes a breakdown for the override rules.
type findingCounts struct {
	abnormal   int
	borderline int
	urgent     int
	soon       int
	total      int
}

// correctionRule is one rung of the override ladder. Rules are evaluated in
// order and the first match wins; each rung checks a stricter condition than
// the one below it, so the set is mutually exclusive by construction.
type correctionRule struct {
	matches func(findingCounts) bool
	apply   func(findingCounts, domain.RiskAssessment) domain.RiskAssessment
}

// NewRiskCorrector builds the override ladder. The rung order is load-bearing;
// do not reorder.
func NewRiskCorrector() *RiskCorrector {
	return &RiskCorrector{rules: []correctionRule{
		{
			matches: func(c findingCounts) bool {
				return c.urgent > 0 || c.abnormal >= 3
			},
			apply: func(c findingCounts, _ domain.RiskAssessment) domain.RiskAssessment {
				return assessment(domain.RiskHigh, 70, 70+5*c.abnormal+10*c.urgent)
			},
		},
		{
			matches: func(c findingCounts) bool {
				// The ratio branch needs a non-empty breakdown to avoid a
				// zero division; an empty breakdown falls through to the
				// absolute-count rungs below.
				return c.soon > 0 || c.abnormal >= 2 ||
					(c.total > 0 && float64(c.abnormal)/float64(c.total) >= 0.5)
			},
			apply: func(c findingCounts, _ domain.RiskAssessment) domain.RiskAssessment {
				return assessment(domain.RiskModerate, 45, 45+5*c.abnormal+5*c.soon)
			},
		},
		{
			matches: func(c findingCounts) bool {
				return c.abnormal >= 1 || c.borderline >= 2
			},
			apply: func(c findingCounts, _ domain.RiskAssessment) domain.RiskAssessment {
				return assessment(domain.RiskModerate, 40, 40+3*c.abnormal+2*c.borderline)
			},
		},
		{
			matches: func(c findingCounts) bool {
				return c.borderline >= 1
			},
			apply: func(c findingCounts, _ domain.RiskAssessment) domain.RiskAssessment {
				return assessment(domain.RiskLow, 25, 25+2*c.borderline)
			},
		},
		{
			// No abnormal or borderline findings: the statistical prediction
			// stands unchanged.
			matches: func(findingCounts) bool { return true },
			apply: func(_ findingCounts, raw domain.RiskAssessment) domain.RiskAssessment {
				return raw
			},
		},
	}}
}

// CorrectRisk computes the final risk assessment from the breakdown, the
// specialist referrals and the raw statistical prediction. It is pure
// arithmetic over already-validated inputs and has no error path.
func (rc *RiskCorrector) CorrectRisk(
	breakdown []domain.LabValueBreakdownEntry,
	referrals []domain.SpecialistReferral,
	raw domain.RiskAssessment,
) domain.RiskAssessment {
	counts := countFindings(breakdown, referrals)

	for _, rule := range rc.rules {
		if rule.matches(counts) {
			corrected := rule.apply(counts, raw)
			corrected.Score = clampScore(corrected.Score)
			return corrected
		}
	}

	// Unreachable: the last rung always matches.
	raw.Score = clampScore(raw.Score)
	return raw
}

func countFindings(breakdown []domain.LabValueBreakdownEntry, referrals []domain.SpecialistReferral) findingCounts {
	counts := findingCounts{total: len(breakdown)}
	for _, entry := range breakdown {
		switch entry.Status {
		case domain.StatusAbnormal:
			counts.abnormal++
		case domain.StatusBorderline:
			counts.borderline++
		}
	}
	for _, referral := range referrals {
		switch referral.Urgency {
		case domain.UrgencyUrgent:
			counts.urgent++
		case domain.UrgencySoon:
			counts.soon++
		}
	}
	return counts
}

func assessment(level domain.RiskLevel, floor, computed int) domain.RiskAssessment {
	score := computed
	if score < floor {
		score = floor
	}
	return domain.RiskAssessment{Level: level, Score: score}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
