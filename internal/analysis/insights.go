package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/careeros/careeros-back/internal/worker"
)

type careerInsightsInput struct {
	Domain          string `json:"domain"`
	CurrentRole     string `json:"currentRole,omitempty"`
	ExperienceLevel string `json:"experienceLevel,omitempty"` // Entry, Mid, Senior, Lead
	Location        string `json:"location,omitempty"`
}

type salaryRange struct {
	Min      int    `json:"min"`
	Max      int    `json:"max"`
	Currency string `json:"currency"`
}

type careerInsightsResult struct {
	MarketOutlook  string      `json:"marketOutlook"`
	TrendingSkills []string    `json:"trendingSkills"`
	SalaryRange    salaryRange `json:"salaryRange"`
	SuggestedRoles []string    `json:"suggestedRoles"`
}

// AnalyzeCareerInsights produces a market snapshot for a professional
// domain and experience level.
func AnalyzeCareerInsights(
	ctx context.Context,
	payload json.RawMessage,
	progress worker.ProgressFunc,
) (json.RawMessage, error) {
	var input careerInsightsInput
	if err := json.Unmarshal(payload, &input); err != nil {
		return nil, fmt.Errorf("decode career insights payload: %w", err)
	}
	if input.Domain == "" {
		return nil, fmt.Errorf("domain is required")
	}

	progress(15, "fetching market data")
	base, trending, roles := domainProfile(input.Domain)

	progress(40, "generating career insights")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	multiplier := 1.0
	switch input.ExperienceLevel {
	case "Mid":
		multiplier = 1.4
	case "Senior":
		multiplier = 1.9
	case "Lead":
		multiplier = 2.3
	}

	progress(95, "preparing insights")
	outlook := fmt.Sprintf("Demand for %s professionals remains steady", input.Domain)
	if input.Location != "" {
		outlook += " in " + input.Location
	}
	outlook += "; roles emphasizing " + trending[0] + " are growing fastest."

	return json.Marshal(careerInsightsResult{
		MarketOutlook:  outlook,
		TrendingSkills: trending,
		SalaryRange: salaryRange{
			Min:      int(float64(base) * multiplier),
			Max:      int(float64(base) * multiplier * 1.35),
			Currency: "USD",
		},
		SuggestedRoles: roles,
	})
}

func domainProfile(domain string) (baseSalary int, trending []string, roles []string) {
	switch {
	case containsFold(domain, "software"), containsFold(domain, "engineering"):
		return 85000,
			[]string{"platform engineering", "AI tooling", "Go", "Kubernetes"},
			[]string{"Backend Engineer", "Platform Engineer", "Site Reliability Engineer"}
	case containsFold(domain, "data"):
		return 80000,
			[]string{"ML engineering", "dbt", "streaming pipelines", "Python"},
			[]string{"Data Engineer", "Analytics Engineer", "ML Engineer"}
	case containsFold(domain, "product"):
		return 78000,
			[]string{"product analytics", "experimentation", "AI product strategy"},
			[]string{"Product Manager", "Growth PM", "Technical PM"}
	default:
		return 60000,
			[]string{"digital literacy", "process automation", "communication"},
			[]string{"Operations Specialist", "Program Coordinator"}
	}
}
