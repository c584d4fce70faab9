package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/careeros/careeros-back/internal/worker"
)

type resumeOptimizationInput struct {
	ResumeText string `json:"resumeText"`
	TargetRole string `json:"targetRole"`
	Industry   string `json:"industry,omitempty"`
}

type resumeOptimizationResult struct {
	OptimizedSummary   string   `json:"optimizedSummary"`
	KeywordSuggestions []string `json:"keywordSuggestions"`
	Improvements       []string `json:"improvements"`
	ATSScore           int      `json:"atsScore"`
}

// OptimizeResume rewrites a resume summary toward a target role and scores
// keyword coverage.
func OptimizeResume(
	ctx context.Context,
	payload json.RawMessage,
	progress worker.ProgressFunc,
) (json.RawMessage, error) {
	var input resumeOptimizationInput
	if err := json.Unmarshal(payload, &input); err != nil {
		return nil, fmt.Errorf("decode resume optimization payload: %w", err)
	}
	if input.ResumeText == "" {
		return nil, fmt.Errorf("resumeText is required")
	}
	if input.TargetRole == "" {
		return nil, fmt.Errorf("targetRole is required")
	}

	progress(10, "preparing resume analysis")
	keywords := roleKeywords(input.TargetRole, input.Industry)

	progress(30, "analyzing resume")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resumeLower := strings.ToLower(input.ResumeText)
	missing := make([]string, 0, len(keywords))
	covered := 0
	for _, keyword := range keywords {
		if strings.Contains(resumeLower, strings.ToLower(keyword)) {
			covered++
		} else {
			missing = append(missing, keyword)
		}
	}

	progress(90, "finalizing results")
	score := 40
	if len(keywords) > 0 {
		score += (covered * 60) / len(keywords)
	}

	improvements := []string{
		"Lead each experience bullet with a quantified outcome",
		fmt.Sprintf("Align the professional summary with the %s role", input.TargetRole),
	}
	if len(missing) > 0 {
		improvements = append(improvements,
			fmt.Sprintf("Work these terms into relevant bullets: %s", strings.Join(missing, ", ")))
	}

	result := resumeOptimizationResult{
		OptimizedSummary: fmt.Sprintf(
			"%s candidate with demonstrated strengths in %s, positioned for impact in %s.",
			input.TargetRole, strings.Join(keywords[:min(3, len(keywords))], ", "), industryOrDefault(input.Industry),
		),
		KeywordSuggestions: keywords,
		Improvements:       improvements,
		ATSScore:           score,
	}
	return json.Marshal(result)
}

func roleKeywords(role, industry string) []string {
	base := []string{"communication", "ownership", "cross-functional collaboration"}
	switch {
	case containsFold(role, "backend"), containsFold(role, "engineer"):
		base = append([]string{"distributed systems", "API design", "observability", "CI/CD"}, base...)
	case containsFold(role, "data"):
		base = append([]string{"SQL", "data modeling", "pipelines", "statistics"}, base...)
	case containsFold(role, "product"):
		base = append([]string{"roadmap", "stakeholder alignment", "metrics", "user research"}, base...)
	}
	if industry != "" {
		base = append(base, strings.ToLower(industry)+" domain knowledge")
	}
	return base
}

func industryOrDefault(industry string) string {
	if industry == "" {
		return "a fast-moving organization"
	}
	return industry
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
