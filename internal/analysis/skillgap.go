package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/careeros/careeros-back/internal/worker"
)

type skillGapInput struct {
	TargetRole    string   `json:"targetRole"`
	Industry      string   `json:"industry"`
	CurrentSkills []string `json:"currentSkills"`
}

type skillGapResult struct {
	MatchedSkills    []string `json:"matchedSkills"`
	MissingSkills    []string `json:"missingSkills"`
	Recommendations  []string `json:"recommendations"`
	ReadinessPercent int      `json:"readinessPercent"`
}

// AnalyzeSkillGap compares the user's current skills against the target
// role's expected profile.
func AnalyzeSkillGap(
	ctx context.Context,
	payload json.RawMessage,
	progress worker.ProgressFunc,
) (json.RawMessage, error) {
	var input skillGapInput
	if err := json.Unmarshal(payload, &input); err != nil {
		return nil, fmt.Errorf("decode skill gap payload: %w", err)
	}
	if input.TargetRole == "" {
		return nil, fmt.Errorf("targetRole is required")
	}

	progress(20, "fetching market data")
	expected := roleKeywords(input.TargetRole, input.Industry)

	progress(50, "analyzing skill gaps")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	have := make(map[string]bool, len(input.CurrentSkills))
	for _, skill := range input.CurrentSkills {
		have[strings.ToLower(strings.TrimSpace(skill))] = true
	}

	matched := make([]string, 0, len(expected))
	missing := make([]string, 0, len(expected))
	for _, skill := range expected {
		if have[strings.ToLower(skill)] {
			matched = append(matched, skill)
		} else {
			missing = append(missing, skill)
		}
	}

	progress(95, "generating recommendations")
	readiness := 0
	if len(expected) > 0 {
		readiness = (len(matched) * 100) / len(expected)
	}

	recommendations := make([]string, 0, len(missing)+1)
	for _, skill := range missing {
		recommendations = append(recommendations,
			fmt.Sprintf("Build a portfolio project demonstrating %s", skill))
	}
	if readiness >= 80 {
		recommendations = append(recommendations,
			fmt.Sprintf("Start applying for %s openings now", input.TargetRole))
	}

	return json.Marshal(skillGapResult{
		MatchedSkills:    matched,
		MissingSkills:    missing,
		Recommendations:  recommendations,
		ReadinessPercent: readiness,
	})
}
