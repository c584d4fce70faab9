package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/careeros/careeros-back/internal/worker"
)

type interviewPrepInput struct {
	TargetRole string   `json:"targetRole"`
	Industry   string   `json:"industry,omitempty"`
	FocusAreas []string `json:"focusAreas,omitempty"`
}

type interviewQuestion struct {
	Category string `json:"category"`
	Question string `json:"question"`
}

type interviewPrepResult struct {
	Questions []interviewQuestion `json:"questions"`
	Tips      []string            `json:"tips"`
}

// PrepareInterview assembles a question set and preparation tips for the
// target role.
func PrepareInterview(
	ctx context.Context,
	payload json.RawMessage,
	progress worker.ProgressFunc,
) (json.RawMessage, error) {
	var input interviewPrepInput
	if err := json.Unmarshal(payload, &input); err != nil {
		return nil, fmt.Errorf("decode interview prep payload: %w", err)
	}
	if input.TargetRole == "" {
		return nil, fmt.Errorf("targetRole is required")
	}

	progress(15, "profiling target role")
	keywords := roleKeywords(input.TargetRole, input.Industry)

	progress(55, "assembling question set")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	questions := []interviewQuestion{
		{Category: "behavioral", Question: fmt.Sprintf("Tell me about a time you took ownership of a problem outside your %s responsibilities.", input.TargetRole)},
		{Category: "behavioral", Question: "Describe a disagreement with a teammate and how you resolved it."},
	}
	for _, keyword := range keywords[:min(3, len(keywords))] {
		questions = append(questions, interviewQuestion{
			Category: "technical",
			Question: fmt.Sprintf("How have you applied %s in a recent project, and what would you do differently?", keyword),
		})
	}
	for _, area := range input.FocusAreas {
		questions = append(questions, interviewQuestion{
			Category: "focus",
			Question: fmt.Sprintf("Walk me through your depth in %s.", area),
		})
	}

	progress(95, "writing preparation tips")
	tips := []string{
		"Answer behavioral questions with a situation, action and measurable outcome",
		fmt.Sprintf("Prepare two stories that show %s in practice", keywords[0]),
		"Close with questions about the team's current challenges",
	}

	return json.Marshal(interviewPrepResult{Questions: questions, Tips: tips})
}
