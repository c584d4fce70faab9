package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/careeros/careeros-back/internal/worker"
)

type resumeGenerationInput struct {
	FullName    string            `json:"fullName"`
	TargetRole  string            `json:"targetRole"`
	Industry    string            `json:"industry,omitempty"`
	Skills      []string          `json:"skills,omitempty"`
	Experiences []experienceInput `json:"experiences,omitempty"`
}

type experienceInput struct {
	Title      string   `json:"title"`
	Company    string   `json:"company"`
	Highlights []string `json:"highlights,omitempty"`
}

type resumeSection struct {
	Heading string   `json:"heading"`
	Bullets []string `json:"bullets"`
}

type resumeGenerationResult struct {
	Summary     string          `json:"summary"`
	Sections    []resumeSection `json:"sections"`
	ATSKeywords []string        `json:"atsKeywords"`
}

// GenerateResume builds a structured resume draft from the user's profile
// data, targeted at a role.
func GenerateResume(
	ctx context.Context,
	payload json.RawMessage,
	progress worker.ProgressFunc,
) (json.RawMessage, error) {
	var input resumeGenerationInput
	if err := json.Unmarshal(payload, &input); err != nil {
		return nil, fmt.Errorf("decode resume generation payload: %w", err)
	}
	if input.FullName == "" {
		return nil, fmt.Errorf("fullName is required")
	}
	if input.TargetRole == "" {
		return nil, fmt.Errorf("targetRole is required")
	}

	progress(10, "structuring profile")
	keywords := roleKeywords(input.TargetRole, input.Industry)

	progress(45, "drafting sections")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sections := make([]resumeSection, 0, len(input.Experiences)+1)
	for _, experience := range input.Experiences {
		bullets := experience.Highlights
		if len(bullets) == 0 {
			bullets = []string{fmt.Sprintf("Delivered results as %s at %s", experience.Title, experience.Company)}
		}
		sections = append(sections, resumeSection{
			Heading: fmt.Sprintf("%s, %s", experience.Title, experience.Company),
			Bullets: bullets,
		})
	}

	skills := input.Skills
	for _, keyword := range keywords {
		if !containsAnyFold(skills, keyword) {
			skills = append(skills, keyword)
		}
	}
	sections = append(sections, resumeSection{Heading: "Skills", Bullets: skills})

	progress(90, "finalizing draft")
	result := resumeGenerationResult{
		Summary: fmt.Sprintf(
			"%s is a %s focused on %s, bringing %s to %s.",
			input.FullName, input.TargetRole, keywords[0],
			strings.Join(keywords[1:min(3, len(keywords))], " and "),
			industryOrDefault(input.Industry),
		),
		Sections:    sections,
		ATSKeywords: keywords,
	}
	return json.Marshal(result)
}

func containsAnyFold(haystack []string, needle string) bool {
	for _, value := range haystack {
		if strings.EqualFold(value, needle) {
			return true
		}
	}
	return false
}
