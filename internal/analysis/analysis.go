// Package analysis implements the long-running career-analysis handlers
// executed by the worker pool. The external AI collaborator is out of
// scope; each handler produces a deterministic local result honoring the
// same input/output contract, so the queue pipeline is fully exercisable.
package analysis

import (
	"github.com/careeros/careeros-back/internal/domain"
	"github.com/careeros/careeros-back/internal/worker"
)

// Job types, one handler family per queue.
const (
	TypeResumeGeneration   = "resume-generation"
	TypeResumeOptimization = "resume-optimization"
	TypeSkillGapAnalysis   = "skill-gap-analysis"
	TypeCareerInsights     = "career-insights"
	TypeInterviewPrep      = "interview-prep"
)

// QueueFor maps a job type to the queue its handlers are registered on.
var QueueFor = map[string]domain.QueueName{
	TypeResumeGeneration:   domain.QueueResumeGeneration,
	TypeResumeOptimization: domain.QueueResumeOptimization,
	TypeSkillGapAnalysis:   domain.QueueSkillGapAnalysis,
	TypeCareerInsights:     domain.QueueCareerInsights,
	TypeInterviewPrep:      domain.QueueInterviewPrep,
}

// Register wires every analysis handler into the worker mux.
func Register(mux *worker.Mux) {
	mux.Handle(TypeResumeGeneration, GenerateResume)
	mux.Handle(TypeResumeOptimization, OptimizeResume)
	mux.Handle(TypeSkillGapAnalysis, AnalyzeSkillGap)
	mux.Handle(TypeCareerInsights, AnalyzeCareerInsights)
	mux.Handle(TypeInterviewPrep, PrepareInterview)
}
