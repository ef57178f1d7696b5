package agency

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/integrail/persona-lab/pkg/llm"
)

type Role string

const (
	RoleBranding   Role = "branding"
	RoleMarketing  Role = "marketing"
	RoleProduct    Role = "product"
	RoleTrends     Role = "trends"
	RoleSupervisor Role = "supervisor"
)

// StepFailure records a pipeline step that fell back to a placeholder.
type StepFailure struct {
	Step     string        `json:"step" yaml:"step"`
	Kind     llm.ErrorKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Attempts int           `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Message  string        `json:"message" yaml:"message"`
}

func newStepFailure(step string, err error) StepFailure {
	res := StepFailure{Step: step, Message: err.Error()}
	if f, ok := llm.AsFailure(err); ok {
		res.Kind = f.Kind
		res.Attempts = f.Attempts
	}
	return res
}

// Analysis is the outcome of a pipeline run. It is always complete: failed steps hold
// placeholders and are listed in Failures.
type Analysis struct {
	ID          string              `json:"id" yaml:"id"`
	Timestamp   time.Time           `json:"timestamp" yaml:"timestamp"`
	Model       string              `json:"model" yaml:"model"`
	Personas    []string            `json:"personas" yaml:"personas"`
	Product     string              `json:"product" yaml:"product"`
	Reactions   []string            `json:"persona_reactions" yaml:"persona_reactions"`
	Trends      []string            `json:"trends,omitempty" yaml:"trends,omitempty"`
	RoleOutputs map[Role]RoleOutput `json:"role_outputs" yaml:"role_outputs"`
	Report      string              `json:"final_report" yaml:"final_report"`
	Failures    []StepFailure       `json:"failures,omitempty" yaml:"failures,omitempty"`
	Duration    time.Duration       `json:"duration" yaml:"duration"`
}

// Err reports every failed step as one error, nil when all steps succeeded.
func (a *Analysis) Err() error {
	if len(a.Failures) == 0 {
		return nil
	}
	msgs := lo.Map(a.Failures, func(f StepFailure, _ int) string {
		return fmt.Sprintf("%s: %s", f.Step, f.Message)
	})
	return errors.Errorf("%d step(s) failed: %s", len(a.Failures), strings.Join(msgs, "; "))
}

func fallbackReport(outputs map[Role]RoleOutput, err error) string {
	return strings.TrimSpace(fmt.Sprintf(`
# Creative Agency Analysis Report

## Executive Summary
An error occurred during analysis synthesis: %s

## Error Details
- Branding Analysis: %v
- Marketing Analysis: %v
- Product Analysis: %v
- Trends Analysis: %v

Please check the system logs and try again.`,
		err.Error(), outputs[RoleBranding], outputs[RoleMarketing], outputs[RoleProduct], outputs[RoleTrends]))
}
