package domain

import "fmt"

// Status represents the lifecycle state of a run or validation pipeline
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further state changes are possible
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// canTransition returns true if a state change from -> to is legal
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	}
	return false
}

// RunType selects which phase chain a run executes
type RunType string

const (
	RunTypeRegular     RunType = "regular"
	RunTypePlan        RunType = "plan"
	RunTypePullRequest RunType = "pull-request"
)

// ParseRunType validates a run type string; empty defaults to regular
func ParseRunType(s string) (RunType, error) {
	switch RunType(s) {
	case RunTypeRegular, RunTypePlan, RunTypePullRequest:
		return RunType(s), nil
	case "":
		return RunTypeRegular, nil
	}
	return "", fmt.Errorf("invalid run type: %q", s)
}

// LogLevel is the severity of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// StepName identifies one of the fixed validation pipeline steps
type StepName string

const (
	StepSnapshotCreation StepName = "snapshot-creation"
	StepCodebaseClone    StepName = "codebase-clone"
	StepDeployment       StepName = "deployment"
	StepHealthCheck      StepName = "health-check"
	StepWebEvaluation    StepName = "web-evaluation"
	StepCleanup          StepName = "cleanup"
)

// StepOrder is the fixed execution order for every validation pipeline.
// Cleanup is last and runs regardless of prior failures.
var StepOrder = []StepName{
	StepSnapshotCreation,
	StepCodebaseClone,
	StepDeployment,
	StepHealthCheck,
	StepWebEvaluation,
	StepCleanup,
}

// StepStatus represents the execution state of a single validation step
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
)
