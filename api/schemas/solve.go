// File: api/schemas/solve.go
package schemas

import "time"

// SolveStage names one phase of the challenge-solve pipeline.
type SolveStage string

const (
	StageDetection  SolveStage = "detection"
	StageSolving    SolveStage = "solving"
	StageSubmission SolveStage = "submission"
	StageCompleted  SolveStage = "completed"
)

// ChallengeDetection is the detector collaborator's verdict.
type ChallengeDetection struct {
	Detected   bool
	Type       string
	Screenshot []byte
}

// SolverAnswer is the best-confidence answer returned by the external solver.
// Any fan-out across solving strategies is the solver's own concern.
type SolverAnswer struct {
	Answer     string
	Confidence float64
}

// SubmitOutcome is the submitter collaborator's report.
type SubmitOutcome struct {
	Success bool
	Error   string
}

// AutoSolveResult aggregates one end-to-end solve attempt. It is produced once
// per SolveChallenge call and never mutated after return.
type AutoSolveResult struct {
	Success           bool          `json:"success"`
	Stage             SolveStage    `json:"stage"`
	ChallengeType     string        `json:"challenge_type,omitempty"`
	Detected          bool          `json:"detected"`
	DetectionDuration time.Duration `json:"detection_duration"`
	SolveDuration     time.Duration `json:"solve_duration"`
	SubmitDuration    time.Duration `json:"submit_duration"`
	SubmissionSuccess bool          `json:"submission_success"`
	FallbackUsed      bool          `json:"fallback_used"`
	Errors            []string      `json:"errors,omitempty"`
	SessionID         string        `json:"session_id,omitempty"`
	Timestamp         time.Time     `json:"timestamp"`
}
