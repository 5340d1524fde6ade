// Package watchdog implements the periodic project-health analyzer (C6):
// it scores motivation and project health from the latest signals, derives
// a risk level per project, keeps a deterministic strategy-proposal table
// current, and hands off to the HITL Coordinator's requestApproval for any
// project whose risk has crossed above Safe.
package watchdog

import "time"

// RiskLevel is the three-tier project risk classification.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "Safe"
	RiskWarning  RiskLevel = "Warning"
	RiskCritical RiskLevel = "Critical"
)

// PlanType enumerates the three deterministic strategy proposals every
// project always carries.
type PlanType string

const (
	PlanA PlanType = "Plan_A"
	PlanB PlanType = "Plan_B"
	PlanC PlanType = "Plan_C"
)

// JobStatus mirrors watchdog_jobs.status.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// User is one row of watchdog_users -- a signal-source input, not a
// coordinator entity.
type User struct {
	UserID    string `db:"user_id"`
	Name      string `db:"name"`
	Role      string `db:"role"`
	IsManager bool   `db:"is_manager"`
}

// Project is one row of watchdog_projects.
type Project struct {
	ProjectID   string  `db:"project_id"`
	ProjectName string  `db:"project_name"`
	ManagerID   *string `db:"manager_id"`
}

// Assignment is one row of watchdog_assignments.
type Assignment struct {
	AssignmentID   int64   `db:"assignment_id"`
	UserID         string  `db:"user_id"`
	ProjectID      string  `db:"project_id"`
	AllocationRate float64 `db:"allocation_rate"`
}

// Report is one row of watchdog_reports.
type Report struct {
	ReportID      int64     `db:"report_id"`
	UserID        string    `db:"user_id"`
	ProjectID     string    `db:"project_id"`
	ReportingDate time.Time `db:"reporting_date"`
	ContentText   string    `db:"content_text"`
}

// ProjectHealth is the scored outcome for one project in a single run.
type ProjectHealth struct {
	ProjectID       string
	HealthScore     int
	RiskLevel       RiskLevel
	VarianceScore   float64
	ManagerGapScore float64
}

// StrategyProposal is one row of strategy_proposals.
type StrategyProposal struct {
	ProposalID            int64  `db:"proposal_id"`
	ProjectID             string `db:"project_id"`
	PlanType              string `db:"plan_type"`
	IsRecommended         bool   `db:"is_recommended"`
	Description           string `db:"description"`
	PredictedFutureImpact string `db:"predicted_future_impact"`
}

// RunSummary is the result of one watchdog cycle.
type RunSummary struct {
	JobID          string
	Summary        string
	ActionsCreated int
	Alerts         []Alert
}

// Alert is one project crossing above Safe during a run, recorded in
// watchdog_alerts.
type Alert struct {
	ProjectID   string
	RiskLevel   RiskLevel
	HealthScore int
}
