package watchdog

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Store is the watchdog's own persistence surface: the signal-source
// tables it reads, and the history/proposal/analysis/alert/job tables it
// writes. Kept as one interface (unlike action/checkpoint's split) since
// every method here is owned exclusively by this package.
type Store interface {
	ListUsers(ctx context.Context) ([]User, error)
	ListProjects(ctx context.Context) ([]Project, error)
	ListAssignments(ctx context.Context) ([]Assignment, error)
	LatestReportByUser(ctx context.Context) (map[string]string, error)
	ReportTextByProject(ctx context.Context) (map[string]string, error)

	// RecordUserMotivation inserts today's user_motivation_history row,
	// a no-op if one already exists for (user_id, today).
	RecordUserMotivation(ctx context.Context, userID string, score int, sentiment float64, summary string, day time.Time) error

	// RecordProjectSnapshot inserts today's watchdog_snapshots row, a
	// no-op if one already exists for (project_id, today).
	RecordProjectSnapshot(ctx context.Context, projectID string, health ProjectHealth, avgMotivation int, avgSentiment float64, day time.Time) error

	// EnsureAssignmentAnalysis inserts an assignment_analyses row if one
	// is missing for (user_id, project_id).
	EnsureAssignmentAnalysis(ctx context.Context, userID, projectID, patternID, decision string, detail map[string]any) error

	// HasAssignmentAnalysis reports whether (user_id, project_id) already
	// has a row.
	HasAssignmentAnalysis(ctx context.Context, userID, projectID string) (bool, error)

	// EnsureStrategyProposals upserts the three deterministic plans for
	// projectID and marks the recommended one, leaving any previously
	// LLM-authored description untouched for plan types already present.
	EnsureStrategyProposals(ctx context.Context, projectID string, recommended PlanType) error

	// SelectRecommendedProposal returns the proposal matching recommended,
	// or the first is_recommended=true row, or the first row for the
	// project.
	SelectRecommendedProposal(ctx context.Context, projectID string, recommended PlanType) (*StrategyProposal, error)

	// HasOpenAction reports whether projectID already has an
	// autonomous_actions row in drafted/approval_pending status linked
	// through a strategy_proposals proposal_id.
	HasOpenAction(ctx context.Context, projectID string) (bool, error)

	// CreateJob inserts a new watchdog_jobs row in "queued" status, moves it
	// to "running" with its started_at set, and returns its job_id.
	CreateJob(ctx context.Context) (string, error)

	// FinishJob transitions a job to succeeded/failed with a summary or
	// error message.
	FinishJob(ctx context.Context, jobID string, status JobStatus, summary, errMsg string) error

	// RecordAlert inserts one watchdog_alerts row for jobID.
	RecordAlert(ctx context.Context, jobID string, alert Alert) error
}

type store struct {
	db *sqlx.DB
}

// NewStore builds a Postgres-backed watchdog Store.
func NewStore(db *sqlx.DB) Store {
	return &store{db: db}
}

func (s *store) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	const q = `SELECT user_id, name, role, is_manager FROM watchdog_users ORDER BY user_id`
	if err := s.db.SelectContext(ctx, &users, q); err != nil {
		return nil, errors.Wrap(err, "failed to list watchdog users")
	}
	return users, nil
}

func (s *store) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	const q = `SELECT project_id, project_name, manager_id FROM watchdog_projects ORDER BY project_id`
	if err := s.db.SelectContext(ctx, &projects, q); err != nil {
		return nil, errors.Wrap(err, "failed to list watchdog projects")
	}
	return projects, nil
}

func (s *store) ListAssignments(ctx context.Context) ([]Assignment, error) {
	var assignments []Assignment
	const q = `SELECT assignment_id, user_id, project_id, allocation_rate FROM watchdog_assignments ORDER BY assignment_id`
	if err := s.db.SelectContext(ctx, &assignments, q); err != nil {
		return nil, errors.Wrap(err, "failed to list watchdog assignments")
	}
	return assignments, nil
}

func (s *store) LatestReportByUser(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT DISTINCT ON (user_id) user_id, content_text
		FROM watchdog_reports
		ORDER BY user_id, reporting_date DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load latest reports by user")
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var userID, text string
		if err := rows.Scan(&userID, &text); err != nil {
			return nil, errors.Wrap(err, "failed to scan latest report row")
		}
		out[userID] = text
	}
	return out, rows.Err()
}

func (s *store) ReportTextByProject(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT project_id, content_text FROM watchdog_reports ORDER BY reporting_date DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load reports by project")
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var projectID, text string
		if err := rows.Scan(&projectID, &text); err != nil {
			return nil, errors.Wrap(err, "failed to scan project report row")
		}
		out[projectID] += " " + text
	}
	return out, rows.Err()
}

func (s *store) RecordUserMotivation(ctx context.Context, userID string, score int, sentiment float64, summary string, day time.Time) error {
	const q = `
		INSERT INTO user_motivation_history (user_id, recorded_at, motivation_score, sentiment_score, summary)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, recorded_at) DO NOTHING`
	_, err := s.db.ExecContext(ctx, q, userID, day, score, sentiment, summary)
	if err != nil {
		return errors.Wrap(err, "failed to record user motivation")
	}
	return nil
}

func (s *store) RecordProjectSnapshot(ctx context.Context, projectID string, health ProjectHealth, avgMotivation int, avgSentiment float64, day time.Time) error {
	const q = `
		INSERT INTO watchdog_snapshots
			(project_id, snapshot_date, motivation_score, motivation_sentiment, health_score, risk_level, variance_score, manager_gap_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project_id, snapshot_date) DO NOTHING`
	_, err := s.db.ExecContext(ctx, q, projectID, day, avgMotivation, avgSentiment, health.HealthScore, health.RiskLevel, health.VarianceScore, health.ManagerGapScore)
	if err != nil {
		return errors.Wrap(err, "failed to record project snapshot")
	}
	return nil
}

func (s *store) HasAssignmentAnalysis(ctx context.Context, userID, projectID string) (bool, error) {
	var exists bool
	const q = `SELECT EXISTS(SELECT 1 FROM assignment_analyses WHERE user_id = $1 AND project_id = $2)`
	if err := s.db.GetContext(ctx, &exists, q, userID, projectID); err != nil {
		return false, errors.Wrap(err, "failed to check assignment analysis")
	}
	return exists, nil
}

func (s *store) EnsureAssignmentAnalysis(ctx context.Context, userID, projectID, patternID, decision string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return errors.Wrap(err, "failed to marshal analysis detail")
	}
	const q = `
		INSERT INTO assignment_analyses (user_id, project_id, pattern_id, final_decision, detail)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, project_id) DO NOTHING`
	_, err = s.db.ExecContext(ctx, q, userID, projectID, patternID, decision, detailJSON)
	if err != nil {
		return errors.Wrap(err, "failed to record assignment analysis")
	}
	return nil
}

func (s *store) EnsureStrategyProposals(ctx context.Context, projectID string, recommended PlanType) error {
	for planType, plan := range defaultPlans() {
		const insertQ = `
			INSERT INTO strategy_proposals (project_id, plan_type, is_recommended, description, predicted_future_impact)
			VALUES ($1, $2, FALSE, $3, $4)
			ON CONFLICT (project_id, plan_type) DO NOTHING`
		if _, err := s.db.ExecContext(ctx, insertQ, projectID, string(planType), plan.Description, plan.Impact); err != nil {
			return errors.Wrap(err, "failed to insert strategy proposal")
		}
	}

	const updateQ = `
		UPDATE strategy_proposals
		SET is_recommended = (plan_type = $2)
		WHERE project_id = $1`
	if _, err := s.db.ExecContext(ctx, updateQ, projectID, string(recommended)); err != nil {
		return errors.Wrap(err, "failed to mark recommended strategy proposal")
	}
	return nil
}

func (s *store) SelectRecommendedProposal(ctx context.Context, projectID string, recommended PlanType) (*StrategyProposal, error) {
	var proposal StrategyProposal
	const byPlanType = `
		SELECT proposal_id, project_id, plan_type, is_recommended, description, predicted_future_impact
		FROM strategy_proposals WHERE project_id = $1 AND plan_type = $2
		ORDER BY proposal_id LIMIT 1`
	err := s.db.GetContext(ctx, &proposal, byPlanType, projectID, string(recommended))
	if err == nil {
		return &proposal, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, "failed to select proposal by plan type")
	}

	const byRecommendedFlag = `
		SELECT proposal_id, project_id, plan_type, is_recommended, description, predicted_future_impact
		FROM strategy_proposals WHERE project_id = $1 AND is_recommended = TRUE
		ORDER BY proposal_id LIMIT 1`
	err = s.db.GetContext(ctx, &proposal, byRecommendedFlag, projectID)
	if err == nil {
		return &proposal, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, "failed to select recommended proposal")
	}

	const anyProposal = `
		SELECT proposal_id, project_id, plan_type, is_recommended, description, predicted_future_impact
		FROM strategy_proposals WHERE project_id = $1
		ORDER BY proposal_id LIMIT 1`
	err = s.db.GetContext(ctx, &proposal, anyProposal, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to select any proposal")
	}
	return &proposal, nil
}

func (s *store) HasOpenAction(ctx context.Context, projectID string) (bool, error) {
	var exists bool
	const q = `
		SELECT EXISTS(
			SELECT 1
			FROM autonomous_actions aa
			JOIN strategy_proposals sp ON sp.proposal_id::text = aa.proposal_id
			WHERE sp.project_id = $1
			  AND aa.status IN ('drafted', 'approval_pending')
		)`
	if err := s.db.GetContext(ctx, &exists, q, projectID); err != nil {
		return false, errors.Wrap(err, "failed to check open watchdog action")
	}
	return exists, nil
}

func (s *store) CreateJob(ctx context.Context) (string, error) {
	jobID := "wdjob-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	const insertQ = `
		INSERT INTO watchdog_jobs (job_id, status)
		VALUES ($1, 'queued')`
	if _, err := s.db.ExecContext(ctx, insertQ, jobID); err != nil {
		return "", errors.Wrap(err, "failed to create watchdog job")
	}
	const startQ = `
		UPDATE watchdog_jobs
		SET status = 'running', started_at = now()
		WHERE job_id = $1`
	if _, err := s.db.ExecContext(ctx, startQ, jobID); err != nil {
		return "", errors.Wrap(err, "failed to start watchdog job")
	}
	return jobID, nil
}

func (s *store) FinishJob(ctx context.Context, jobID string, status JobStatus, summary, errMsg string) error {
	const q = `
		UPDATE watchdog_jobs
		SET status = $1, summary = $2, error = $3, finished_at = now()
		WHERE job_id = $4`
	_, err := s.db.ExecContext(ctx, q, status, nullable(summary), nullable(errMsg), jobID)
	if err != nil {
		return errors.Wrap(err, "failed to finish watchdog job")
	}
	return nil
}

func (s *store) RecordAlert(ctx context.Context, jobID string, alert Alert) error {
	const q = `
		INSERT INTO watchdog_alerts (job_id, alert_level, message)
		VALUES ($1, $2, $3)`
	message := alert.ProjectID + " risk " + string(alert.RiskLevel)
	_, err := s.db.ExecContext(ctx, q, jobID, string(alert.RiskLevel), message)
	if err != nil {
		return errors.Wrap(err, "failed to record watchdog alert")
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
