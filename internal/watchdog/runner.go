package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/saihai-hitl/coordinator/internal/action"
	"github.com/saihai-hitl/coordinator/internal/checkpoint"
	"github.com/saihai-hitl/coordinator/internal/logging"
)

// ApprovalRequester is the subset of the HITL Coordinator (C5) the
// watchdog depends on, kept narrow so a cycle can be tested without a full
// Coordinator. cmd/coordinator/main.go adapts *coordinator.Coordinator's
// RequestApproval (which returns a richer *coordinator.ApprovalResult) down
// to this shape -- the watchdog only ever needs the thread id, to tag the
// resulting checkpoint's metadata afterward.
type ApprovalRequester interface {
	RequestApproval(ctx context.Context, actionID int64, requestedBy, idempotencyKey, summary string) (threadID string, err error)
}

// Runner drives one watchdog cycle (C6): score signals, persist snapshots,
// refresh the deterministic proposal table, and request approval for any
// project whose risk has crossed above Safe.
type Runner struct {
	db          *sqlx.DB
	store       Store
	actions     action.Store
	checkpoints checkpoint.Store
	approvals   ApprovalRequester
	log         logging.Logger
	now         func() time.Time
}

// New builds a Runner.
func New(db *sqlx.DB, store Store, actions action.Store, checkpoints checkpoint.Store, approvals ApprovalRequester, log logging.Logger) *Runner {
	return &Runner{db: db, store: store, actions: actions, checkpoints: checkpoints, approvals: approvals, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Run executes one full cycle. The job row records its own
// queued/running/succeeded/failed lifecycle; a cycle failure marks the job
// failed and is returned to the caller, and the next Run starts a fresh job.
func (r *Runner) Run(ctx context.Context) (result RunSummary, err error) {
	jobID, err := r.store.CreateJob(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	summary, runErr := r.runCycle(ctx, jobID)
	if runErr != nil {
		if finishErr := r.store.FinishJob(ctx, jobID, JobFailed, "", runErr.Error()); finishErr != nil {
			r.log.Warnw("failed to record watchdog job failure", "job_id", jobID, "err", finishErr)
		}
		return RunSummary{}, runErr
	}

	for _, alert := range summary.Alerts {
		if err := r.store.RecordAlert(ctx, jobID, alert); err != nil {
			r.log.Warnw("failed to record watchdog alert", "job_id", jobID, "project_id", alert.ProjectID, "err", err)
		}
	}
	if err := r.store.FinishJob(ctx, jobID, JobSucceeded, summary.Summary, ""); err != nil {
		r.log.Warnw("failed to finish watchdog job", "job_id", jobID, "err", err)
	}
	summary.JobID = jobID
	return summary, nil
}

func (r *Runner) runCycle(ctx context.Context, jobID string) (RunSummary, error) {
	users, err := r.store.ListUsers(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	projects, err := r.store.ListProjects(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	assignments, err := r.store.ListAssignments(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	reportByUser, err := r.store.LatestReportByUser(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	reportTextByProject, err := r.store.ReportTextByProject(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	today := r.now().Truncate(24 * time.Hour)

	motivation := map[string]int{}
	sentiment := map[string]float64{}
	for _, u := range users {
		notes := reportByUser[u.UserID]
		score, sent := scoreMotivation(notes)
		motivation[u.UserID] = score
		sentiment[u.UserID] = sent
		if err := r.store.RecordUserMotivation(ctx, u.UserID, score, sent, summarizeMotivation(notes), today); err != nil {
			return RunSummary{}, err
		}
	}

	membersByProject := map[string][]string{}
	for _, a := range assignments {
		membersByProject[a.ProjectID] = append(membersByProject[a.ProjectID], a.UserID)
	}

	var alerts []Alert
	actionsCreated := 0
	for _, p := range projects {
		healthScore, risk := scoreProjectHealth(reportTextByProject[p.ProjectID])
		members := membersByProject[p.ProjectID]
		memberMotivation := make([]int, 0, len(members))
		sum, sentSum, sentN := 0, 0.0, 0
		for _, uid := range members {
			memberMotivation = append(memberMotivation, motivation[uid])
			sum += motivation[uid]
			sentSum += sentiment[uid]
			sentN++
		}
		variance := scoreVariance(memberMotivation)

		var managerMotivation *int
		if p.ManagerID != nil {
			if v, ok := motivation[*p.ManagerID]; ok {
				managerMotivation = &v
			}
		}
		managerGap := scoreManagerGap(managerMotivation, memberMotivation)

		health := ProjectHealth{ProjectID: p.ProjectID, HealthScore: healthScore, RiskLevel: risk, VarianceScore: variance, ManagerGapScore: managerGap}

		avgMotivation := 0
		if len(members) > 0 {
			avgMotivation = sum / len(members)
		}
		avgSentiment := 0.0
		if sentN > 0 {
			avgSentiment = sentSum / float64(sentN)
		}
		if err := r.store.RecordProjectSnapshot(ctx, p.ProjectID, health, avgMotivation, avgSentiment, today); err != nil {
			return RunSummary{}, err
		}

		if risk != RiskSafe {
			alerts = append(alerts, Alert{ProjectID: p.ProjectID, RiskLevel: risk, HealthScore: healthScore})
		}

		for _, uid := range members {
			has, err := r.store.HasAssignmentAnalysis(ctx, uid, p.ProjectID)
			if err != nil {
				return RunSummary{}, err
			}
			if has {
				continue
			}
			notes := reportByUser[uid]
			patternID := determinePattern(notes)
			if err := r.store.EnsureAssignmentAnalysis(ctx, uid, p.ProjectID, patternID, decisionFromPattern(patternID), map[string]any{
				"risk_hits": countHits(notes, riskWords),
			}); err != nil {
				return RunSummary{}, err
			}
		}

		recommended := recommendedPlan(healthScore)
		if err := r.store.EnsureStrategyProposals(ctx, p.ProjectID, recommended); err != nil {
			return RunSummary{}, err
		}

		if risk == RiskSafe {
			continue
		}
		hasOpen, err := r.store.HasOpenAction(ctx, p.ProjectID)
		if err != nil {
			return RunSummary{}, err
		}
		if hasOpen {
			continue
		}

		created, err := r.createWatchdogAction(ctx, p, health, reportTextByProject[p.ProjectID], recommended)
		if err != nil {
			return RunSummary{}, err
		}
		if created {
			actionsCreated++
		}
	}

	summaryText := fmt.Sprintf("watchdog updated: %d projects / %d users", len(projects), len(users))
	if actionsCreated > 0 {
		summaryText = fmt.Sprintf("watchdog created %d actions", actionsCreated)
	}
	return RunSummary{Summary: summaryText, ActionsCreated: actionsCreated, Alerts: alerts}, nil
}

// createWatchdogAction picks the recommended proposal, composes a draft,
// inserts the Action, calls requestApproval, and tags the resulting
// checkpoint with watchdog mode/project/severity.
func (r *Runner) createWatchdogAction(ctx context.Context, p Project, health ProjectHealth, projectNotes string, recommended PlanType) (bool, error) {
	proposal, err := r.store.SelectRecommendedProposal(ctx, p.ProjectID, recommended)
	if err != nil {
		return false, err
	}
	if proposal == nil {
		return false, nil
	}

	actionType := action.TypeMailDraft
	if health.RiskLevel == RiskCritical {
		actionType = action.TypeMeetingRequest
	}

	draft := buildActionDraft(p, proposal, health, projectNotes, actionType)
	proposalID := fmt.Sprintf("%d", proposal.ProposalID)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "failed to begin watchdog action transaction")
	}
	actionID, err := r.actions.Create(ctx, tx, &action.Action{
		ProposalID:   &proposalID,
		ActionType:   actionType,
		DraftContent: draft,
		Status:       action.StatusDrafted,
	})
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "failed to commit watchdog action")
	}

	threadID, err := r.approvals.RequestApproval(ctx, actionID, "watchdog", "", fmt.Sprintf("%s risk %s", p.ProjectID, health.RiskLevel))
	if err != nil {
		return false, err
	}

	if err := r.tagCheckpoint(ctx, threadID, p.ProjectID, string(health.RiskLevel)); err != nil {
		r.log.Warnw("failed to tag watchdog checkpoint", "thread_id", threadID, "err", err)
	}
	return true, nil
}

// tagCheckpoint merges {mode:"watchdog", project_id, severity} into the
// checkpoint's metadata.
func (r *Runner) tagCheckpoint(ctx context.Context, threadID, projectID, severity string) (err error) {
	tx, err := r.checkpoints.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	cp, err := r.checkpoints.LoadForUpdate(ctx, tx, threadID)
	if err != nil {
		return err
	}
	if cp == nil {
		return tx.Commit()
	}
	cp.Metadata.Mode = "watchdog"
	cp.Metadata.ProjectID = projectID
	cp.Metadata.Severity = severity
	if err = r.checkpoints.Save(ctx, tx, cp); err != nil {
		return err
	}
	return tx.Commit()
}

func buildActionDraft(p Project, proposal *StrategyProposal, health ProjectHealth, projectNotes string, actionType action.Type) string {
	lines := []string{
		fmt.Sprintf("%s / %s proposal", p.ProjectID, proposal.PlanType),
		proposal.Description,
		fmt.Sprintf("Impact: %s", proposal.PredictedFutureImpact),
		fmt.Sprintf("Risk: %s (health %d)", health.RiskLevel, health.HealthScore),
	}
	if strings.TrimSpace(projectNotes) != "" {
		lines = append(lines, "Signals: "+strings.TrimSpace(projectNotes))
	}

	payload := map[string]any{}
	switch actionType {
	case action.TypeMeetingRequest:
		payload["title"] = fmt.Sprintf("%s risk review", p.ProjectID)
		payload["attendee"] = ""
	case action.TypeMailDraft:
		payload["subject"] = fmt.Sprintf("%s status update", p.ProjectID)
		payload["body"] = proposal.Description
	}
	if payloadJSON, err := json.Marshal(payload); err == nil {
		lines = append(lines, string(payloadJSON))
	}
	return strings.Join(lines, "\n")
}

// determinePattern classifies a user's latest report into one of six
// assignment patterns: burnout/toxic take priority, then growth signals,
// then constraint/luxury keywords, defaulting to "the_savior".
func determinePattern(notes string) string {
	for _, w := range []string{"疲労", "飽き", "燃え尽き", "限界"} {
		if strings.Contains(notes, w) {
			return "burnout"
		}
	}
	for _, w := range []string{"対人トラブル", "噂", "炎上"} {
		if strings.Contains(notes, w) {
			return "toxic"
		}
	}
	for _, w := range []string{"伸びしろ", "挑戦", "育成"} {
		if strings.Contains(notes, w) {
			return "rising_star"
		}
	}
	if strings.Contains(notes, "顧問") || strings.Contains(notes, "週1") {
		return "constraint"
	}
	if strings.Contains(notes, "高単価") || strings.Contains(strings.ToLower(notes), "高額") {
		return "luxury"
	}
	return "the_savior"
}

// decisionFromPattern maps an assignment pattern to a staffing verdict.
func decisionFromPattern(patternID string) string {
	switch patternID {
	case "burnout", "toxic":
		return "not_recommended"
	case "rising_star", "constraint", "luxury":
		return "conditional"
	default:
		return "recommended"
	}
}
