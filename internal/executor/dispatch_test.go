package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saihai-hitl/coordinator/internal/action"
)

type fakeActionStore struct {
	mu      sync.Mutex
	actions map[int64]*action.Action
}

func newFakeActionStore() *fakeActionStore {
	return &fakeActionStore{actions: map[int64]*action.Action{}}
}

func (f *fakeActionStore) seed(id int64, a action.Action) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.ActionID = id
	f.actions[id] = &a
}

func (f *fakeActionStore) Create(context.Context, *sqlx.Tx, *action.Action) (int64, error) {
	return 0, nil
}

func (f *fakeActionStore) Get(_ context.Context, _ sqlx.QueryerContext, actionID int64) (*action.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actions[actionID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeActionStore) SetStatus(context.Context, *sqlx.Tx, int64, action.Status, bool) error {
	return nil
}

func (f *fakeActionStore) SetDraftAndStatus(context.Context, *sqlx.Tx, int64, string, action.Status) error {
	return nil
}

type fakeRunsStore struct {
	mu   sync.Mutex
	runs []Run
}

func (f *fakeRunsStore) Record(_ context.Context, run Run) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return int64(len(f.runs)), nil
}

func newExecutor(actions *fakeActionStore, runs *fakeRunsStore) *Executor {
	return New(actions, runs,
		NewMockEmailProvider(),
		NewMockCalendarProvider(),
		NewMockHRProvider(),
		ProviderConfig{
			EmailProvider:    "mock",
			CalendarProvider: "mock",
			HRProvider:       "mock",
			DefaultCalendarTZ: "UTC",
		},
	)
}

func TestExecuteSingleActionRecordsSucceededRun(t *testing.T) {
	actions := newFakeActionStore()
	actions.seed(1, action.Action{
		ActionType:   action.TypeEmailDraft,
		DraftContent: "please send\n\n```json\n{\"to\":\"a@example.com\",\"subject\":\"hi\",\"body\":\"hello\"}\n```",
	})
	runs := &fakeRunsStore{}
	ex := newExecutor(actions, runs)

	err := ex.Execute(context.Background(), "job-1", 1, nil)
	require.NoError(t, err)
	require.Len(t, runs.runs, 1)
	assert.Equal(t, RunSucceeded, runs.runs[0].Status)
	assert.Equal(t, string(action.TypeEmailDraft), runs.runs[0].ActionType)
}

func TestExecuteWatchdogActionTypeAliasesToCanonical(t *testing.T) {
	actions := newFakeActionStore()
	actions.seed(2, action.Action{
		ActionType:   action.TypeMeetingRequest,
		DraftContent: "```json\n{\"attendee\":\"a@example.com\",\"title\":\"sync\",\"start_at\":\"2026-01-01T10:00:00Z\",\"end_at\":\"2026-01-01T10:30:00Z\",\"timezone\":\"UTC\"}\n```",
	})
	runs := &fakeRunsStore{}
	ex := newExecutor(actions, runs)

	err := ex.Execute(context.Background(), "job-2", 2, nil)
	require.NoError(t, err)
	require.Len(t, runs.runs, 1)
	assert.Equal(t, string(action.TypeCalendarBooking), runs.runs[0].ActionType)
}

func TestExecuteFanOutRecordsEachSubActionAndFailsOnFirstError(t *testing.T) {
	actions := newFakeActionStore()
	actions.seed(3, action.Action{
		ActionType:   action.TypeEmailDraft,
		DraftContent: "```json\n{\"actions\":[{\"action_type\":\"email_draft\",\"to\":\"a@example.com\",\"subject\":\"s\",\"body\":\"b\"},{\"action_type\":\"bogus_type\"}]}\n```",
	})
	runs := &fakeRunsStore{}
	ex := newExecutor(actions, runs)

	err := ex.Execute(context.Background(), "job-3", 3, nil)
	require.Error(t, err)
	require.Len(t, runs.runs, 2)
	assert.Equal(t, RunSucceeded, runs.runs[0].Status)
	assert.Equal(t, RunFailed, runs.runs[1].Status)
}

func TestExecuteUnknownActionMissing(t *testing.T) {
	actions := newFakeActionStore()
	runs := &fakeRunsStore{}
	ex := newExecutor(actions, runs)

	err := ex.Execute(context.Background(), "job-4", 999, nil)
	require.Error(t, err)
	assert.Empty(t, runs.runs)
}

func TestExecutePayloadOverrideBypassesDraftParsing(t *testing.T) {
	actions := newFakeActionStore()
	actions.seed(5, action.Action{ActionType: action.TypeHRRequest, DraftContent: "no json here"})
	runs := &fakeRunsStore{}
	ex := newExecutor(actions, runs)

	err := ex.Execute(context.Background(), "job-5", 5, map[string]any{
		"employee_id": "E1", "request_type": "pto",
	})
	require.NoError(t, err)
	require.Len(t, runs.runs, 1)
	assert.Equal(t, RunSucceeded, runs.runs[0].Status)
}
