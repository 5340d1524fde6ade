package coordinator

import (
	"context"
	"sync"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saihai-hitl/coordinator/internal/action"
	"github.com/saihai-hitl/coordinator/internal/checkpoint"
	"github.com/saihai-hitl/coordinator/internal/logging"
)

// --- in-memory fakes ---
//
// coordinator.go only ever calls through the action.Store/checkpoint.Store
// interfaces, so unit tests fake those directly rather than driving a real
// database through sqlmock's SQL-expectation matching (store_test.go already
// covers that translation layer). The checkpoint fake still hands out real
// *sqlx.Tx values, since BeginTx's signature isn't an interface -- backed by
// a sqlmock pool that only ever sees Begin/Commit/Rollback.

func newMockTxDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 8; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

type fakeActionStore struct {
	mu      sync.Mutex
	actions map[int64]*action.Action
	nextID  int64
}

func newFakeActionStore() *fakeActionStore {
	return &fakeActionStore{actions: map[int64]*action.Action{}}
}

func (f *fakeActionStore) seed(a action.Action) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	a.ActionID = f.nextID
	f.actions[f.nextID] = &a
	return f.nextID
}

func (f *fakeActionStore) Create(_ context.Context, _ *sqlx.Tx, a *action.Action) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cp := *a
	cp.ActionID = f.nextID
	f.actions[f.nextID] = &cp
	return f.nextID, nil
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

func (f *fakeActionStore) SetStatus(_ context.Context, _ *sqlx.Tx, actionID int64, status action.Status, isApproved bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actions[actionID]
	if !ok {
		return nil
	}
	a.Status = status
	a.IsApproved = isApproved
	return nil
}

func (f *fakeActionStore) SetDraftAndStatus(_ context.Context, _ *sqlx.Tx, actionID int64, draft string, status action.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actions[actionID]
	if !ok {
		return nil
	}
	a.DraftContent = draft
	a.Status = status
	return nil
}

type fakeCheckpointStore struct {
	db *sqlx.DB

	mu            sync.Mutex
	byThread      map[string]*checkpoint.Checkpoint
	byApproval    map[string]string
	byThreadIndex map[[2]string]string
}

func newFakeCheckpointStore(db *sqlx.DB) *fakeCheckpointStore {
	return &fakeCheckpointStore{
		db:            db,
		byThread:      map[string]*checkpoint.Checkpoint{},
		byApproval:    map[string]string{},
		byThreadIndex: map[[2]string]string{},
	}
}

func (f *fakeCheckpointStore) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return f.db.BeginTxx(ctx, nil)
}

func cloneCheckpoint(cp *checkpoint.Checkpoint) *checkpoint.Checkpoint {
	if cp == nil {
		return nil
	}
	out := *cp
	events := make([]checkpoint.AuditEvent, len(cp.Metadata.AuditEvents))
	copy(events, cp.Metadata.AuditEvents)
	out.Metadata.AuditEvents = events
	keys := make([]string, len(cp.Metadata.IdempotencyKeys))
	copy(keys, cp.Metadata.IdempotencyKeys)
	out.Metadata.IdempotencyKeys = keys
	return &out
}

func (f *fakeCheckpointStore) LoadForUpdate(_ context.Context, _ *sqlx.Tx, threadID string) (*checkpoint.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneCheckpoint(f.byThread[threadID]), nil
}

func (f *fakeCheckpointStore) Load(_ context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneCheckpoint(f.byThread[threadID]), nil
}

func (f *fakeCheckpointStore) Save(_ context.Context, _ *sqlx.Tx, cp *checkpoint.Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byThread[cp.ThreadID] = cloneCheckpoint(cp)
	if cp.Metadata.ApprovalRequestID != "" {
		f.byApproval[cp.Metadata.ApprovalRequestID] = cp.ThreadID
	}
	if h := cp.Metadata.ChatHandle; h != nil && h.Channel != "" && h.ThreadTS != "" {
		f.byThreadIndex[[2]string{h.Channel, h.ThreadTS}] = cp.ThreadID
	}
	return nil
}

func (f *fakeCheckpointStore) FindByApprovalRequestID(ctx context.Context, tx *sqlx.Tx, approvalRequestID string) (*checkpoint.Checkpoint, error) {
	f.mu.Lock()
	threadID, ok := f.byApproval[approvalRequestID]
	f.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return f.LoadForUpdate(ctx, tx, threadID)
}

func (f *fakeCheckpointStore) FindByThreadHandle(ctx context.Context, tx *sqlx.Tx, channel, threadTS string) (*checkpoint.Checkpoint, error) {
	f.mu.Lock()
	threadID, ok := f.byThreadIndex[[2]string{channel, threadTS}]
	f.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return f.LoadForUpdate(ctx, tx, threadID)
}

func (f *fakeCheckpointStore) ListAll(_ context.Context, _ int) ([]*checkpoint.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*checkpoint.Checkpoint, 0, len(f.byThread))
	for _, cp := range f.byThread {
		out = append(out, cloneCheckpoint(cp))
	}
	return out, nil
}

// --- fake collaborators ---

type fakeExecutor struct {
	mu        sync.Mutex
	calls     int
	failWith  error
	lastJobID string
}

func (f *fakeExecutor) Execute(_ context.Context, jobID string, _ int64, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastJobID = jobID
	return f.failWith
}

type fakeChatNotifier struct {
	mu         sync.Mutex
	sent       []ApprovalMessageRequest
	threadMsgs []string
	sendResult *ChatHandleResult
	sendErr    error
}

func (f *fakeChatNotifier) SendApprovalMessage(_ context.Context, req ApprovalMessageRequest) (*ChatHandleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if f.sendResult != nil {
		return f.sendResult, nil
	}
	return &ChatHandleResult{Channel: "C1", MessageTS: "100.1", ThreadTS: "100.1"}, nil
}

func (f *fakeChatNotifier) PostThreadMessage(_ context.Context, _, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadMsgs = append(f.threadMsgs, text)
	return nil
}

type fakeCalendarHoldCreator struct {
	calls int
}

func (f *fakeCalendarHoldCreator) CreateTentativeHold(_ context.Context, _ action.CalendarPayload) (string, string, error) {
	f.calls++
	return "evt-1", "https://calendar.example/evt-1", nil
}

// --- test harness ---

type harness struct {
	coord   *Coordinator
	actions *fakeActionStore
	cps     *fakeCheckpointStore
	exec    *fakeExecutor
	chat    *fakeChatNotifier
	cal     *fakeCalendarHoldCreator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, _ := newMockTxDB(t)
	actions := newFakeActionStore()
	cps := newFakeCheckpointStore(db)
	exec := &fakeExecutor{}
	chat := &fakeChatNotifier{}
	cal := &fakeCalendarHoldCreator{}

	coord := New(db, actions, cps, exec, chat, cal, CalendarHoldDefaults{
		Attendee:   "attendee@example.com",
		OwnerEmail: "owner@example.com",
		Timezone:   "UTC",
	}, logging.NewNop())

	return &harness{coord: coord, actions: actions, cps: cps, exec: exec, chat: chat, cal: cal}
}

func (h *harness) seedEmailAction(t *testing.T) int64 {
	t.Helper()
	return h.actions.seed(action.Action{
		ActionType:   action.TypeEmailDraft,
		DraftContent: "Draft: send the weekly update\n{\"to\":\"a@b.com\",\"subject\":\"Update\",\"body\":\"hi\"}",
		Status:       action.StatusDrafted,
	})
}

// --- scenarios ---

func TestRequestApprovalHappyPathEmail(t *testing.T) {
	h := newHarness(t)
	actionID := h.seedEmailAction(t)
	ctx := context.Background()

	res, err := h.coord.RequestApproval(ctx, actionID, "alice", "key-1", "please send")
	require.NoError(t, err)
	assert.Equal(t, string(action.StatusApprovalPending), res.Status)
	assert.NotEmpty(t, res.ApprovalRequestID)
	assert.Len(t, h.chat.sent, 1)
	assert.Equal(t, 0, h.cal.calls, "calendar hold must not fire for a non-calendar action")

	a, err := h.actions.Get(ctx, nil, actionID)
	require.NoError(t, err)
	assert.Equal(t, action.StatusApprovalPending, a.Status)
}

func TestRequestApprovalCalendarActionPlacesTentativeHold(t *testing.T) {
	h := newHarness(t)
	actionID := h.actions.seed(action.Action{
		ActionType:   action.TypeCalendarBooking,
		DraftContent: "Draft: book a room\n{\"attendee\":\"a@b.com\",\"title\":\"Sync\"}",
		Status:       action.StatusDrafted,
	})
	ctx := context.Background()

	_, err := h.coord.RequestApproval(ctx, actionID, "alice", "key-1", "please book")
	require.NoError(t, err)
	assert.Equal(t, 1, h.cal.calls)
}

func TestRequestApprovalDuplicateCallIsIdempotent(t *testing.T) {
	h := newHarness(t)
	actionID := h.seedEmailAction(t)
	ctx := context.Background()

	first, err := h.coord.RequestApproval(ctx, actionID, "alice", "key-1", "please send")
	require.NoError(t, err)

	second, err := h.coord.RequestApproval(ctx, actionID, "alice", "key-1", "please send")
	require.NoError(t, err)

	assert.Equal(t, first.ApprovalRequestID, second.ApprovalRequestID)
	assert.Len(t, h.chat.sent, 1, "a repeat call must not re-send the approval prompt")
}

func TestApproveDrivesExecutionToExecuted(t *testing.T) {
	h := newHarness(t)
	actionID := h.seedEmailAction(t)
	ctx := context.Background()

	reqRes, err := h.coord.RequestApproval(ctx, actionID, "alice", "key-1", "please send")
	require.NoError(t, err)

	jobRes, err := h.coord.Approve(ctx, reqRes.ApprovalRequestID, "bob", "approve-key-1")
	require.NoError(t, err)
	assert.Equal(t, string(action.StatusExecuted), jobRes.Status)
	assert.NotEmpty(t, jobRes.JobID)
	assert.Equal(t, 1, h.exec.calls)

	a, err := h.actions.Get(ctx, nil, actionID)
	require.NoError(t, err)
	assert.Equal(t, action.StatusExecuted, a.Status)
	assert.True(t, a.IsApproved)

	logs, err := h.coord.FetchAuditLogs(ctx, threadIDForAction(actionID))
	require.NoError(t, err)
	eventTypes := make([]string, len(logs))
	for i, e := range logs {
		eventTypes[i] = e.EventType
	}
	assert.Equal(t, []string{
		"approval_requested",
		"approval_approved",
		"execution_started",
		"execution_succeeded",
	}, eventTypes)
}

func TestApproveIsIdempotentOnDuplicateKey(t *testing.T) {
	h := newHarness(t)
	actionID := h.seedEmailAction(t)
	ctx := context.Background()

	reqRes, err := h.coord.RequestApproval(ctx, actionID, "alice", "key-1", "please send")
	require.NoError(t, err)

	_, err = h.coord.Approve(ctx, reqRes.ApprovalRequestID, "bob", "approve-key-1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.exec.calls)

	// A second Approve call with the same idempotency key must not execute again.
	second, err := h.coord.Approve(ctx, reqRes.ApprovalRequestID, "bob", "approve-key-1")
	require.NoError(t, err)
	assert.Equal(t, string(action.StatusExecuted), second.Status)
	assert.Equal(t, 1, h.exec.calls, "the executor must run at most once per action")
}

func TestApproveAfterExecutionIsAlsoIdempotentWithFreshKey(t *testing.T) {
	h := newHarness(t)
	actionID := h.seedEmailAction(t)
	ctx := context.Background()

	reqRes, err := h.coord.RequestApproval(ctx, actionID, "alice", "key-1", "please send")
	require.NoError(t, err)
	_, err = h.coord.Approve(ctx, reqRes.ApprovalRequestID, "bob", "approve-key-1")
	require.NoError(t, err)

	// Even a fresh idempotency key must short-circuit once the action is terminal.
	second, err := h.coord.Approve(ctx, reqRes.ApprovalRequestID, "bob", "approve-key-2")
	require.NoError(t, err)
	assert.Equal(t, string(action.StatusExecuted), second.Status)
	assert.Equal(t, 1, h.exec.calls)
}

func TestRejectMarksActionRejected(t *testing.T) {
	h := newHarness(t)
	actionID := h.seedEmailAction(t)
	ctx := context.Background()

	reqRes, err := h.coord.RequestApproval(ctx, actionID, "alice", "key-1", "please send")
	require.NoError(t, err)

	err = h.coord.Reject(ctx, reqRes.ApprovalRequestID, "bob", "reject-key-1")
	require.NoError(t, err)

	a, err := h.actions.Get(ctx, nil, actionID)
	require.NoError(t, err)
	assert.Equal(t, action.StatusRejected, a.Status)
	assert.Equal(t, 0, h.exec.calls)

	// Repeat reject with same key is a no-op, not an error.
	err = h.coord.Reject(ctx, reqRes.ApprovalRequestID, "bob", "reject-key-1")
	require.NoError(t, err)
}

func TestIdempotencyKeysAreScopedPerOperation(t *testing.T) {
	h := newHarness(t)
	actionID := h.seedEmailAction(t)
	ctx := context.Background()

	reqRes, err := h.coord.RequestApproval(ctx, actionID, "alice", "K", "please send")
	require.NoError(t, err)

	// The same caller token reused for a different operation on the same
	// thread must still perform that operation's transition.
	require.NoError(t, h.coord.Reject(ctx, reqRes.ApprovalRequestID, "bob", "K"))

	a, err := h.actions.Get(ctx, nil, actionID)
	require.NoError(t, err)
	assert.Equal(t, action.StatusRejected, a.Status)
}

func TestApplySteerResetsToDraftedAndRerequestsApproval(t *testing.T) {
	h := newHarness(t)
	actionID := h.seedEmailAction(t)
	ctx := context.Background()

	reqRes, err := h.coord.RequestApproval(ctx, actionID, "alice", "key-1", "please send")
	require.NoError(t, err)

	steerRes, err := h.coord.ApplySteer(ctx, reqRes.ApprovalRequestID, "alice", "shorten it", "", "steer-key-1")
	require.NoError(t, err)
	assert.Equal(t, string(action.StatusApprovalPending), steerRes.Status)
	assert.NotEqual(t, reqRes.ApprovalRequestID, steerRes.ApprovalRequestID, "steer must mint a fresh approval request")

	a, err := h.actions.Get(ctx, nil, actionID)
	require.NoError(t, err)
	assert.Contains(t, a.DraftContent, "[Steer] shorten it")
	assert.Equal(t, action.StatusApprovalPending, a.Status)
}

func TestApplySteerRefusesAfterExecutionStarted(t *testing.T) {
	h := newHarness(t)
	actionID := h.seedEmailAction(t)
	ctx := context.Background()

	reqRes, err := h.coord.RequestApproval(ctx, actionID, "alice", "key-1", "please send")
	require.NoError(t, err)
	_, err = h.coord.Approve(ctx, reqRes.ApprovalRequestID, "bob", "approve-key-1")
	require.NoError(t, err)

	_, err = h.coord.ApplySteer(ctx, reqRes.ApprovalRequestID, "alice", "too late", "", "steer-key-1")
	require.Error(t, err)
	_, ok := AsConflict(err)
	assert.True(t, ok, "steering a terminal action must return a Conflict error")
}

func TestApproveWithExecutorFailureMarksFailed(t *testing.T) {
	h := newHarness(t)
	actionID := h.seedEmailAction(t)
	ctx := context.Background()
	h.exec.failWith = assert.AnError

	reqRes, err := h.coord.RequestApproval(ctx, actionID, "alice", "key-1", "please send")
	require.NoError(t, err)

	jobRes, err := h.coord.Approve(ctx, reqRes.ApprovalRequestID, "bob", "approve-key-1")
	require.NoError(t, err)
	assert.Equal(t, string(action.StatusFailed), jobRes.Status)

	a, err := h.actions.Get(ctx, nil, actionID)
	require.NoError(t, err)
	assert.Equal(t, action.StatusFailed, a.Status)
	assert.Len(t, h.chat.threadMsgs, 1)
	assert.Contains(t, h.chat.threadMsgs[0], "Execution failed")
}

func TestApproveUnknownApprovalRequestIDReturnsNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.Approve(ctx, "apr-does-not-exist", "bob", "k")
	require.Error(t, err)
	_, ok := AsNotFound(err)
	assert.True(t, ok)
}

func TestFetchHistoryFiltersByProjectAndStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	actionID := h.seedEmailAction(t)
	_, err := h.coord.RequestApproval(ctx, actionID, "alice", "key-1", "please send")
	require.NoError(t, err)

	entries, err := h.coord.FetchHistory(ctx, HistoryFilter{Status: string(action.StatusApprovalPending)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, actionID, entries[0].ActionID)

	none, err := h.coord.FetchHistory(ctx, HistoryFilter{Status: string(action.StatusExecuted)})
	require.NoError(t, err)
	assert.Empty(t, none)

	otherProject, err := h.coord.FetchHistory(ctx, HistoryFilter{ProjectID: "P-other"})
	require.NoError(t, err)
	assert.Empty(t, otherProject)
}
