package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/saihai-hitl/coordinator/internal/action"
)

// EmailProvider sends a drafted email. The mock implementation is the only
// one this repository ships; EMAIL_PROVIDER=mock is the only supported
// value.
type EmailProvider interface {
	Send(ctx context.Context, payload action.EmailPayload) (map[string]any, error)
}

// CalendarProvider creates a calendar event for an approved booking
// action, and separately places a tentative hold at requestApproval time.
// The same provider value satisfies coordinator.CalendarHoldCreator.
type CalendarProvider interface {
	CreateEvent(ctx context.Context, payload action.CalendarPayload, ownerUserID, ownerEmail string) (map[string]any, error)
	CreateTentativeHold(ctx context.Context, payload action.CalendarPayload) (eventID, htmlLink string, err error)
}

// HRProvider files an HR request.
type HRProvider interface {
	Submit(ctx context.Context, payload action.HRPayload) (map[string]any, error)
}

func shortRunID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String()[:10])
}

// --- mock providers: always available, the default for every action type ---

type mockEmailProvider struct{}

// NewMockEmailProvider builds the always-on mock email backend: it never
// actually sends anything, it just mints a message_id and echoes the
// envelope back.
func NewMockEmailProvider() EmailProvider { return &mockEmailProvider{} }

func (m *mockEmailProvider) Send(_ context.Context, payload action.EmailPayload) (map[string]any, error) {
	return map[string]any{
		"message_id": shortRunID("mail"),
		"to":         payload.To,
		"from":       payload.From,
		"subject":    payload.Subject,
		"status":     "sent",
	}, nil
}

type mockCalendarProvider struct{}

// NewMockCalendarProvider builds the always-on mock calendar backend.
func NewMockCalendarProvider() CalendarProvider { return &mockCalendarProvider{} }

func (m *mockCalendarProvider) CreateEvent(_ context.Context, payload action.CalendarPayload, _, _ string) (map[string]any, error) {
	return map[string]any{
		"event_id": shortRunID("cal"),
		"attendee": payload.Attendee,
		"title":    payload.Title,
		"start_at": payload.StartAt,
		"end_at":   payload.EndAt,
		"timezone": payload.Timezone,
		"status":   "confirmed",
	}, nil
}

func (m *mockCalendarProvider) CreateTentativeHold(_ context.Context, payload action.CalendarPayload) (string, string, error) {
	return shortRunID("demo"), "", nil
}

type mockHRProvider struct{}

// NewMockHRProvider builds the always-on mock HR backend.
func NewMockHRProvider() HRProvider { return &mockHRProvider{} }

func (m *mockHRProvider) Submit(_ context.Context, _ action.HRPayload) (map[string]any, error) {
	return map[string]any{
		"request_id": shortRunID("hr"),
		"status":     "submitted",
	}, nil
}
