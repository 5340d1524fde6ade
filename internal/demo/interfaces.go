package demo

import (
	"context"

	"github.com/saihai-hitl/coordinator/internal/action"
)

// Notifier is the subset of the Chat Gateway (C3) the demo driver depends
// on: starting the alert thread and posting every follow-up into it. Every
// demo notification is, at the transport level, either "start a thread" or
// "reply in one" -- exactly the two capabilities
// chat.Gateway.PostNewThread/PostThreadMessage already expose for the HITL
// flow, reused here rather than growing demo-specific methods.
type Notifier interface {
	PostNewThread(ctx context.Context, channel, text string) (postedChannel, threadTS string, err error)
	PostThreadMessage(ctx context.Context, channel, threadTS, text string) error
}

// CalendarCreator is the narrow slice of the Executor's calendar provider
// (C2) the demo driver calls directly once approved, mirroring
// coordinator.CalendarHoldCreator's narrowing of the same provider for the
// tentative-hold path. The demo flow books a real confirmed event rather
// than a hold, so it depends on CreateEvent instead of CreateTentativeHold.
type CalendarCreator interface {
	CreateEvent(ctx context.Context, payload action.CalendarPayload, ownerUserID, ownerEmail string) (map[string]any, error)
}
