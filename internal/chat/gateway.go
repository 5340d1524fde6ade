package chat

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/slack-go/slack"

	"github.com/saihai-hitl/coordinator/internal/coordinator"
	"github.com/saihai-hitl/coordinator/internal/logging"
)

// Client is the subset of *slack.Client the gateway depends on, kept narrow
// so tests can substitute a fake rather than hitting the real API.
type Client interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	OpenViewContext(ctx context.Context, triggerID string, view slack.ModalViewRequest) (*slack.ViewResponse, error)
}

// Gateway is the Chat Gateway (C3): it posts approval prompts and thread
// follow-ups, and decodes inbound button/modal/message events back into the
// (thread_id, approval_request_id, action_id) triple the coordinator keys
// on. The outbound side is a small set of pure Block Kit builder functions
// plus a thin poster over the slack-go client.
type Gateway struct {
	client         Client
	defaultChannel string
	log            logging.Logger
}

// New builds a Gateway posting to defaultChannel when a thread has no prior
// channel recorded.
func New(client Client, defaultChannel string, log logging.Logger) *Gateway {
	return &Gateway{client: client, defaultChannel: defaultChannel, log: log}
}

var _ coordinator.ChatNotifier = (*Gateway)(nil)

const (
	actionIDApprove        = "approve"
	actionIDReject         = "reject"
	actionIDRequestChanges = "request_changes"
)

// SendApprovalMessage posts a new approval prompt, or refreshes the existing
// one in place when req.Channel is already set (re-using the prior message
// rather than spamming a new post on every requestApproval call, e.g. after
// a steer).
func (g *Gateway) SendApprovalMessage(ctx context.Context, req coordinator.ApprovalMessageRequest) (*coordinator.ChatHandleResult, error) {
	blocks := buildApprovalBlocks(req)
	channel := req.Channel
	if channel == "" {
		channel = g.defaultChannel
	}
	if channel == "" {
		return nil, errors.New("no channel configured to post an approval prompt")
	}

	if req.Channel != "" {
		_, ts, _, err := g.client.UpdateMessageContext(ctx, channel, req.ThreadTS, slack.MsgOptionBlocks(blocks...))
		if err != nil {
			return nil, errors.Wrap(err, "failed to refresh approval message")
		}
		return &coordinator.ChatHandleResult{Channel: channel, MessageTS: ts, ThreadTS: req.ThreadTS}, nil
	}

	_, ts, err := g.client.PostMessageContext(ctx, channel, slack.MsgOptionBlocks(blocks...))
	if err != nil {
		return nil, errors.Wrap(err, "failed to post approval message")
	}
	return &coordinator.ChatHandleResult{Channel: channel, MessageTS: ts, ThreadTS: ts}, nil
}

// PostThreadMessage posts a plain-text follow-up in an existing thread,
// used for the execution success/failure notices naming the job_id and
// action_id.
func (g *Gateway) PostThreadMessage(ctx context.Context, channel, threadTS, text string) error {
	if channel == "" || threadTS == "" {
		return nil
	}
	_, _, err := g.client.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false), slack.MsgOptionTS(threadTS))
	if err != nil {
		return errors.Wrap(err, "failed to post thread message")
	}
	return nil
}

// PostNewThread posts a plain-text message that starts a new thread,
// returning the channel it posted to and the new thread's timestamp, the
// handle future replies key on. Generalizes the new-message
// branch of SendApprovalMessage to a caller that has no approval card to
// render -- the Demo Driver's (C7) initial alert post is plain text, not a
// button row.
func (g *Gateway) PostNewThread(ctx context.Context, channel, text string) (postedChannel, threadTS string, err error) {
	if channel == "" {
		channel = g.defaultChannel
	}
	if channel == "" {
		return "", "", errors.New("no channel configured to post a new thread")
	}
	_, ts, err := g.client.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		return "", "", errors.Wrap(err, "failed to post new thread message")
	}
	return channel, ts, nil
}

// PostModalOpener opens the steer modal in response to a request_changes
// click. The button envelope rides in the view's private_metadata so the
// submission can be routed back to the right approval.
func (g *Gateway) PostModalOpener(ctx context.Context, triggerID, threadID, approvalRequestID string, actionID int64) error {
	if triggerID == "" {
		return errors.New("cannot open a modal without a trigger id")
	}
	_, err := g.client.OpenViewContext(ctx, triggerID, buildSteerModal(threadID, approvalRequestID, actionID))
	if err != nil {
		return errors.Wrap(err, "failed to open steer modal")
	}
	return nil
}

// buildSteerModal assembles the request-changes modal: a required feedback
// text area and an optional plan field.
func buildSteerModal(threadID, approvalRequestID string, actionID int64) slack.ModalViewRequest {
	feedbackInput := slack.NewPlainTextInputBlockElement(
		slack.NewTextBlockObject(slack.PlainTextType, "What should change?", false, false), "feedback")
	feedbackInput.Multiline = true
	feedback := slack.NewInputBlock("steer_feedback",
		slack.NewTextBlockObject(slack.PlainTextType, "Feedback", false, false), nil, feedbackInput)

	planInput := slack.NewPlainTextInputBlockElement(
		slack.NewTextBlockObject(slack.PlainTextType, "e.g. Plan_B", false, false), "plan")
	plan := slack.NewInputBlock("steer_plan",
		slack.NewTextBlockObject(slack.PlainTextType, "Plan", false, false), nil, planInput)
	plan.Optional = true

	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      "steer_modal",
		PrivateMetadata: encodeEnvelope(threadID, approvalRequestID, actionID),
		Title:           slack.NewTextBlockObject(slack.PlainTextType, "Request changes", false, false),
		Submit:          slack.NewTextBlockObject(slack.PlainTextType, "Submit", false, false),
		Close:           slack.NewTextBlockObject(slack.PlainTextType, "Cancel", false, false),
		Blocks:          slack.Blocks{BlockSet: []slack.Block{feedback, plan}},
	}
}

// buildApprovalBlocks assembles the approval prompt: a header, a summary
// section, an optional draft code block, a three-button actions row, and a
// context row carrying the correlation ids.
func buildApprovalBlocks(req coordinator.ApprovalMessageRequest) []slack.Block {
	var blocks []slack.Block

	blocks = append(blocks, slack.NewHeaderBlock(
		slack.NewTextBlockObject(slack.PlainTextType, "Approval requested", false, false),
	))

	summary := req.Summary
	if summary == "" {
		summary = fmt.Sprintf("Action %d awaiting approval", req.ActionID)
	}
	blocks = append(blocks, slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, summary, false, false), nil, nil,
	))

	if req.Draft != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "```\n"+req.Draft+"\n```", false, false), nil, nil,
		))
	}

	value := encodeEnvelope(req.ThreadID, req.ApprovalRequestID, req.ActionID)
	approve := slack.NewButtonBlockElement(actionIDApprove, value,
		slack.NewTextBlockObject(slack.PlainTextType, "Approve", false, false))
	approve.Style = slack.StylePrimary
	reject := slack.NewButtonBlockElement(actionIDReject, value,
		slack.NewTextBlockObject(slack.PlainTextType, "Reject", false, false))
	reject.Style = slack.StyleDanger
	requestChanges := slack.NewButtonBlockElement(actionIDRequestChanges, value,
		slack.NewTextBlockObject(slack.PlainTextType, "Request changes", false, false))

	blocks = append(blocks, slack.NewActionBlock("approval_actions", approve, reject, requestChanges))

	blocks = append(blocks, slack.NewContextBlock("approval_context",
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("thread_id=%s approval_request_id=%s", req.ThreadID, req.ApprovalRequestID), false, false),
	))

	return blocks
}
