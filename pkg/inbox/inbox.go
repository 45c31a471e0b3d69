package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/fsops"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/org"
	"github.com/cuemby/burrow/pkg/paths"
	"github.com/cuemby/burrow/pkg/store"
	"github.com/cuemby/burrow/pkg/types"
)

// Kind classifies a notification for preference filtering
type Kind string

const (
	KindDelegation Kind = "delegation"
	KindCompletion Kind = "completion"
	KindDeadlock   Kind = "deadlock"
)

// SendInput describes a notification to deliver
type SendInput struct {
	From     string
	To       string
	Kind     Kind
	Priority types.MessagePriority
	Subject  string
	ThreadID string

	// ActionRequired marks messages the recipient must act on
	ActionRequired bool

	// TaskID and TaskTitle render the task context block when set
	TaskID    string
	TaskTitle string

	// Instructions is the free-form body paragraph
	Instructions string

	// Force bypasses the recipient's communication preferences
	Force bool
}

// Bus delivers typed notifications to agent inboxes.
//
// Delivery is body-first: the rendered markdown lands in the recipient's
// unread folder with an atomic write, then the index row is inserted in a
// single store transaction. Every send is audit-logged to the sender's
// agent log, success or failure.
type Bus struct {
	store  store.Store
	dir    *org.Directory
	paths  *paths.Resolver
	broker *events.Broker
	logger zerolog.Logger
}

// NewBus creates a message bus
func NewBus(s store.Store, dir *org.Directory, resolver *paths.Resolver, broker *events.Broker, logger zerolog.Logger) *Bus {
	return &Bus{
		store:  s,
		dir:    dir,
		paths:  resolver,
		broker: broker,
		logger: logger.With().Str("component", "inbox").Logger(),
	}
}

// allowed consults the recipient's preference for the notification kind.
// Deadlock alerts and forced sends always go through.
func (b *Bus) allowed(ctx context.Context, in SendInput) bool {
	if in.Force || in.Kind == KindDeadlock {
		return true
	}
	prefs := b.dir.Prefs(ctx, in.To)
	switch in.Kind {
	case KindDelegation:
		return prefs.DelegationEnabled()
	case KindCompletion:
		return prefs.CompletionEnabled()
	default:
		return true
	}
}

// Send delivers a notification. When the recipient's preferences suppress
// the kind and Force is unset, Send returns (nil, nil) without delivering.
func (b *Bus) Send(ctx context.Context, in SendInput) (*types.Message, error) {
	if !b.allowed(ctx, in) {
		b.logger.Debug().
			Str("to", in.To).
			Str("kind", string(in.Kind)).
			Msg("Notification suppressed by recipient preference")
		return nil, nil
	}

	msg := &types.Message{
		ID:             "msg-" + uuid.New().String()[:8],
		FromAgent:      in.From,
		ToAgent:        in.To,
		Timestamp:      types.Now(),
		Priority:       in.Priority,
		Channel:        "internal",
		ActionRequired: in.ActionRequired,
		Subject:        in.Subject,
		ThreadID:       in.ThreadID,
	}
	msg.BodyPath = b.paths.MessagePath(in.To, msg.ID, false)

	if err := fsops.WriteAtomic(ctx, msg.BodyPath, b.renderBody(ctx, msg, in)); err != nil {
		b.audit(ctx, in.From, "send_message", msg.ID, "failure", err.Error())
		return nil, fmt.Errorf("write message body %s: %w", msg.ID, err)
	}
	if err := b.store.InsertMessage(ctx, msg); err != nil {
		b.audit(ctx, in.From, "send_message", msg.ID, "failure", err.Error())
		return nil, fmt.Errorf("index message %s: %w", msg.ID, err)
	}
	b.audit(ctx, in.From, "send_message", msg.ID, "success", "to="+in.To)
	metrics.MessagesSentTotal.WithLabelValues(string(msg.Priority)).Inc()
	b.broker.Publish(&events.Event{
		ID:      msg.ID,
		Type:    events.EventMessageSent,
		Message: msg.Subject,
		Metadata: map[string]string{
			"from":      in.From,
			"to":        in.To,
			"thread_id": msg.ThreadID,
		},
	})

	b.logger.Info().
		Str("msg_id", msg.ID).
		Str("from", in.From).
		Str("to", in.To).
		Str("priority", string(msg.Priority)).
		Str("thread_id", msg.ThreadID).
		Msg("Message delivered")
	return msg, nil
}

// MarkRead flips a message's read flag and moves its body from unread to
// read. Idempotent: a message already read, or whose body already moved, is
// not an error.
func (b *Bus) MarkRead(ctx context.Context, msgID string) (*types.Message, error) {
	msg, err := b.store.MarkMessageRead(ctx, msgID)
	if err != nil {
		return nil, err
	}

	src := b.paths.MessagePath(msg.ToAgent, msg.ID, false)
	dst := b.paths.MessagePath(msg.ToAgent, msg.ID, true)
	if err := moveFile(src, dst); err != nil {
		return nil, fmt.Errorf("move message body %s: %w", msg.ID, err)
	}
	return msg, nil
}

// Unread lists an agent's unread messages
func (b *Bus) Unread(ctx context.Context, agentID string) ([]*types.Message, error) {
	all, err := b.store.ListMessagesTo(ctx, agentID)
	if err != nil {
		return nil, err
	}
	var out []*types.Message
	for _, m := range all {
		if !m.Read {
			out = append(out, m)
		}
	}
	return out, nil
}

func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		// Already moved by a prior attempt
		if errors.Is(err, fs.ErrNotExist) && fsops.Exists(dst) {
			return nil
		}
		return err
	}
	return nil
}

func (b *Bus) renderBody(ctx context.Context, msg *types.Message, in SendInput) []byte {
	fromName := in.From
	if agent, err := b.dir.GetAgent(ctx, in.From); err == nil && agent.DisplayName != "" {
		fromName = agent.DisplayName
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", msg.Subject)
	fmt.Fprintf(&sb, "- From: %s\n", fromName)
	fmt.Fprintf(&sb, "- Date: %s\n", msg.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&sb, "- Priority: %s\n", msg.Priority)
	if msg.ActionRequired {
		sb.WriteString("- Action required: yes\n")
	}
	if in.TaskID != "" {
		sb.WriteString("\n## Task\n\n")
		fmt.Fprintf(&sb, "- id: %s\n", in.TaskID)
		if in.TaskTitle != "" {
			fmt.Fprintf(&sb, "- title: %s\n", in.TaskTitle)
		}
	}
	if in.Instructions != "" {
		sb.WriteString("\n## Instructions\n\n")
		sb.WriteString(in.Instructions + "\n")
	}
	return []byte(sb.String())
}

type auditEntry struct {
	Timestamp time.Time `json:"ts"`
	Agent     string    `json:"agent"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Outcome   string    `json:"outcome"`
	Details   string    `json:"details,omitempty"`
}

// audit appends a structured line to the acting agent's log. Audit failures
// are logged but never fail the send.
func (b *Bus) audit(ctx context.Context, agentID, action, target, outcome, details string) {
	entry := auditEntry{
		Timestamp: types.Now(),
		Agent:     agentID,
		Action:    action,
		Target:    target,
		Outcome:   outcome,
		Details:   details,
	}
	line, err := json.Marshal(entry)
	if err == nil {
		err = fsops.AppendLine(ctx, b.paths.AgentLogPath(agentID), string(line))
	}
	if err != nil {
		b.logger.Warn().Err(err).Str("agent_id", agentID).Msg("Audit log append failed")
	}
}
