package channel

import (
	"context"
	"fmt"
	"strings"

	"leadflow_backend/internal/events"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// OperatorNotifier emails automation notifications to the operator inbox.
type OperatorNotifier struct {
	email EmailSender
	to    string
	log   *logger.Logger
}

// NewOperatorNotifier returns a notifier that only logs when to is empty.
func NewOperatorNotifier(email EmailSender, to string, log *logger.Logger) *OperatorNotifier {
	return &OperatorNotifier{email: email, to: strings.TrimSpace(to), log: log}
}

// RegisterHandlers subscribes the notifier to notification requests.
func (n *OperatorNotifier) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.OperatorNotificationRequested{}.EventName(), n)
}

func (n *OperatorNotifier) Handle(ctx context.Context, event events.Event) error {
	e, ok := event.(events.OperatorNotificationRequested)
	if !ok {
		return nil
	}
	if n.to == "" || n.email == nil {
		n.log.Info("operator notification", "ruleId", e.RuleID, "leadId", e.LeadID, "title", e.Title, "priority", e.Priority)
		return nil
	}

	subject := e.Title
	if e.Priority != "" {
		subject = fmt.Sprintf("[%s] %s", strings.ToUpper(e.Priority), e.Title)
	}
	var body strings.Builder
	if e.Message != "" {
		body.WriteString(e.Message)
		body.WriteString("\n\n")
	}
	if e.LeadID != "" {
		fmt.Fprintf(&body, "Lead: %s\n", e.LeadID)
	}
	fmt.Fprintf(&body, "Rule: %s\n", e.RuleID)

	err := n.email.SendEmail(ctx, Envelope{MessageID: uuid.NewString(), To: n.to, Subject: subject, Body: body.String()})
	n.log.ChannelDispatch(string(KindEmail), e.LeadID, "operator", "", err)
	return err
}
