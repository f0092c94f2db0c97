package notify

import (
	"context"
	"fmt"

	"prize_wheel/internal/events"
	"prize_wheel/internal/model"
)

// Notifier turns domain events into emails.
type Notifier struct {
	settings   Settings
	sender     Sender
	dispatcher *Dispatcher
}

// NewNotifier: sender 用于同步发送（发码），dispatcher 用于中奖后的异步发送。
func NewNotifier(settings Settings, sender Sender, dispatcher *Dispatcher) *Notifier {
	return &Notifier{settings: settings, sender: sender, dispatcher: dispatcher}
}

// CodeIssued sends the code to its holder synchronously so the caller can count results.
func (n *Notifier) CodeIssued(ctx context.Context, code model.Code) error {
	if code.Email == "" {
		return fmt.Errorf("code %s has no email", code.Code)
	}
	return n.sender.Send(ctx, CodeIssued(n.settings, code))
}

// Subscribe 订阅 WinnerCreated：给中奖者发确认邮件，给管理员发通知。
func (n *Notifier) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.WinnerCreated, n.onWinnerCreated)
}

func (n *Notifier) onWinnerCreated(e events.Event) error {
	p, ok := e.Payload.(events.WinnerPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
	}
	for _, msg := range n.winnerMessages(p) {
		n.dispatcher.Enqueue(msg)
	}
	return nil
}

func (n *Notifier) winnerMessages(p events.WinnerPayload) []Message {
	var out []Message
	if p.Code.Email != "" {
		out = append(out, WinnerConfirmation(n.settings, p.Code, p.Prize, p.Winner.WonAt))
	}
	if n.settings.AdminEmail != "" {
		out = append(out, AdminWinNotification(n.settings, p.Code, p.Prize, p.Winner.WonAt))
	}
	if p.Winner.RequestID != "" {
		for i := range out {
			out[i].ID = WinnerMessageID(p.Winner.RequestID, out[i].Kind)
		}
	}
	return out
}
