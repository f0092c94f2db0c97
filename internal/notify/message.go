package notify

import (
	"context"
	"errors"
)

// Kind 邮件类别。
type Kind string

const (
	KindWinnerConfirmation Kind = "winner_confirmation"
	KindAdminWin           Kind = "admin_win_notification"
	KindCodeIssued         Kind = "code_issued"

	// KindFailure 是邮件发送失败时日志里使用的错误类别，永不暴露给用户。
	KindFailure = "NOTIFICATION_FAILURE"
)

// Message is one outbound email. ID is unique per message and is used to
// de-duplicate redeliveries.
type Message struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	To      string `json:"to"`
	ToName  string `json:"to_name"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (m Message) Validate() error {
	if m.ID == "" {
		return errors.New("id is required")
	}
	if m.Kind == "" {
		return errors.New("kind is required")
	}
	if m.To == "" {
		return errors.New("to is required")
	}
	if m.Subject == "" {
		return errors.New("subject is required")
	}
	return nil
}

// Sender delivers a message. Implementations: SendGridMailer, LogMailer and the
// Redis Stream outbox in internal/queue.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
