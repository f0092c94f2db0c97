package events

import (
	"time"

	"prize_wheel/internal/model"
)

type EventType string

const (
	// PrizeInventoryChanged fires after any commit that changes prize rows.
	PrizeInventoryChanged EventType = "prize.inventory_changed"
	// WinnerListChanged fires after any commit that adds, edits or removes winners.
	WinnerListChanged EventType = "winner.list_changed"
	// WinnerCreated carries a snapshot of a committed spin for notifications.
	WinnerCreated EventType = "winner.created"
	// CodesIssued fires after a bulk code generation commits.
	CodesIssued EventType = "codes.issued"
)

// Event is a post-commit fact. Payload is nil except for WinnerCreated and CodesIssued.
type Event struct {
	Type    EventType
	At      time.Time
	Payload any
}

// WinnerPayload 是 WinnerCreated 的载荷：提交时刻的快照，供邮件使用。
type WinnerPayload struct {
	Winner model.Winner
	Code   model.Code
	Prize  model.Prize
}

// CodesPayload lists the codes created by one generation request.
type CodesPayload struct {
	Codes []model.Code
}

func New(t EventType, payload any) Event {
	return Event{Type: t, At: time.Now().UTC(), Payload: payload}
}
