package events

import (
	"fmt"

	"go.uber.org/zap"
)

// Audit 订阅中奖与发码事件，写结构化审计日志：谁用哪个码抽中了什么，哪些码发给了谁。
func Audit(bus *Bus, log *zap.Logger) {
	bus.Subscribe(WinnerCreated, func(e Event) error {
		p, ok := e.Payload.(WinnerPayload)
		if !ok {
			return fmt.Errorf("audit: unexpected payload %T for %s", e.Payload, e.Type)
		}
		log.Info("prize won",
			zap.Uint("winner_id", p.Winner.ID),
			zap.String("request_id", p.Winner.RequestID),
			zap.String("code", p.Code.Code),
			zap.String("email", p.Code.Email),
			zap.Uint("prize_id", p.Prize.ID),
			zap.String("prize", p.Prize.Title),
			zap.Int("prize_remaining", p.Prize.QuantityRemaining),
			zap.Time("won_at", p.Winner.WonAt))
		return nil
	})
	bus.Subscribe(CodesIssued, func(e Event) error {
		p, ok := e.Payload.(CodesPayload)
		if !ok {
			return fmt.Errorf("audit: unexpected payload %T for %s", e.Payload, e.Type)
		}
		for _, c := range p.Codes {
			log.Info("code issued",
				zap.Uint("code_id", c.ID),
				zap.String("code", c.Code),
				zap.String("email", c.Email),
				zap.Time("at", e.At))
		}
		return nil
	})
}
