package queue

import (
	"context"
	"encoding/json"
	"time"

	"prize_wheel/internal/notify"

	"github.com/segmentio/kafka-go"
)

// Producer 封装 Kafka 写入器。
type Producer struct {
	w *kafka.Writer
}

// NewProducer 创建生产者：
// - Hash + Key: 同一通知总落到同一分区
// - RequireAll: 等待 ISR 副本确认
// - MaxAttempts/Timeout: 控制重试与超时边界
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (p *Producer) Close() error { return p.w.Close() }

// Publish 同步写入一条通知，通知 ID 作为 Kafka key，消费端据此去重。
func (p *Producer) Publish(ctx context.Context, msg notify.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.ID),
		Value: b,
	})
}
