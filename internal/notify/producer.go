// Package notify публикует доменные события сервиса расчётов в Kafka.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mmeshcher/marketplace-settlement/internal/service"
)

// Producer отправляет уведомления в топик Kafka.
type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer создаёт продюсер уведомлений для указанных брокеров и топика.
func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	return &Producer{
		logger: logger,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
			BatchTimeout:           100 * time.Millisecond,
		},
	}
}

// Notify публикует уведомление. Ошибка публикации логируется и не
// прерывает обработку: уведомления не являются источником истины.
func (p *Producer) Notify(ctx context.Context, n service.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		p.logger.Error("marshal notification", zap.Error(err))
		return
	}

	key := n.OrderCode
	if key == "" {
		key = n.VendorID
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("publish notification",
			zap.String("type", n.Type),
			zap.Error(err))
	}
}

// Close освобождает ресурсы продюсера.
func (p *Producer) Close() error {
	return p.writer.Close()
}
