// Package kafka 提供了反馈事件的投递与消费。
package kafka

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/segmentio/kafka-go"

	"buddychat-go/internal/config"
	"buddychat-go/internal/model"
	"buddychat-go/pkg/log"
)

// Producer 将反馈事件写入 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 创建反馈事件生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(splitBrokers(cfg.Brokers)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	log.Infof("Kafka 生产者初始化成功, topic=%s", cfg.Topic)
	return &Producer{writer: w}
}

// PublishFeedback 发送一条反馈事件，以会话 ID 为消息键，保证同一会话内有序。
func (p *Producer) PublishFeedback(ctx context.Context, event model.FeedbackEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.SessionID),
		Value: value,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// FeedbackHandler 处理一条反馈事件。
type FeedbackHandler func(ctx context.Context, event model.FeedbackEvent) error

// StartConsumer 启动反馈事件消费者，直到 ctx 结束。
// 无法解析的消息直接提交；处理失败的消息不提交，由 Kafka 重新投递。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, handler FeedbackHandler) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  splitBrokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  "buddychat-feedback-consumer",
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			return
		}

		var event model.FeedbackEvent
		if err := json.Unmarshal(m.Value, &event); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, offset=%d", err, m.Offset)
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		if err := handler(ctx, event); err != nil {
			log.Errorf("处理反馈事件失败: message=%s, error=%v", event.MessageID, err)
			continue
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
