// Package kafka 封装 segmentio/kafka-go 的生产者
package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/qiminjie89/motionlink/pkg/logger"
)

// ProducerConfig Kafka 生产者配置
type ProducerConfig struct {
	Brokers      []string      // Kafka broker 地址
	Topic        string        // 目标 topic
	BatchSize    int           // 单批最大消息数
	BatchTimeout time.Duration // 未凑满一批时的最长等待
	WriteTimeout time.Duration
}

// Producer Kafka 生产者
type Producer struct {
	cfg    ProducerConfig
	writer *kafka.Writer
}

// NewProducer 创建 Kafka 生产者
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // 同一 key（房间码）落在同一分区，保证单房间事件有序
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &Producer{
		cfg:    cfg,
		writer: writer,
	}, nil
}

// Send 同步发送一条消息
func (p *Producer) Send(ctx context.Context, key, value []byte) error {
	msg := kafka.Message{
		Key:   key,
		Value: value,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logger.Warn("kafka send failed",
			zap.Error(err),
			zap.String("topic", p.cfg.Topic),
		)
		return err
	}
	return nil
}

// Close 关闭生产者，等待缓冲中的消息写出
func (p *Producer) Close() error {
	return p.writer.Close()
}
