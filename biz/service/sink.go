package service

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// KafkaSink writes payloads to one topic through an async writer.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(writer *kafka.Writer) *KafkaSink {
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Write(ctx context.Context, payload []byte) error {
	return s.writer.WriteMessages(ctx, kafka.Message{Value: payload})
}
