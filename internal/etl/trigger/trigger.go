// Package trigger turns sync-trigger messages into early cycle wake-ups.
package trigger

import (
	"context"
	"log/slog"

	"github.com/alena-kono/ugc-service-2/pkg/config"
	"github.com/alena-kono/ugc-service-2/pkg/kafka"
)

// Request is the payload of a sync-trigger message.
type Request struct {
	Reason string `json:"reason"`
	Full   bool   `json:"full"`
}

// Target is satisfied by *pipeline.Orchestrator.
type Target interface {
	Trigger(full bool)
}

// Handler returns a kafka.MessageHandler that wakes target for every decoded
// request.
func Handler(target Target) kafka.MessageHandler {
	log := slog.Default().With("component", "trigger")
	return func(_ context.Context, key []byte, value []byte) error {
		req, err := kafka.DecodeJSON[Request](value)
		if err != nil {
			return err
		}
		log.Info("sync triggered", "reason", req.Reason, "full", req.Full, "key", string(key))
		target.Trigger(req.Full)
		return nil
	}
}

// NewConsumer consumes cfg.Topics.SyncTrigger on behalf of target.
func NewConsumer(cfg config.KafkaConfig, target Target) *kafka.Consumer {
	return kafka.NewConsumer(cfg, cfg.Topics.SyncTrigger, Handler(target))
}
