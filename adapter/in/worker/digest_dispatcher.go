package worker

import (
	"context"

	"github.com/goccy/go-json"

	"digest_server/pkg/logger"
)

type Handler struct {
	digestProcessor *DigestProcessor
}

func NewHandler(digestProcessor *DigestProcessor) *Handler {
	return &Handler{
		digestProcessor: digestProcessor,
	}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing message: %s", msg.Type)

	switch msg.Type {
	case JobDigestUser:
		return h.digestProcessor.ProcessUser(ctx, msg)
	case JobDigestTick:
		return h.digestProcessor.ProcessTick(ctx, msg)
	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}
}

func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
