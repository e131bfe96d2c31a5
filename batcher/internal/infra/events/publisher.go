package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/you-humble/amazonmain/batcher/internal/queue"

	"github.com/nats-io/nats.go"
)

type JetStream interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type publisher struct {
	js      JetStream
	subject string
	seq     atomic.Uint64
}

// NewPublisher sends batch events to "<subject>.<batch id>".
func NewPublisher(js JetStream, subject string) *publisher {
	return &publisher{js: js, subject: subject}
}

func (p *publisher) Publish(ctx context.Context, batchID string, ev queue.Event) error {
	if batchID == "" {
		return fmt.Errorf("empty batchID")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	n := p.seq.Add(1)
	msg := &nats.Msg{
		Subject: p.subject + "." + batchID,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(nats.MsgIdHdr, batchID+"-"+strconv.FormatUint(n, 10))
	msg.Header.Set("Batch-Event", string(ev.Type))

	ack, err := p.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish %s event for batch %s: %w", ev.Type, batchID, err)
	}

	slog.Debug(
		"batch event published",
		slog.String("batch_id", batchID),
		slog.String("type", string(ev.Type)),
		slog.String("stream", ack.Stream),
		slog.Uint64("seq", ack.Sequence),
	)

	return nil
}
