// Package consumer turns Kafka sync-request messages into sync runs.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded trigger messages.
type Handler interface {
	Handle(context.Context, TriggerMessage) error
}

// TriggerMessage is a decoded sync request.
type TriggerMessage struct {
	Topic       string
	Partition   int
	Offset      int64
	Timestamp   time.Time
	Reason      string
	RequestedBy string
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor pulls trigger messages from Kafka, decodes them, and dispatches to a Handler.
type Processor struct {
	reader  Reader
	handler Handler
	logger  *log.Logger
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		logger:  log.New(log.Writer(), "[trigger] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes trigger messages until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		trigger, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			p.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, decodeErr)
			recordDecodeError(msg.Topic)
			// Commit malformed messages to avoid poison-pill loops.
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Printf("commit error after decode failure: %v", commitErr)
			}
			continue
		}

		if handleErr := p.handler.Handle(ctx, trigger); handleErr != nil {
			p.logger.Printf("handler error (reason=%s): %v", trigger.Reason, handleErr)
			recordHandlerError(trigger)
			continue
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Printf("commit error: %v", commitErr)
		} else {
			recordProcessed(trigger)
		}
	}
}

func decodeMessage(msg kafka.Message) (TriggerMessage, error) {
	var payload struct {
		Reason      string `json:"reason"`
		RequestedBy string `json:"requested_by"`
	}
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return TriggerMessage{}, fmt.Errorf("invalid trigger payload: %w", err)
	}
	if payload.Reason == "" {
		return TriggerMessage{}, errors.New("trigger payload missing reason")
	}

	return TriggerMessage{
		Topic:       msg.Topic,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		Timestamp:   msg.Time,
		Reason:      payload.Reason,
		RequestedBy: payload.RequestedBy,
	}, nil
}
