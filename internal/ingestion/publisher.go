package ingestion

import (
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// EventSubjectPrefix is followed by the event type, e.g. escrow.ledger.events.allocate.
const EventSubjectPrefix = "escrow.ledger.events."

// Publisher is the JetStream publish call. jetstream.JetStream implements it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// eventJSON is the outbound wire format. Amounts are decimal strings.
type eventJSON struct {
	Sequence  int64     `json:"sequence"`
	Type      string    `json:"type"`
	LockID    uint64    `json:"lock_id"`
	Owner     string    `json:"owner"`
	Asset     string    `json:"asset"`
	Amount    string    `json:"amount"`
	Total     string    `json:"total"`
	Allocated string    `json:"allocated"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prev_hash"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPublisher is a ledger.EventSink that forwards journaled events to
// NATS. Emit never blocks: when the buffer is full the event is dropped and
// counted, since the Postgres event log stays authoritative.
type EventPublisher struct {
	pub     Publisher
	input   chan ledger.Event
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewEventPublisher(pub Publisher, buffer int, metrics *observability.Metrics, logger zerolog.Logger) *EventPublisher {
	if buffer <= 0 {
		buffer = 1
	}
	return &EventPublisher{
		pub:     pub,
		input:   make(chan ledger.Event, buffer),
		metrics: metrics,
		logger:  logger,
	}
}

func (p *EventPublisher) Emit(evt ledger.Event) {
	select {
	case p.input <- evt:
	default:
		if p.metrics != nil {
			p.metrics.PublishDrops.Inc()
		}
		p.logger.Warn().Int64("sequence", evt.Sequence).Msg("publish buffer full, event dropped")
	}
}

// Run publishes buffered events until ctx is cancelled.
func (p *EventPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-p.input:
			if err := p.publish(ctx, evt); err != nil {
				if p.metrics != nil {
					p.metrics.PublishFailures.Inc()
				}
				// Non-fatal: consumers can read event_log.ledger_events directly
				p.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (p *EventPublisher) publish(ctx context.Context, evt ledger.Event) error {
	data, err := json.Marshal(encodeEvent(evt))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = p.pub.Publish(ctx, EventSubjectPrefix+string(evt.Type), data,
		jetstream.WithMsgID(strconv.FormatInt(evt.Sequence, 10)),
	)
	return err
}

func encodeEvent(evt ledger.Event) eventJSON {
	return eventJSON{
		Sequence:  evt.Sequence,
		Type:      string(evt.Type),
		LockID:    uint64(evt.LockID),
		Owner:     evt.Owner.Hex(),
		Asset:     evt.Asset.Hex(),
		Amount:    evt.Amount.String(),
		Total:     evt.Total.String(),
		Allocated: evt.Allocated.String(),
		Hash:      hexutil.Encode(evt.Hash[:]),
		PrevHash:  hexutil.Encode(evt.PrevHash[:]),
		Timestamp: evt.Timestamp,
	}
}
