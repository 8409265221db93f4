package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/stuckorders/stuckorders/analyzer/internal/config"
	"github.com/stuckorders/stuckorders/pkg/analysis"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	writeTimeout      = 10 * time.Second
	maxBatch          = 500
)

// Writer writes messages to Kafka.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher buffers result messages and writes them to Kafka.
type Publisher struct {
	cfg config.PublishConfig
	buf chan kafka.Message
	w   Writer

	newBackoff func() *backoff // injectable for tests
}

// New creates a Publisher writing to cfg.Brokers. Topics are set per message.
func New(cfg config.PublishConfig) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return NewWithWriter(cfg, w)
}

// NewWithWriter creates a Publisher on top of an existing Writer.
func NewWithWriter(cfg config.PublishConfig, w Writer) *Publisher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = config.DefaultBufferSize
	}
	return &Publisher{
		cfg:        cfg,
		buf:        make(chan kafka.Message, cfg.BufferSize),
		w:          w,
		newBackoff: newBackoff,
	}
}

// Publish converts res to messages and enqueues them. It returns the number
// of messages enqueued.
func (p *Publisher) Publish(res *analysis.Result) (int, error) {
	msgs, err := p.messages(res)
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		p.enqueue(m)
	}
	return len(msgs), nil
}

func (p *Publisher) messages(res *analysis.Result) ([]kafka.Message, error) {
	var msgs []kafka.Message
	add := func(topic, key string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("publisher: marshal %s/%s: %w", topic, key, err)
		}
		msgs = append(msgs, kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: data,
			Time:  res.EvaluatedAt,
		})
		return nil
	}

	for _, row := range res.Cohorts {
		if err := add(p.cfg.CohortsTopic, row.YearMonth, row); err != nil {
			return nil, err
		}
	}
	if res.Churn != nil {
		for _, prof := range res.Churn.Profiles {
			if err := add(p.cfg.ProfilesTopic, prof.AccountID, prof); err != nil {
				return nil, err
			}
		}
	}
	return msgs, nil
}

// enqueue adds m, evicting the oldest message when the buffer is full.
func (p *Publisher) enqueue(m kafka.Message) {
	for {
		select {
		case p.buf <- m:
			return
		default:
		}
		select {
		case old := <-p.buf:
			slog.Warn("publisher: buffer full, evicted oldest message",
				"topic", old.Topic, "key", string(old.Key), "buffer_cap", cap(p.buf))
		default:
		}
	}
}

// Pending returns the number of buffered messages.
func (p *Publisher) Pending() int { return len(p.buf) }

// Run writes buffered messages until ctx is cancelled, retrying failed
// batches with backoff.
func (p *Publisher) Run(ctx context.Context) {
	bo := p.newBackoff()
	for {
		var first kafka.Message
		select {
		case <-ctx.Done():
			return
		case first = <-p.buf:
		}
		if err := p.write(ctx, p.batch(first)); err != nil {
			wait := bo.next()
			slog.Error("publisher: write failed, will retry", "err", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.reset()
	}
}

// Flush writes every buffered message, retrying with backoff until the
// buffer is empty or ctx is done.
func (p *Publisher) Flush(ctx context.Context) error {
	bo := p.newBackoff()
	for {
		var first kafka.Message
		select {
		case first = <-p.buf:
		default:
			return nil
		}
		if err := p.write(ctx, p.batch(first)); err != nil {
			wait := bo.next()
			slog.Warn("publisher: flush write failed, will retry",
				"err", err, "pending", len(p.buf), "retry_in", wait)
			select {
			case <-ctx.Done():
				return fmt.Errorf("publisher: flush: %w (last error: %v)", ctx.Err(), err)
			case <-time.After(wait):
			}
			continue
		}
		bo.reset()
	}
}

// Close closes the underlying writer. Buffered messages are discarded.
func (p *Publisher) Close() error {
	return p.w.Close()
}

// batch collects first plus whatever else is immediately available.
func (p *Publisher) batch(first kafka.Message) []kafka.Message {
	msgs := []kafka.Message{first}
	for len(msgs) < maxBatch {
		select {
		case m := <-p.buf:
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
	return msgs
}

// write sends msgs; on failure they are put back in the buffer if it has room.
func (p *Publisher) write(ctx context.Context, msgs []kafka.Message) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := p.w.WriteMessages(wctx, msgs...); err != nil {
		requeued := 0
		for _, m := range msgs {
			select {
			case p.buf <- m:
				requeued++
			default:
			}
		}
		if lost := len(msgs) - requeued; lost > 0 {
			slog.Warn("publisher: buffer full, dropped messages after failed write", "lost", lost)
		}
		return fmt.Errorf("publisher: write %d messages: %w", len(msgs), err)
	}
	slog.Debug("publisher: batch delivered", "messages", len(msgs))
	return nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{initial: backoffInitial, current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
