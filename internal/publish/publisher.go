package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/cascade/internal/engine"
	"github.com/roach88/cascade/internal/ir"
)

// Publisher writes trace records to Redis. Safe for concurrent use.
type Publisher struct {
	rdb       *redis.Client
	namespace string
	ttl       time.Duration
	owned     bool
}

var _ engine.Observer = (*Publisher)(nil)

type Option func(*Publisher)

// WithNamespace sets the key namespace. Defaults to "default".
func WithNamespace(ns string) Option {
	return func(p *Publisher) {
		p.namespace = ns
	}
}

// WithTTL sets the expiration of flow lists and instance hashes.
func WithTTL(ttl time.Duration) Option {
	return func(p *Publisher) {
		p.ttl = ttl
	}
}

// New connects to Redis at addr. The Publisher owns the connection and
// closes it in Close.
func New(addr string, opts ...Option) *Publisher {
	p := NewFromClient(redis.NewClient(&redis.Options{Addr: addr}), opts...)
	p.owned = true
	return p
}

// NewFromClient wraps an existing client. Close leaves it open.
func NewFromClient(client *redis.Client, opts ...Option) *Publisher {
	p := &Publisher{
		rdb:       client,
		namespace: "default",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Namespace returns the key namespace.
func (p *Publisher) Namespace() string {
	return p.namespace
}

// Ping verifies Redis connectivity.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Close closes the connection if the Publisher opened it.
func (p *Publisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.rdb.Close()
}

// Observe implements engine.Observer. The flow list, instance hash and
// publish go out in one pipeline round trip.
func (p *Publisher) Observe(ctx context.Context, rec engine.TraceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}

	flowKey := FlowKey(p.namespace, rec.FlowToken)
	instKey := InstanceKey(p.namespace, rec.Target)

	_, err = p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, flowKey, data)
		pipe.HSet(ctx, instKey, map[string]any{
			"seq":        strconv.FormatInt(rec.Seq, 10),
			"event":      rec.Event,
			"outcome":    string(rec.Outcome),
			"state_hash": rec.StateHash,
			"flow_token": rec.FlowToken,
		})
		if p.ttl > 0 {
			pipe.Expire(ctx, flowKey, p.ttl)
			pipe.Expire(ctx, instKey, p.ttl)
		}
		pipe.Publish(ctx, EventsChannel(p.namespace), data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish record %s: %w", rec.ID, err)
	}
	return nil
}

// FlowRecords returns the records of a flow in dispatch order.
// Returns an empty slice if the flow is unknown or expired.
func (p *Publisher) FlowRecords(ctx context.Context, flowToken string) ([]engine.TraceRecord, error) {
	raw, err := p.rdb.LRange(ctx, FlowKey(p.namespace, flowToken), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read flow %s: %w", flowToken, err)
	}

	records := make([]engine.TraceRecord, 0, len(raw))
	for i, item := range raw {
		var rec engine.TraceRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("flow %s record %d: %w", flowToken, i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// InstanceState is the latest dispatch recorded for an instance.
type InstanceState struct {
	Seq       int64
	Event     string
	Outcome   engine.Outcome
	StateHash string
	FlowToken string
}

// LatestState reads the instance hash. Returns redis.Nil if the instance
// has never been dispatched to.
func (p *Publisher) LatestState(ctx context.Context, ref ir.InstanceRef) (InstanceState, error) {
	fields, err := p.rdb.HGetAll(ctx, InstanceKey(p.namespace, ref)).Result()
	if err != nil {
		return InstanceState{}, fmt.Errorf("read instance %s: %w", ref, err)
	}
	if len(fields) == 0 {
		return InstanceState{}, redis.Nil
	}

	seq, err := strconv.ParseInt(fields["seq"], 10, 64)
	if err != nil {
		return InstanceState{}, fmt.Errorf("instance %s: bad seq %q: %w", ref, fields["seq"], err)
	}
	return InstanceState{
		Seq:       seq,
		Event:     fields["event"],
		Outcome:   engine.Outcome(fields["outcome"]),
		StateHash: fields["state_hash"],
		FlowToken: fields["flow_token"],
	}, nil
}

// Subscription delivers records published on the events channel.
// Caller must call Close() when done.
type Subscription struct {
	records <-chan engine.TraceRecord
	errors  <-chan error
	cancel  func()
	once    sync.Once
}

// Records returns the channel of decoded records. It is closed when the
// subscription is closed or its context is cancelled.
func (s *Subscription) Records() <-chan engine.TraceRecord {
	return s.records
}

// Errors returns decode failures. The subscription skips bad messages and
// continues.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe listens on the events channel. It returns once Redis has
// confirmed the subscription, so records published afterwards are seen.
func (p *Publisher) Subscribe(ctx context.Context) (*Subscription, error) {
	pubsub := p.rdb.Subscribe(ctx, EventsChannel(p.namespace))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	recordsChan := make(chan engine.TraceRecord, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(recordsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var rec engine.TraceRecord
				if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal record: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case recordsChan <- rec:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		records: recordsChan,
		errors:  errorsChan,
		cancel:  cancelFunc,
	}, nil
}
