package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/neuragate/gateway/internal/config"
	"github.com/neuragate/gateway/internal/logging"
)

// Publisher drains the event queue into the bus. Submission never
// blocks: a full queue drops the event and bumps the drop counter.
// Delivery is at-least-once; the producer is idempotent so its own
// retries cannot duplicate a record.
type Publisher struct {
	client   *kgo.Client
	queue    chan *kgo.Record
	dropped  atomic.Uint64
	disabled bool
}

// NewPublisher creates a publisher. With telemetry disabled it becomes
// a drop-only sink and opens no bus connection.
func NewPublisher(cfg config.TelemetryConfig) (*Publisher, error) {
	p := &Publisher{
		queue:    make(chan *kgo.Record, cfg.QueueCapacity),
		disabled: cfg.Disabled,
	}
	if cfg.Disabled {
		return p, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Bootstrap...),
		kgo.ProducerBatchCompression(kgo.GzipCompression()),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, err
	}
	p.client = client
	return p, nil
}

// Submit enqueues one request event. Events with a 5xx status are
// additionally mirrored onto the error topic in reduced form.
func (p *Publisher) Submit(e Event) {
	if p.disabled {
		return
	}
	value, err := e.Encode()
	if err != nil {
		p.dropped.Add(1)
		return
	}

	key := []byte(e.Key())
	p.enqueue(&kgo.Record{Topic: TopicTelemetry, Key: key, Value: value})
	if e.Status >= 500 {
		msg := e.ErrorMessage
		if msg == "" {
			msg = http.StatusText(e.Status)
		}
		errValue, err := json.Marshal(ErrorEvent{
			RouteID:      e.RouteID,
			Path:         e.Path,
			ErrorMessage: msg,
			Timestamp:    e.Timestamp,
		})
		if err != nil {
			p.dropped.Add(1)
			return
		}
		p.enqueue(&kgo.Record{Topic: TopicErrors, Key: key, Value: errValue})
	}
}

// RouteChanged enqueues a route table mutation onto the routes topic.
func (p *Publisher) RouteChanged(routeID, op string, definition json.RawMessage) {
	if p.disabled {
		return
	}
	value, err := json.Marshal(RouteChange{
		RouteID:    routeID,
		Op:         op,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Definition: definition,
	})
	if err != nil {
		p.dropped.Add(1)
		return
	}
	p.enqueue(&kgo.Record{Topic: TopicRoutes, Key: []byte(routeID), Value: value})
}

func (p *Publisher) enqueue(rec *kgo.Record) {
	select {
	case p.queue <- rec:
	default:
		p.dropped.Add(1)
	}
}

// Dropped returns the number of events lost to a full queue or a
// failed encode.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Run drains the queue until ctx is canceled. Bus outages are retried
// with exponential backoff while new events keep arriving (and keep
// being dropped when the queue fills).
func (p *Publisher) Run(ctx context.Context) {
	if p.disabled {
		<-ctx.Done()
		return
	}

	p.ensureTopics(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-p.queue:
			p.deliver(ctx, rec)
		}
	}
}

// deliver produces one record, retrying until it lands or ctx ends.
func (p *Publisher) deliver(ctx context.Context, rec *kgo.Record) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry until canceled

	err := backoff.Retry(func() error {
		if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			logging.Warn("Telemetry delivery failed, backing off",
				zap.String("topic", rec.Topic), zap.Error(err))
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil && ctx.Err() == nil {
		p.dropped.Add(1)
	}
}

// ensureTopics creates the bus topics if they do not already exist.
// Failure is non-fatal; brokers with auto-creation still work.
func (p *Publisher) ensureTopics(ctx context.Context) {
	adm := kadm.NewClient(p.client)
	topics := []struct {
		name       string
		partitions int32
	}{
		{TopicTelemetry, TelemetryPartitions},
		{TopicErrors, ErrorPartitions},
		{TopicRoutes, RoutePartitions},
	}
	for _, t := range topics {
		resps, err := adm.CreateTopics(ctx, t.partitions, -1, nil, t.name)
		if err != nil {
			logging.Warn("Topic creation failed", zap.String("topic", t.name), zap.Error(err))
			continue
		}
		for _, resp := range resps.Sorted() {
			if resp.Err != nil && !kerrTopicExists(resp.Err) {
				logging.Warn("Topic creation rejected",
					zap.String("topic", resp.Topic), zap.Error(resp.Err))
			}
		}
	}
}

func kerrTopicExists(err error) bool {
	return errors.Is(err, kerr.TopicAlreadyExists)
}

// Close flushes buffered records and releases the bus connection.
func (p *Publisher) Close(ctx context.Context) {
	if p.client == nil {
		return
	}
	if err := p.client.Flush(ctx); err != nil {
		logging.Warn("Telemetry flush incomplete", zap.Error(err))
	}
	p.client.Close()
}
