// Package ingest owns the single store writer. Inserts are group-committed
// and handed to the stream hub in commit order before callers are answered.
package ingest

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"example.com/agentwatch/internal/domain"
	"example.com/agentwatch/internal/logging"
	"example.com/agentwatch/internal/metrics"
)

type Store interface {
	InsertEvents(ctx context.Context, events []domain.Event) ([]domain.Event, error)
	RecentEvents(ctx context.Context, limit int) ([]domain.Event, error)
	FilterOptions(ctx context.Context) (domain.FilterOptions, error)
	ResolveHITL(ctx context.Context, id int64, response json.RawMessage) (domain.Event, error)
}

// Broadcaster receives every committed change. Calls are made from the
// writer goroutine, one at a time, in commit order.
type Broadcaster interface {
	EventInserted(ev domain.Event)
	EventUpdated(ev domain.Event)
}

// Notifier delivers a resolved HITL response back to the waiting agent.
type Notifier interface {
	Notify(ev domain.Event)
}

type Config struct {
	QueueMaxSize  int
	BatchMaxSize  int
	RecentDefault int
	RecentMax     int
}

type op int

const (
	opInsert op = iota
	opResolve
)

type request struct {
	op       op
	event    domain.Event
	id       int64
	response json.RawMessage
	reply    chan result
}

type result struct {
	event domain.Event
	err   error
}

type Ingestor struct {
	queue    chan *request
	stopped  chan struct{}
	store    Store
	hub      Broadcaster
	notifier Notifier
	cfg      Config
	log      *zerolog.Logger
}

// NewIngestor wires the writer. notifier may be nil.
func NewIngestor(store Store, hub Broadcaster, notifier Notifier, cfg Config) *Ingestor {
	if cfg.QueueMaxSize <= 0 {
		cfg.QueueMaxSize = 10000
	}
	if cfg.BatchMaxSize <= 0 {
		cfg.BatchMaxSize = 500
	}
	if cfg.RecentDefault <= 0 {
		cfg.RecentDefault = 100
	}
	if cfg.RecentMax < cfg.RecentDefault {
		cfg.RecentMax = cfg.RecentDefault
	}
	return &Ingestor{
		queue:    make(chan *request, cfg.QueueMaxSize),
		stopped:  make(chan struct{}),
		store:    store,
		hub:      hub,
		notifier: notifier,
		cfg:      cfg,
		log:      logging.For("ingest"),
	}
}

// Run is the writer loop. It returns after ctx is cancelled and every
// request already queued has been committed or failed.
func (ig *Ingestor) Run(ctx context.Context) error {
	defer close(ig.stopped)
	var held *request
	for {
		req := held
		held = nil
		if req == nil {
			select {
			case <-ctx.Done():
				ig.drain(context.WithoutCancel(ctx))
				return nil
			case req = <-ig.queue:
			}
		}
		held = ig.handle(ctx, req)
	}
}

func (ig *Ingestor) drain(ctx context.Context) {
	var held *request
	for {
		req := held
		held = nil
		if req == nil {
			select {
			case req = <-ig.queue:
			default:
				return
			}
		}
		held = ig.handle(ctx, req)
	}
}

// handle processes req. Inserts already waiting behind it join the same
// commit; a resolve found while collecting is returned to run next.
func (ig *Ingestor) handle(ctx context.Context, req *request) (held *request) {
	if req.op == opResolve {
		ig.resolve(ctx, req)
		return nil
	}
	batch := []*request{req}
collect:
	for len(batch) < ig.cfg.BatchMaxSize {
		select {
		case next := <-ig.queue:
			if next.op == opResolve {
				held = next
				break collect
			}
			batch = append(batch, next)
		default:
			break collect
		}
	}
	metrics.IngestQueueDepth.Set(float64(len(ig.queue)))
	ig.flush(ctx, batch)
	return held
}

func (ig *Ingestor) flush(ctx context.Context, batch []*request) {
	events := make([]domain.Event, len(batch))
	for i, r := range batch {
		events[i] = r.event
	}
	stored, err := ig.store.InsertEvents(ctx, events)
	if err != nil {
		ig.log.Error().Err(err).Int("size", len(batch)).Msg("batch insert failed")
		for _, r := range batch {
			r.reply <- result{err: err}
		}
		return
	}
	metrics.IngestBatchSize.Observe(float64(len(stored)))
	ig.log.Debug().Int("size", len(stored)).Msg("batch committed")
	for i, r := range batch {
		ev := stored[i]
		metrics.ObserveIngested(ev.HookEventType)
		ig.hub.EventInserted(ev)
		r.reply <- result{event: ev}
	}
}

func (ig *Ingestor) resolve(ctx context.Context, req *request) {
	ev, err := ig.store.ResolveHITL(ctx, req.id, req.response)
	if err != nil {
		req.reply <- result{err: err}
		return
	}
	ig.hub.EventUpdated(ev)
	req.reply <- result{event: ev}
}

func (ig *Ingestor) do(ctx context.Context, op string, req *request) (domain.Event, error) {
	select {
	case <-ig.stopped:
		return domain.Event{}, domain.Overloaded(op, "ingest is shutting down")
	default:
	}
	select {
	case ig.queue <- req:
	default:
		metrics.IngestRejected.WithLabelValues("overloaded").Inc()
		return domain.Event{}, domain.Overloaded(op, "ingest queue is full")
	}
	metrics.IngestQueueDepth.Set(float64(len(ig.queue)))
	select {
	case res := <-req.reply:
		return res.event, res.err
	case <-ctx.Done():
		return domain.Event{}, ctx.Err()
	case <-ig.stopped:
		select {
		case res := <-req.reply:
			return res.event, res.err
		default:
		}
		return domain.Event{}, domain.Overloaded(op, "ingest is shutting down")
	}
}

// Submit validates ev, commits it and returns the stored form. The event
// has already been published to stream observers when Submit returns.
func (ig *Ingestor) Submit(ctx context.Context, ev domain.Event) (domain.Event, error) {
	const op = "events.submit"
	if fields := domain.ValidateEvent(&ev); len(fields) > 0 {
		metrics.IngestRejected.WithLabelValues("validation").Inc()
		return domain.Event{}, domain.Validation(op, fields...)
	}
	return ig.do(ctx, op, &request{op: opInsert, event: ev, reply: make(chan result, 1)})
}

// Recent returns the newest limit events oldest first. limit <= 0 means
// the configured default; larger values are capped.
func (ig *Ingestor) Recent(ctx context.Context, limit int) ([]domain.Event, error) {
	return ig.store.RecentEvents(ctx, ig.clampLimit(limit))
}

func (ig *Ingestor) clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return ig.cfg.RecentDefault
	case limit > ig.cfg.RecentMax:
		return ig.cfg.RecentMax
	default:
		return limit
	}
}

func (ig *Ingestor) FilterOptions(ctx context.Context) (domain.FilterOptions, error) {
	return ig.store.FilterOptions(ctx)
}

// RespondHITL records the human response for event id. A second response
// to the same request is a conflict.
func (ig *Ingestor) RespondHITL(ctx context.Context, id int64, response json.RawMessage) (domain.Event, error) {
	const op = "events.respond"
	if domain.IsEmptyJSON(response) {
		metrics.HITLResolved.WithLabelValues(string(domain.KindValidation)).Inc()
		return domain.Event{}, domain.Validation(op, domain.FieldError{
			Field: "response", Code: domain.CodeRequired, Message: "response is required",
		})
	}
	ev, err := ig.do(ctx, op, &request{op: opResolve, id: id, response: response, reply: make(chan result, 1)})
	if err != nil {
		metrics.HITLResolved.WithLabelValues(string(domain.KindOf(err))).Inc()
		return domain.Event{}, err
	}
	metrics.HITLResolved.WithLabelValues("responded").Inc()
	if ig.notifier != nil {
		ig.notifier.Notify(ev)
	}
	return ev, nil
}
