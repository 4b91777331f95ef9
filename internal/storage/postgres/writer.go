package postgres

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"example.com/agentwatch/internal/domain"
)

const insertEventSQL = `INSERT INTO events
	(source_app, session_id, hook_event_type, payload, chat, summary, timestamp, model_name, human_in_the_loop, hitl_status)
	VALUES ($1, $2, $3, $4::json, $5::json, $6, $7, $8, $9::jsonb, $10)
	RETURNING id`

// InsertEvents writes the batch in one transaction and one round trip.
// Each row is its own queued INSERT ... RETURNING id; pgx hands results
// back in queue order, so ids are matched by position.
func (db *DB) InsertEvents(ctx context.Context, items []domain.Event) ([]domain.Event, error) {
	const op = "events.insert"
	if len(items) == 0 {
		return nil, nil
	}
	now := db.clock.Now().UnixMilli()

	out := make([]domain.Event, len(items))
	batch := &pgx.Batch{}
	for i, ev := range items {
		ev = domain.PrepareInsert(ev, now)
		var hitl, status any
		if ev.HumanInTheLoop != nil {
			b, err := json.Marshal(ev.HumanInTheLoop)
			if err != nil {
				return nil, domain.Storage(op, fmt.Errorf("encode human_in_the_loop: %w", err))
			}
			hitl = string(b)
			status = string(ev.HumanInTheLoopStatus.Status)
		}
		var chat any
		if !domain.IsEmptyJSON(ev.Chat) {
			chat = string(ev.Chat)
		}
		out[i] = ev
		batch.Queue(insertEventSQL,
			ev.SourceApp, ev.SessionID, ev.HookEventType, string(ev.Payload), chat,
			ev.Summary, ev.Timestamp, ev.ModelName, hitl, status)
	}

	err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for i := range out {
			if err := br.QueryRow().Scan(&out[i].ID); err != nil {
				_ = br.Close()
				return fmt.Errorf("insert event %d of %d: %w", i+1, len(out), err)
			}
		}
		return br.Close()
	})
	if err != nil {
		return nil, domain.Storage(op, err)
	}
	return out, nil
}

// ResolveHITL moves a pending HITL event to responded inside one
// transaction; the row is locked while its status is checked.
func (db *DB) ResolveHITL(ctx context.Context, id int64, response json.RawMessage) (domain.Event, error) {
	const op = "events.resolve_hitl"
	respondedAt := db.clock.Now().UnixMilli()

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return domain.Event{}, domain.Storage(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ev, err := scanEvent(tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id))
	switch {
	case isNoRows(err):
		return domain.Event{}, domain.NotFound(op, fmt.Sprintf("event %d not found", id))
	case err != nil:
		return domain.Event{}, domain.Storage(op, err)
	case ev.HumanInTheLoop == nil || ev.HumanInTheLoopStatus == nil:
		return domain.Event{}, domain.Conflict(op, fmt.Sprintf("event %d has no human-in-the-loop request", id))
	case ev.HumanInTheLoopStatus.Status != domain.HITLPending:
		return domain.Event{}, domain.Conflict(op, fmt.Sprintf("event %d already responded", id))
	}

	_, err = tx.Exec(ctx,
		`UPDATE events SET hitl_status = $1, hitl_response = $2::json, hitl_responded_at = $3 WHERE id = $4`,
		string(domain.HITLResponded), string(response), respondedAt, id)
	if err != nil {
		return domain.Event{}, domain.Storage(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Event{}, domain.Storage(op, err)
	}

	ev.HumanInTheLoopStatus = &domain.HITLStatus{
		Status:      domain.HITLResponded,
		RespondedAt: respondedAt,
		Response:    response,
	}
	return ev, nil
}
