package sqlite

import (
	"context"
	"fmt"
	"slices"

	"github.com/goccy/go-json"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"example.com/agentwatch/internal/domain"
)

const eventColumns = `id, source_app, session_id, hook_event_type, payload, chat, summary,
	timestamp, model_name, human_in_the_loop, hitl_status, hitl_response, hitl_responded_at`

const insertEventSQL = `INSERT INTO events
	(source_app, session_id, hook_event_type, payload, chat, summary, timestamp, model_name, human_in_the_loop, hitl_status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertEvents persists a batch in one transaction and returns the
// stored events with ids, timestamps and HITL status filled in. Any
// caller-supplied id or HITL status is ignored.
func (s *Store) InsertEvents(ctx context.Context, events []domain.Event) ([]domain.Event, error) {
	const op = "events.insert"
	if len(events) == 0 {
		return nil, nil
	}
	now := s.clock.Now().UnixMilli()
	out := make([]domain.Event, 0, len(events))

	err := s.withTx(ctx, func(conn *sqlite.Conn) error {
		for _, ev := range events {
			ev = domain.PrepareInsert(ev, now)
			hitl, err := marshalNullable(ev.HumanInTheLoop)
			if err != nil {
				return err
			}
			var status any
			if ev.HumanInTheLoopStatus != nil {
				status = string(ev.HumanInTheLoopStatus.Status)
			}
			err = sqlitex.Execute(conn, insertEventSQL, &sqlitex.ExecOptions{
				Args: []any{
					ev.SourceApp, ev.SessionID, ev.HookEventType, string(ev.Payload),
					rawOrNil(ev.Chat), ev.Summary, ev.Timestamp, ev.ModelName, hitl, status,
				},
			})
			if err != nil {
				return fmt.Errorf("insert event: %w", err)
			}
			ev.ID = conn.LastInsertRowID()
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, domain.Storage(op, err)
	}
	return out, nil
}

// RecentEvents returns the limit events with the largest timestamps,
// oldest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	out := []domain.Event{}
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT `+eventColumns+` FROM events ORDER BY timestamp DESC, id DESC LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{limit},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					ev, err := scanEvent(stmt)
					if err != nil {
						return err
					}
					out = append(out, ev)
					return nil
				},
			})
	})
	if err != nil {
		return nil, domain.Storage("events.recent", err)
	}
	slices.Reverse(out)
	return out, nil
}

func (s *Store) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	var (
		ev    domain.Event
		found bool
	)
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		var err error
		ev, found, err = getEvent(conn, id)
		return err
	})
	if err != nil {
		return domain.Event{}, domain.Storage("events.get", err)
	}
	if !found {
		return domain.Event{}, domain.NotFound("events.get", fmt.Sprintf("event %d not found", id))
	}
	return ev, nil
}

func getEvent(conn *sqlite.Conn, id int64) (ev domain.Event, found bool, err error) {
	err = sqlitex.Execute(conn, `SELECT `+eventColumns+` FROM events WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var scanErr error
			ev, scanErr = scanEvent(stmt)
			found = scanErr == nil
			return scanErr
		},
	})
	return ev, found, err
}

// FilterOptions returns each indexed vocabulary sorted ascending.
func (s *Store) FilterOptions(ctx context.Context) (domain.FilterOptions, error) {
	opts := domain.FilterOptions{SourceApps: []string{}, SessionIDs: []string{}, HookEventTypes: []string{}}
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		for _, q := range []struct {
			column string
			dst    *[]string
		}{
			{"source_app", &opts.SourceApps},
			{"session_id", &opts.SessionIDs},
			{"hook_event_type", &opts.HookEventTypes},
		} {
			err := sqlitex.Execute(conn,
				fmt.Sprintf(`SELECT DISTINCT %[1]s FROM events ORDER BY %[1]s`, q.column),
				&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
					*q.dst = append(*q.dst, stmt.ColumnText(0))
					return nil
				}})
			if err != nil {
				return fmt.Errorf("distinct %s: %w", q.column, err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.FilterOptions{}, domain.Storage("events.filter_options", err)
	}
	return opts, nil
}

// ResolveHITL moves a pending HITL event to responded. It fails with
// not_found for unknown ids and conflict when there is no pending
// request; in both cases nothing is written.
func (s *Store) ResolveHITL(ctx context.Context, id int64, response json.RawMessage) (domain.Event, error) {
	const op = "events.resolve_hitl"
	var (
		ev      domain.Event
		opErr   error
		respond = s.clock.Now().UnixMilli()
	)
	err := s.withTx(ctx, func(conn *sqlite.Conn) error {
		cur, found, err := getEvent(conn, id)
		if err != nil {
			return err
		}
		if opErr = checkResolvable(op, id, cur, found); opErr != nil {
			return nil
		}
		err = sqlitex.Execute(conn,
			`UPDATE events SET hitl_status = ?, hitl_response = ?, hitl_responded_at = ?
			 WHERE id = ? AND hitl_status = ?`,
			&sqlitex.ExecOptions{Args: []any{
				string(domain.HITLResponded), string(response), respond, id, string(domain.HITLPending),
			}})
		if err != nil {
			return fmt.Errorf("update hitl status: %w", err)
		}
		if conn.Changes() != 1 {
			opErr = domain.Conflict(op, fmt.Sprintf("event %d was resolved concurrently", id))
			return nil
		}
		cur.HumanInTheLoopStatus = &domain.HITLStatus{
			Status:      domain.HITLResponded,
			RespondedAt: respond,
			Response:    response,
		}
		ev = cur
		return nil
	})
	if err != nil {
		return domain.Event{}, domain.Storage(op, err)
	}
	if opErr != nil {
		return domain.Event{}, opErr
	}
	return ev, nil
}

func checkResolvable(op string, id int64, ev domain.Event, found bool) error {
	switch {
	case !found:
		return domain.NotFound(op, fmt.Sprintf("event %d not found", id))
	case ev.HumanInTheLoop == nil || ev.HumanInTheLoopStatus == nil:
		return domain.Conflict(op, fmt.Sprintf("event %d has no human-in-the-loop request", id))
	case ev.HumanInTheLoopStatus.Status != domain.HITLPending:
		return domain.Conflict(op, fmt.Sprintf("event %d already responded", id))
	}
	return nil
}

func scanEvent(stmt *sqlite.Stmt) (domain.Event, error) {
	ev := domain.Event{
		ID:            stmt.ColumnInt64(0),
		SourceApp:     stmt.ColumnText(1),
		SessionID:     stmt.ColumnText(2),
		HookEventType: stmt.ColumnText(3),
		Payload:       json.RawMessage(stmt.ColumnText(4)),
		Summary:       stmt.ColumnText(6),
		Timestamp:     stmt.ColumnInt64(7),
		ModelName:     stmt.ColumnText(8),
	}
	if !stmt.ColumnIsNull(5) {
		ev.Chat = json.RawMessage(stmt.ColumnText(5))
	}
	if !stmt.ColumnIsNull(9) {
		var h domain.HumanInTheLoop
		if err := json.Unmarshal([]byte(stmt.ColumnText(9)), &h); err != nil {
			return domain.Event{}, fmt.Errorf("decode human_in_the_loop of event %d: %w", ev.ID, err)
		}
		ev.HumanInTheLoop = &h
	}
	if !stmt.ColumnIsNull(10) {
		st := &domain.HITLStatus{Status: domain.HITLState(stmt.ColumnText(10))}
		if !stmt.ColumnIsNull(11) {
			st.Response = json.RawMessage(stmt.ColumnText(11))
		}
		st.RespondedAt = stmt.ColumnInt64(12)
		ev.HumanInTheLoopStatus = st
	}
	return ev, nil
}

func marshalNullable(v *domain.HumanInTheLoop) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode human_in_the_loop: %w", err)
	}
	return string(b), nil
}

func rawOrNil(raw json.RawMessage) any {
	if domain.IsEmptyJSON(raw) {
		return nil
	}
	return string(raw)
}
