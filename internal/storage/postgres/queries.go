package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"example.com/agentwatch/internal/domain"
)

const eventColumns = `id, source_app, session_id, hook_event_type, payload::text, chat::text, summary,
	timestamp, model_name, human_in_the_loop::text, hitl_status, hitl_response::text, hitl_responded_at`

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		ev                       domain.Event
		payload                  string
		chat, hitl, status, resp *string
		respondedAt              *int64
	)
	err := row.Scan(&ev.ID, &ev.SourceApp, &ev.SessionID, &ev.HookEventType, &payload, &chat, &ev.Summary,
		&ev.Timestamp, &ev.ModelName, &hitl, &status, &resp, &respondedAt)
	if err != nil {
		return domain.Event{}, err
	}
	ev.Payload = json.RawMessage(payload)
	if chat != nil {
		ev.Chat = json.RawMessage(*chat)
	}
	if hitl != nil {
		var h domain.HumanInTheLoop
		if err := json.Unmarshal([]byte(*hitl), &h); err != nil {
			return domain.Event{}, fmt.Errorf("decode human_in_the_loop of event %d: %w", ev.ID, err)
		}
		ev.HumanInTheLoop = &h
	}
	if status != nil {
		st := &domain.HITLStatus{Status: domain.HITLState(*status)}
		if resp != nil {
			st.Response = json.RawMessage(*resp)
		}
		if respondedAt != nil {
			st.RespondedAt = *respondedAt
		}
		ev.HumanInTheLoopStatus = st
	}
	return ev, nil
}

func (db *DB) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	ev, err := scanEvent(db.Pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if isNoRows(err) {
		return domain.Event{}, domain.NotFound("events.get", fmt.Sprintf("event %d not found", id))
	}
	if err != nil {
		return domain.Event{}, domain.Storage("events.get", err)
	}
	return ev, nil
}

// RecentEvents returns the limit events with the largest timestamps,
// oldest first.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY timestamp DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, domain.Storage("events.recent", err)
	}
	defer rows.Close()

	out := []domain.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, domain.Storage("events.recent", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage("events.recent", err)
	}
	slices.Reverse(out)
	return out, nil
}

func (db *DB) FilterOptions(ctx context.Context) (domain.FilterOptions, error) {
	var opts domain.FilterOptions
	for _, q := range []struct {
		column string
		dst    *[]string
	}{
		{"source_app", &opts.SourceApps},
		{"session_id", &opts.SessionIDs},
		{"hook_event_type", &opts.HookEventTypes},
	} {
		rows, err := db.Pool.Query(ctx, fmt.Sprintf(`SELECT DISTINCT %[1]s FROM events ORDER BY %[1]s`, q.column))
		if err != nil {
			return domain.FilterOptions{}, domain.Storage("events.filter_options", err)
		}
		vals, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return domain.FilterOptions{}, domain.Storage("events.filter_options", err)
		}
		if vals == nil {
			vals = []string{}
		}
		*q.dst = vals
	}
	return opts, nil
}

func (db *DB) ThemeStats(ctx context.Context) (domain.ThemeStats, error) {
	var st domain.ThemeStats
	err := db.Pool.QueryRow(ctx, `
SELECT
  COUNT(*)::bigint,
  COUNT(*) FILTER (WHERE is_public)::bigint,
  COALESCE(SUM(download_count), 0)::bigint,
  COALESCE(AVG(rating) FILTER (WHERE rating_count > 0), 0)::double precision,
  COALESCE(SUM(rating_count), 0)::bigint
FROM themes`).Scan(&st.TotalThemes, &st.PublicThemes, &st.TotalDownloads, &st.AverageRating, &st.TotalRatings)
	if err != nil {
		return domain.ThemeStats{}, domain.Storage("themes.stats", fmt.Errorf("scan stats: %w", err))
	}
	st.PrivateThemes = st.TotalThemes - st.PublicThemes
	return st, nil
}
