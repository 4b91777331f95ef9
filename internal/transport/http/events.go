package transporthttp

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"example.com/agentwatch/internal/aggregator"
	"example.com/agentwatch/internal/domain"
)

// readBody reads the whole request body, reporting an oversized body as
// 413. The body is read before decoding so the size error is not masked by
// a syntax error.
func readBody(w http.ResponseWriter, r *http.Request, op string) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			WriteProblem(w, Problem{Title: "request too large", Status: http.StatusRequestEntityTooLarge, Detail: "body exceeds the configured limit"})
			return nil, false
		}
		WriteError(w, r, domain.Malformed(op, err))
		return nil, false
	}
	return body, true
}

// decodeBody reads one JSON value into v. Unknown fields are ignored:
// hook producers add top-level fields freely.
func decodeBody(w http.ResponseWriter, r *http.Request, op string, v any) bool {
	body, ok := readBody(w, r, op)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		WriteError(w, r, domain.Malformed(op, err))
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, op string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, r, domain.Validation(op, domain.FieldError{Field: "id", Code: domain.CodeInvalidFormat, Message: "must be a positive integer"}))
		return 0, false
	}
	return id, true
}

// --- Events ---

func (d *ServerDeps) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var ev domain.Event
	if !decodeBody(w, r, "events.submit", &ev) {
		return
	}
	stored, err := d.Events.Submit(r.Context(), ev)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (d *ServerDeps) HandleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			WriteError(w, r, domain.Validation("events.recent", domain.FieldError{Field: "limit", Code: domain.CodeInvalidFormat, Message: "must be an integer"}))
			return
		}
		limit = n
	}
	events, err := d.Events.Recent(r.Context(), limit)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (d *ServerDeps) HandleFilterOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := d.Events.FilterOptions(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

// HandleRespond takes the raw body as the human response.
func (d *ServerDeps) HandleRespond(w http.ResponseWriter, r *http.Request) {
	const op = "events.respond"
	defer DrainBody(r)
	id, ok := pathID(w, r, op)
	if !ok {
		return
	}
	body, ok := readBody(w, r, op)
	if !ok {
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		WriteError(w, r, domain.Malformed(op, errors.New("response is not valid JSON")))
		return
	}
	updated, err := d.Events.RespondHITL(r.Context(), id, json.RawMessage(body))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type chartResponse struct {
	Range     aggregator.TimeRange    `json:"range"`
	Agent     string                  `json:"agent,omitempty"`
	Points    []aggregator.ChartPoint `json:"points"`
	Agents    int                     `json:"agents"`
	ToolCalls int                     `json:"tool_calls"`
	Total     int                     `json:"total"`
}

// HandleChart buckets the recent window server-side, for clients that do
// not aggregate themselves.
func (d *ServerDeps) HandleChart(w http.ResponseWriter, r *http.Request) {
	const op = "events.chart"
	q := r.URL.Query()
	rng := aggregator.Range1m
	if s := q.Get("range"); s != "" {
		parsed, err := aggregator.ParseRange(s)
		if err != nil {
			WriteError(w, r, domain.Validation(op, domain.FieldError{Field: "range", Code: domain.CodeInvalidValue, Message: "one of 1m, 3m, 5m, 10m"}))
			return
		}
		rng = parsed
	}
	agg, err := aggregator.New(aggregator.Options{Range: rng, AgentIDFilter: q.Get("agent"), Clock: d.Clock})
	if err != nil {
		WriteError(w, r, domain.Validation(op, domain.FieldError{Field: "range", Code: domain.CodeInvalidValue}))
		return
	}
	events, err := d.Events.Recent(r.Context(), d.Cfg.Events.RecentMax)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	agg.AddEvents(events)
	agg.Cleanup()

	writeJSON(w, http.StatusOK, chartResponse{
		Range:     rng,
		Agent:     q.Get("agent"),
		Points:    agg.GetChartData(),
		Agents:    agg.UniqueAgentCount(),
		ToolCalls: agg.ToolCallCount(),
		Total:     agg.TotalCount(),
	})
}
