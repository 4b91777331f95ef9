package transporthttp

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"example.com/agentwatch/internal/domain"
	"example.com/agentwatch/internal/logging"
)

// Problem is an RFC 7807 body extended with the error kind and any
// field-level errors.
type Problem struct {
	Type   string              `json:"type,omitempty"`
	Title  string              `json:"title,omitempty"`
	Status int                 `json:"status,omitempty"`
	Detail string              `json:"detail,omitempty"`
	Kind   domain.Kind         `json:"kind,omitempty"`
	Errors []domain.FieldError `json:"errors,omitempty"`
}

func WriteProblem(w http.ResponseWriter, p Problem) {
	if p.Type == "" {
		p.Type = "about:blank"
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

var kindStatus = map[domain.Kind]struct {
	status int
	title  string
}{
	domain.KindValidation:   {http.StatusBadRequest, "validation failed"},
	domain.KindMalformed:    {http.StatusBadRequest, "malformed request"},
	domain.KindNotFound:     {http.StatusNotFound, "not found"},
	domain.KindUnauthorized: {http.StatusForbidden, "forbidden"},
	domain.KindConflict:     {http.StatusConflict, "conflict"},
	domain.KindOverloaded:   {http.StatusServiceUnavailable, "overloaded"},
	domain.KindStorage:      {http.StatusInternalServerError, "storage failure"},
}

// WriteError maps a service error onto a problem response. Storage
// failures are logged and reported without internal detail.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	m := kindStatus[kind]
	p := Problem{Title: m.title, Status: m.status, Kind: kind, Errors: domain.FieldsOf(err)}

	var de *domain.Error
	switch {
	case kind == domain.KindStorage:
		logging.For("http").Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		p.Detail = "the operation could not be completed"
	case errors.As(err, &de):
		p.Detail = de.Msg
	}
	if kind == domain.KindOverloaded {
		w.Header().Set("Retry-After", "1")
	}
	WriteProblem(w, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
