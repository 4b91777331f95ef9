package transporthttp

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"example.com/agentwatch/internal/domain"
	"example.com/agentwatch/internal/themes"
)

func actor(r *http.Request) string { return strings.TrimSpace(r.Header.Get(UserHeader)) }

func (d *ServerDeps) HandleCreateTheme(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var in themes.CreateInput
	if !decodeBody(w, r, "themes.create", &in) {
		return
	}
	t, err := d.Themes.Create(r.Context(), actor(r), in)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (d *ServerDeps) HandleSearchThemes(w http.ResponseWriter, r *http.Request) {
	const op = "themes.search"
	q := r.URL.Query()
	query := domain.ThemeQuery{
		Query:    q.Get("q"),
		AuthorID: q.Get("author_id"),
		SortBy:   q.Get("sort_by"),
		Order:    strings.ToLower(q.Get("order")),
	}
	if tags := q.Get("tags"); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				query.Tags = append(query.Tags, t)
			}
		}
	}
	var errs []domain.FieldError
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &query.Limit}, {"offset", &query.Offset}} {
		s := q.Get(p.name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			errs = append(errs, domain.FieldError{Field: p.name, Code: domain.CodeInvalidFormat, Message: "must be an integer"})
			continue
		}
		*p.dst = n
	}
	if len(errs) > 0 {
		WriteError(w, r, domain.Validation(op, errs...))
		return
	}
	list, err := d.Themes.Search(r.Context(), actor(r), query)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (d *ServerDeps) HandleThemeStats(w http.ResponseWriter, r *http.Request) {
	st, err := d.Themes.Stats(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (d *ServerDeps) HandleImportTheme(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var snap domain.ThemeSnapshot
	if !decodeBody(w, r, "themes.import", &snap) {
		return
	}
	t, err := d.Themes.Import(r.Context(), actor(r), snap)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (d *ServerDeps) HandleGetTheme(w http.ResponseWriter, r *http.Request) {
	t, err := d.Themes.Get(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (d *ServerDeps) HandleUpdateTheme(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var patch map[string]json.RawMessage
	if !decodeBody(w, r, "themes.update", &patch) {
		return
	}
	t, err := d.Themes.Update(r.Context(), actor(r), chi.URLParam(r, "id"), patch)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (d *ServerDeps) HandleDeleteTheme(w http.ResponseWriter, r *http.Request) {
	if err := d.Themes.Delete(r.Context(), actor(r), chi.URLParam(r, "id")); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *ServerDeps) HandleExportTheme(w http.ResponseWriter, r *http.Request) {
	snap, err := d.Themes.Export(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+snap.Name+`.json"`)
	writeJSON(w, http.StatusOK, snap)
}

func (d *ServerDeps) HandleDownloadTheme(w http.ResponseWriter, r *http.Request) {
	t, err := d.Themes.Download(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type rateRequest struct {
	Rating int `json:"rating"`
}

func (d *ServerDeps) HandleRateTheme(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var req rateRequest
	if !decodeBody(w, r, "themes.rate", &req) {
		return
	}
	t, err := d.Themes.Rate(r.Context(), actor(r), chi.URLParam(r, "id"), req.Rating)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (d *ServerDeps) HandleShareTheme(w http.ResponseWriter, r *http.Request) {
	sh, err := d.Themes.Share(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sh)
}

func (d *ServerDeps) HandleGetShared(w http.ResponseWriter, r *http.Request) {
	t, err := d.Themes.GetShared(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
