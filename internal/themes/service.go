// Package themes implements theme authoring, sharing and rating on top of
// the store. Every mutating call takes the acting user id.
package themes

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"example.com/agentwatch/internal/clock"
	"example.com/agentwatch/internal/domain"
	"example.com/agentwatch/internal/fingerprint"
	"example.com/agentwatch/internal/logging"
)

const (
	SnapshotVersion = "1.0"

	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

type Store interface {
	CreateTheme(ctx context.Context, t domain.Theme) error
	GetTheme(ctx context.Context, id string) (domain.Theme, error)
	GetThemeByName(ctx context.Context, name string) (domain.Theme, error)
	UpdateTheme(ctx context.Context, t domain.Theme) error
	DeleteTheme(ctx context.Context, id string) error
	SearchThemes(ctx context.Context, q domain.ThemeQuery) ([]domain.Theme, error)
	IncrementDownloads(ctx context.Context, id string) error
	RateTheme(ctx context.Context, themeID, userID string, rating int, now int64) error
	CreateShare(ctx context.Context, sh domain.ThemeShare) error
	GetShare(ctx context.Context, token string) (domain.ThemeShare, error)
	ThemeStats(ctx context.Context) (domain.ThemeStats, error)
}

// CreateInput is the body of a create request. A nil IsPublic means
// public. Ownership always comes from the acting user.
type CreateInput struct {
	Name        string             `json:"name"`
	DisplayName string             `json:"display_name"`
	Description string             `json:"description"`
	Colors      domain.ThemeColors `json:"colors"`
	IsPublic    *bool              `json:"is_public"`
	AuthorName  string             `json:"author_name"`
	Tags        []string           `json:"tags"`
}

type Service struct {
	store Store
	clock clock.Clock
	log   *zerolog.Logger
}

func NewService(store Store, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{store: store, clock: clk, log: logging.For("themes")}
}

func (s *Service) now() int64 { return s.clock.Now().UnixMilli() }

// Create stores a new theme owned by actor.
func (s *Service) Create(ctx context.Context, actor string, in CreateInput) (domain.Theme, error) {
	const op = "themes.create"
	if actor == "" {
		return domain.Theme{}, domain.Unauthorized(op, "user identity required")
	}
	public := true
	if in.IsPublic != nil {
		public = *in.IsPublic
	}
	now := s.now()
	t := domain.Theme{
		ID:          uuid.NewString(),
		Name:        SanitizeName(in.Name),
		DisplayName: in.DisplayName,
		Description: in.Description,
		Colors:      in.Colors,
		IsPublic:    public,
		AuthorID:    actor,
		AuthorName:  in.AuthorName,
		Tags:        in.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if err := s.insert(ctx, op, t); err != nil {
		return domain.Theme{}, err
	}
	s.log.Info().Str("theme_id", t.ID).Str("name", t.Name).Str("author_id", t.AuthorID).Msg("theme created")
	return t, nil
}

func (s *Service) insert(ctx context.Context, op string, t domain.Theme) error {
	if errs := validateTheme(&t); len(errs) > 0 {
		return domain.Validation(op, errs...)
	}
	_, err := s.store.GetThemeByName(ctx, t.Name)
	switch {
	case err == nil:
		return domain.Validation(op, domain.FieldError{Field: "name", Code: domain.CodeDuplicate, Message: "theme name already exists"})
	case !domain.IsKind(err, domain.KindNotFound):
		return err
	}
	return s.store.CreateTheme(ctx, t)
}

// Get returns a theme visible to actor: any public theme, or the actor's
// own private ones.
func (s *Service) Get(ctx context.Context, actor, id string) (domain.Theme, error) {
	t, err := s.store.GetTheme(ctx, id)
	if err != nil {
		return domain.Theme{}, err
	}
	if !t.IsPublic && (actor == "" || actor != t.AuthorID) {
		return domain.Theme{}, domain.NotFound("themes.get", fmt.Sprintf("theme %s not found", id))
	}
	return t, nil
}

var immutableFields = []string{"id", "name", "author_id", "created_at", "updated_at", "download_count", "rating", "rating_count"}

// Update applies a partial update. Only display_name, description,
// colors, is_public, tags and author_name may change; a differing value
// for any identity or store-maintained field is rejected as IMMUTABLE.
func (s *Service) Update(ctx context.Context, actor, id string, patch map[string]json.RawMessage) (domain.Theme, error) {
	const op = "themes.update"
	t, err := s.store.GetTheme(ctx, id)
	if err != nil {
		return domain.Theme{}, err
	}
	if err := requireAuthor(op, actor, t); err != nil {
		return domain.Theme{}, err
	}

	current, err := fieldValues(t)
	if err != nil {
		return domain.Theme{}, domain.Storage(op, err)
	}

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []domain.FieldError
	for _, k := range keys {
		raw := patch[k]
		var dst any
		switch k {
		case "display_name":
			dst = &t.DisplayName
		case "description":
			dst = &t.Description
		case "colors":
			dst = &t.Colors
		case "is_public":
			dst = &t.IsPublic
		case "tags":
			dst = &t.Tags
		case "author_name":
			dst = &t.AuthorName
		}
		if dst != nil {
			if err := json.Unmarshal(raw, dst); err != nil {
				errs = append(errs, domain.FieldError{Field: k, Code: domain.CodeInvalidFormat, Message: "wrong type"})
			}
			continue
		}
		if isImmutable(k) {
			if !sameJSON(current[k], raw) {
				errs = append(errs, domain.FieldError{Field: k, Code: domain.CodeImmutable, Message: "cannot be changed"})
			}
			continue
		}
		errs = append(errs, domain.FieldError{Field: k, Code: domain.CodeInvalidValue, Message: "unknown field"})
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if len(errs) == 0 {
		errs = validateTheme(&t)
	}
	if len(errs) > 0 {
		return domain.Theme{}, domain.Validation(op, errs...)
	}

	t.UpdatedAt = s.now()
	if err := s.store.UpdateTheme(ctx, t); err != nil {
		return domain.Theme{}, err
	}
	return t, nil
}

func isImmutable(k string) bool {
	for _, f := range immutableFields {
		if f == k {
			return true
		}
	}
	return false
}

func fieldValues(t domain.Theme) (map[string]json.RawMessage, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func sameJSON(a, b json.RawMessage) bool {
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

func requireAuthor(op, actor string, t domain.Theme) error {
	if actor == "" {
		return domain.Unauthorized(op, "user identity required")
	}
	if actor != t.AuthorID {
		return domain.Unauthorized(op, "only the author may modify this theme")
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, actor, id string) error {
	const op = "themes.delete"
	t, err := s.store.GetTheme(ctx, id)
	if err != nil {
		return err
	}
	if err := requireAuthor(op, actor, t); err != nil {
		return err
	}
	if err := s.store.DeleteTheme(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("theme_id", id).Str("author_id", actor).Msg("theme deleted")
	return nil
}

var sortKeys = map[string]bool{"": true, "name": true, "created": true, "updated": true, "downloads": true, "rating": true}

// Search lists public themes. An author searching their own themes
// (q.AuthorID == actor) also sees the private ones.
func (s *Service) Search(ctx context.Context, actor string, q domain.ThemeQuery) ([]domain.Theme, error) {
	const op = "themes.search"
	var errs []domain.FieldError
	if !sortKeys[q.SortBy] {
		errs = append(errs, domain.FieldError{Field: "sort_by", Code: domain.CodeInvalidValue, Message: "one of name, created, updated, downloads, rating"})
	}
	if q.Order != "" && q.Order != "asc" && q.Order != "desc" {
		errs = append(errs, domain.FieldError{Field: "order", Code: domain.CodeInvalidValue, Message: "asc or desc"})
	}
	if q.Offset < 0 {
		errs = append(errs, domain.FieldError{Field: "offset", Code: domain.CodeInvalidValue, Message: "must not be negative"})
	}
	if len(errs) > 0 {
		return nil, domain.Validation(op, errs...)
	}
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultSearchLimit
	case q.Limit > MaxSearchLimit:
		q.Limit = MaxSearchLimit
	}
	q.IncludePrivate = actor != "" && q.AuthorID == actor
	return s.store.SearchThemes(ctx, q)
}

// Export returns a portable snapshot without store identity.
func (s *Service) Export(ctx context.Context, actor, id string) (domain.ThemeSnapshot, error) {
	t, err := s.Get(ctx, actor, id)
	if err != nil {
		return domain.ThemeSnapshot{}, err
	}
	snap := domain.ThemeSnapshot{
		Name:        t.Name,
		DisplayName: t.DisplayName,
		Description: t.Description,
		Colors:      t.Colors,
		Tags:        t.Tags,
		AuthorName:  t.AuthorName,
		ExportedAt:  s.now(),
		Version:     SnapshotVersion,
	}
	snap.Checksum = fingerprint.ThemeChecksum(snap)
	return snap, nil
}

// Import creates a private copy of snap owned by actor. A checksum, when
// present, must match the snapshot content.
func (s *Service) Import(ctx context.Context, actor string, snap domain.ThemeSnapshot) (domain.Theme, error) {
	const op = "themes.import"
	if actor == "" {
		return domain.Theme{}, domain.Unauthorized(op, "user identity required")
	}
	if snap.Checksum != "" && snap.Checksum != fingerprint.ThemeChecksum(snap) {
		return domain.Theme{}, domain.Validation(op, domain.FieldError{Field: "checksum", Code: domain.CodeInvalidValue, Message: "does not match snapshot content"})
	}
	now := s.now()
	t := domain.Theme{
		ID:          uuid.NewString(),
		Name:        SanitizeName(snap.Name),
		DisplayName: snap.DisplayName,
		Description: snap.Description,
		Colors:      snap.Colors,
		IsPublic:    false,
		AuthorID:    actor,
		AuthorName:  snap.AuthorName,
		Tags:        snap.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if err := s.insert(ctx, op, t); err != nil {
		return domain.Theme{}, err
	}
	s.log.Info().Str("theme_id", t.ID).Str("name", t.Name).Str("author_id", actor).Msg("theme imported")
	return t, nil
}

// Download counts one download and returns the theme.
func (s *Service) Download(ctx context.Context, actor, id string) (domain.Theme, error) {
	t, err := s.Get(ctx, actor, id)
	if err != nil {
		return domain.Theme{}, err
	}
	if err := s.store.IncrementDownloads(ctx, id); err != nil {
		return domain.Theme{}, err
	}
	t.DownloadCount++
	return t, nil
}

// Rate records actor's 1..5 rating, replacing any earlier one.
func (s *Service) Rate(ctx context.Context, actor, id string, rating int) (domain.Theme, error) {
	const op = "themes.rate"
	if actor == "" {
		return domain.Theme{}, domain.Unauthorized(op, "user identity required")
	}
	if rating < 1 || rating > 5 {
		return domain.Theme{}, domain.Validation(op, domain.FieldError{Field: "rating", Code: domain.CodeInvalidValue, Message: "must be between 1 and 5"})
	}
	if _, err := s.Get(ctx, actor, id); err != nil {
		return domain.Theme{}, err
	}
	if err := s.store.RateTheme(ctx, id, actor, rating, s.now()); err != nil {
		return domain.Theme{}, err
	}
	return s.store.GetTheme(ctx, id)
}

// Share issues a link token. Only the author may share.
func (s *Service) Share(ctx context.Context, actor, id string) (domain.ThemeShare, error) {
	const op = "themes.share"
	t, err := s.store.GetTheme(ctx, id)
	if err != nil {
		return domain.ThemeShare{}, err
	}
	if err := requireAuthor(op, actor, t); err != nil {
		return domain.ThemeShare{}, err
	}
	sh := domain.ThemeShare{Token: uuid.NewString(), ThemeID: id, CreatedBy: actor, CreatedAt: s.now()}
	if err := s.store.CreateShare(ctx, sh); err != nil {
		return domain.ThemeShare{}, err
	}
	return sh, nil
}

// GetShared resolves a share token, regardless of theme visibility.
func (s *Service) GetShared(ctx context.Context, token string) (domain.Theme, error) {
	sh, err := s.store.GetShare(ctx, token)
	if err != nil {
		return domain.Theme{}, err
	}
	return s.store.GetTheme(ctx, sh.ThemeID)
}

func (s *Service) Stats(ctx context.Context) (domain.ThemeStats, error) {
	return s.store.ThemeStats(ctx)
}
