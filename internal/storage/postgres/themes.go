package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"example.com/agentwatch/internal/domain"
)

const themeColumns = `id, name, display_name, description, colors::text, is_public, author_id, author_name,
	tags::text, created_at, updated_at, download_count, rating, rating_count`

var themeSortColumns = map[string]string{
	"name":      "name",
	"created":   "created_at",
	"updated":   "updated_at",
	"downloads": "download_count",
	"rating":    "rating",
}

const uniqueViolation = "23505"

func (db *DB) CreateTheme(ctx context.Context, t domain.Theme) error {
	const op = "themes.create"
	colors, tags, err := encodeThemeJSON(t)
	if err != nil {
		return domain.Storage(op, err)
	}
	_, err = db.Pool.Exec(ctx,
		`INSERT INTO themes (id, name, display_name, description, colors, is_public, author_id, author_name,
		 tags, created_at, updated_at, download_count, rating, rating_count)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9::jsonb, $10, $11, $12, $13, $14)`,
		t.ID, t.Name, t.DisplayName, t.Description, colors, t.IsPublic, t.AuthorID, t.AuthorName,
		tags, t.CreatedAt, t.UpdatedAt, t.DownloadCount, t.Rating, t.RatingCount)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.Validation(op, domain.FieldError{Field: "name", Code: domain.CodeDuplicate, Message: "theme name already exists"})
	}
	if err != nil {
		return domain.Storage(op, err)
	}
	return nil
}

func (db *DB) GetTheme(ctx context.Context, id string) (domain.Theme, error) {
	return db.getThemeWhere(ctx, "themes.get", "id", id)
}

func (db *DB) GetThemeByName(ctx context.Context, name string) (domain.Theme, error) {
	return db.getThemeWhere(ctx, "themes.get_by_name", "name", name)
}

func (db *DB) getThemeWhere(ctx context.Context, op, column, value string) (domain.Theme, error) {
	t, err := scanTheme(db.Pool.QueryRow(ctx, `SELECT `+themeColumns+` FROM themes WHERE `+column+` = $1`, value))
	if isNoRows(err) {
		return domain.Theme{}, domain.NotFound(op, fmt.Sprintf("theme %s not found", value))
	}
	if err != nil {
		return domain.Theme{}, domain.Storage(op, err)
	}
	return t, nil
}

func (db *DB) UpdateTheme(ctx context.Context, t domain.Theme) error {
	const op = "themes.update"
	colors, tags, err := encodeThemeJSON(t)
	if err != nil {
		return domain.Storage(op, err)
	}
	ct, err := db.Pool.Exec(ctx,
		`UPDATE themes SET display_name = $1, description = $2, colors = $3::jsonb, is_public = $4,
		 author_name = $5, tags = $6::jsonb, updated_at = $7 WHERE id = $8`,
		t.DisplayName, t.Description, colors, t.IsPublic, t.AuthorName, tags, t.UpdatedAt, t.ID)
	if err != nil {
		return domain.Storage(op, err)
	}
	if ct.RowsAffected() == 0 {
		return domain.NotFound(op, fmt.Sprintf("theme %s not found", t.ID))
	}
	return nil
}

// DeleteTheme relies on ON DELETE CASCADE for ratings and shares.
func (db *DB) DeleteTheme(ctx context.Context, id string) error {
	ct, err := db.Pool.Exec(ctx, `DELETE FROM themes WHERE id = $1`, id)
	if err != nil {
		return domain.Storage("themes.delete", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.NotFound("themes.delete", fmt.Sprintf("theme %s not found", id))
	}
	return nil
}

func (db *DB) SearchThemes(ctx context.Context, q domain.ThemeQuery) ([]domain.Theme, error) {
	var (
		cond []string
		args []any
	)
	idx := 1
	if q.AuthorID != "" {
		cond = append(cond, fmt.Sprintf("author_id = $%d", idx))
		args = append(args, q.AuthorID)
		idx++
	}
	if q.AuthorID == "" || !q.IncludePrivate {
		cond = append(cond, "is_public")
	}
	if q.Query != "" {
		cond = append(cond, fmt.Sprintf("(name ILIKE $%[1]d OR display_name ILIKE $%[1]d OR description ILIKE $%[1]d)", idx))
		args = append(args, "%"+q.Query+"%")
		idx++
	}
	for _, tag := range q.Tags {
		b, _ := json.Marshal([]string{tag})
		cond = append(cond, fmt.Sprintf("tags @> $%d::jsonb", idx))
		args = append(args, string(b))
		idx++
	}
	order := "created_at"
	if col, ok := themeSortColumns[q.SortBy]; ok {
		order = col
	}
	dir := "DESC"
	if strings.EqualFold(q.Order, "asc") {
		dir = "ASC"
	}
	sql := fmt.Sprintf(`SELECT %s FROM themes WHERE %s ORDER BY %s %s, id ASC LIMIT $%d OFFSET $%d`,
		themeColumns, strings.Join(cond, " AND "), order, dir, idx, idx+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, domain.Storage("themes.search", err)
	}
	defer rows.Close()
	out := []domain.Theme{}
	for rows.Next() {
		t, err := scanTheme(rows)
		if err != nil {
			return nil, domain.Storage("themes.search", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage("themes.search", err)
	}
	return out, nil
}

func (db *DB) IncrementDownloads(ctx context.Context, id string) error {
	ct, err := db.Pool.Exec(ctx, `UPDATE themes SET download_count = download_count + 1 WHERE id = $1`, id)
	if err != nil {
		return domain.Storage("themes.download", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.NotFound("themes.download", fmt.Sprintf("theme %s not found", id))
	}
	return nil
}

func (db *DB) RateTheme(ctx context.Context, themeID, userID string, rating int, now int64) error {
	const op = "themes.rate"
	err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM themes WHERE id = $1)`, themeID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.NotFound(op, fmt.Sprintf("theme %s not found", themeID))
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO theme_ratings (theme_id, user_id, rating, created_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (theme_id, user_id) DO UPDATE SET rating = EXCLUDED.rating, created_at = EXCLUDED.created_at`,
			themeID, userID, rating, now)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE themes SET
			   rating = (SELECT COALESCE(AVG(rating), 0) FROM theme_ratings WHERE theme_id = $1),
			   rating_count = (SELECT COUNT(*) FROM theme_ratings WHERE theme_id = $1)
			 WHERE id = $1`, themeID)
		return err
	})
	if domain.IsKind(err, domain.KindNotFound) {
		return err
	}
	if err != nil {
		return domain.Storage(op, err)
	}
	return nil
}

func (db *DB) CreateShare(ctx context.Context, sh domain.ThemeShare) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO theme_shares (token, theme_id, created_by, created_at) VALUES ($1, $2, $3, $4)`,
		sh.Token, sh.ThemeID, sh.CreatedBy, sh.CreatedAt)
	if err != nil {
		return domain.Storage("themes.share", err)
	}
	return nil
}

func (db *DB) GetShare(ctx context.Context, token string) (domain.ThemeShare, error) {
	var sh domain.ThemeShare
	err := db.Pool.QueryRow(ctx,
		`SELECT token, theme_id, created_by, created_at FROM theme_shares WHERE token = $1`, token).
		Scan(&sh.Token, &sh.ThemeID, &sh.CreatedBy, &sh.CreatedAt)
	if isNoRows(err) {
		return domain.ThemeShare{}, domain.NotFound("themes.get_share", "share link not found")
	}
	if err != nil {
		return domain.ThemeShare{}, domain.Storage("themes.get_share", err)
	}
	return sh, nil
}

func scanTheme(row pgx.Row) (domain.Theme, error) {
	var (
		t            domain.Theme
		colors, tags string
	)
	err := row.Scan(&t.ID, &t.Name, &t.DisplayName, &t.Description, &colors, &t.IsPublic, &t.AuthorID,
		&t.AuthorName, &tags, &t.CreatedAt, &t.UpdatedAt, &t.DownloadCount, &t.Rating, &t.RatingCount)
	if err != nil {
		return domain.Theme{}, err
	}
	if err := json.Unmarshal([]byte(colors), &t.Colors); err != nil {
		return domain.Theme{}, fmt.Errorf("decode colors of theme %s: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return domain.Theme{}, fmt.Errorf("decode tags of theme %s: %w", t.ID, err)
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	return t, nil
}

func encodeThemeJSON(t domain.Theme) (colors, tags string, err error) {
	c, err := json.Marshal(t.Colors)
	if err != nil {
		return "", "", fmt.Errorf("encode colors: %w", err)
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	tg, err := json.Marshal(t.Tags)
	if err != nil {
		return "", "", fmt.Errorf("encode tags: %w", err)
	}
	return string(c), string(tg), nil
}
