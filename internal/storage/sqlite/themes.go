package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"example.com/agentwatch/internal/domain"
)

const themeColumns = `id, name, display_name, description, colors, is_public, author_id, author_name,
	tags, created_at, updated_at, download_count, rating, rating_count`

var themeSortColumns = map[string]string{
	"name":      "name",
	"created":   "created_at",
	"updated":   "updated_at",
	"downloads": "download_count",
	"rating":    "rating",
}

func (s *Store) CreateTheme(ctx context.Context, t domain.Theme) error {
	const op = "themes.create"
	colors, tags, err := encodeThemeJSON(t)
	if err != nil {
		return domain.Storage(op, err)
	}
	err = s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO themes (`+themeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				t.ID, t.Name, t.DisplayName, t.Description, colors, t.IsPublic, t.AuthorID, t.AuthorName,
				tags, t.CreatedAt, t.UpdatedAt, t.DownloadCount, t.Rating, t.RatingCount,
			}})
	})
	if sqlite.ErrCode(err) == sqlite.ResultConstraintUnique || sqlite.ErrCode(err) == sqlite.ResultConstraintPrimaryKey {
		return domain.Validation(op, domain.FieldError{Field: "name", Code: domain.CodeDuplicate, Message: "theme name already exists"})
	}
	if err != nil {
		return domain.Storage(op, err)
	}
	return nil
}

func (s *Store) GetTheme(ctx context.Context, id string) (domain.Theme, error) {
	return s.getThemeWhere(ctx, "themes.get", "id", id)
}

func (s *Store) GetThemeByName(ctx context.Context, name string) (domain.Theme, error) {
	return s.getThemeWhere(ctx, "themes.get_by_name", "name", name)
}

func (s *Store) getThemeWhere(ctx context.Context, op, column, value string) (domain.Theme, error) {
	var themes []domain.Theme
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+themeColumns+` FROM themes WHERE `+column+` = ?`,
			&sqlitex.ExecOptions{Args: []any{value}, ResultFunc: collectThemes(&themes)})
	})
	if err != nil {
		return domain.Theme{}, domain.Storage(op, err)
	}
	if len(themes) == 0 {
		return domain.Theme{}, domain.NotFound(op, fmt.Sprintf("theme %s not found", value))
	}
	return themes[0], nil
}

// UpdateTheme writes the mutable fields of t. Identity and counters are
// left untouched.
func (s *Store) UpdateTheme(ctx context.Context, t domain.Theme) error {
	const op = "themes.update"
	colors, tags, err := encodeThemeJSON(t)
	if err != nil {
		return domain.Storage(op, err)
	}
	var changed int
	err = s.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`UPDATE themes SET display_name = ?, description = ?, colors = ?, is_public = ?,
			 author_name = ?, tags = ?, updated_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{
				t.DisplayName, t.Description, colors, t.IsPublic, t.AuthorName, tags, t.UpdatedAt, t.ID,
			}})
		changed = conn.Changes()
		return err
	})
	if err != nil {
		return domain.Storage(op, err)
	}
	if changed == 0 {
		return domain.NotFound(op, fmt.Sprintf("theme %s not found", t.ID))
	}
	return nil
}

func (s *Store) DeleteTheme(ctx context.Context, id string) error {
	const op = "themes.delete"
	var changed int
	err := s.withTx(ctx, func(conn *sqlite.Conn) error {
		for _, q := range []string{
			`DELETE FROM theme_ratings WHERE theme_id = ?`,
			`DELETE FROM theme_shares WHERE theme_id = ?`,
			`DELETE FROM themes WHERE id = ?`,
		} {
			if err := sqlitex.Execute(conn, q, &sqlitex.ExecOptions{Args: []any{id}}); err != nil {
				return err
			}
		}
		changed = conn.Changes()
		return nil
	})
	if err != nil {
		return domain.Storage(op, err)
	}
	if changed == 0 {
		return domain.NotFound(op, fmt.Sprintf("theme %s not found", id))
	}
	return nil
}

// SearchThemes returns public themes, optionally of one author. With
// q.IncludePrivate and an author set, that author's private themes are
// returned too.
func (s *Store) SearchThemes(ctx context.Context, q domain.ThemeQuery) ([]domain.Theme, error) {
	var (
		conds []string
		args  []any
	)
	if q.AuthorID != "" {
		conds = append(conds, "author_id = ?")
		args = append(args, q.AuthorID)
	}
	if q.AuthorID == "" || !q.IncludePrivate {
		conds = append(conds, "is_public = 1")
	}
	if q.Query != "" {
		like := "%" + q.Query + "%"
		conds = append(conds, "(name LIKE ? OR display_name LIKE ? OR description LIKE ?)")
		args = append(args, like, like, like)
	}
	for _, tag := range q.Tags {
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(themes.tags) WHERE json_each.value = ?)")
		args = append(args, tag)
	}
	order := "created_at"
	if col, ok := themeSortColumns[q.SortBy]; ok {
		order = col
	}
	dir := "DESC"
	if strings.EqualFold(q.Order, "asc") {
		dir = "ASC"
	}
	query := fmt.Sprintf(`SELECT %s FROM themes WHERE %s ORDER BY %s %s, id ASC LIMIT ? OFFSET ?`,
		themeColumns, strings.Join(conds, " AND "), order, dir)
	args = append(args, q.Limit, q.Offset)

	themes := []domain.Theme{}
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args, ResultFunc: collectThemes(&themes)})
	})
	if err != nil {
		return nil, domain.Storage("themes.search", err)
	}
	return themes, nil
}

func (s *Store) IncrementDownloads(ctx context.Context, id string) error {
	var changed int
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `UPDATE themes SET download_count = download_count + 1 WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{id}})
		changed = conn.Changes()
		return err
	})
	if err != nil {
		return domain.Storage("themes.download", err)
	}
	if changed == 0 {
		return domain.NotFound("themes.download", fmt.Sprintf("theme %s not found", id))
	}
	return nil
}

// RateTheme records one user's rating, replacing any earlier one, and
// recomputes the theme's aggregate.
func (s *Store) RateTheme(ctx context.Context, themeID, userID string, rating int, now int64) error {
	const op = "themes.rate"
	errNoTheme := errors.New("no theme")
	err := s.withTx(ctx, func(conn *sqlite.Conn) error {
		exists := false
		err := sqlitex.Execute(conn, `SELECT 1 FROM themes WHERE id = ?`, &sqlitex.ExecOptions{
			Args:       []any{themeID},
			ResultFunc: func(*sqlite.Stmt) error { exists = true; return nil },
		})
		if err != nil {
			return err
		}
		if !exists {
			return errNoTheme
		}
		err = sqlitex.Execute(conn,
			`INSERT INTO theme_ratings (theme_id, user_id, rating, created_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (theme_id, user_id) DO UPDATE SET rating = excluded.rating, created_at = excluded.created_at`,
			&sqlitex.ExecOptions{Args: []any{themeID, userID, rating, now}})
		if err != nil {
			return err
		}
		return sqlitex.Execute(conn,
			`UPDATE themes SET
			   rating = (SELECT COALESCE(AVG(rating), 0) FROM theme_ratings WHERE theme_id = ?1),
			   rating_count = (SELECT COUNT(*) FROM theme_ratings WHERE theme_id = ?1)
			 WHERE id = ?1`,
			&sqlitex.ExecOptions{Args: []any{themeID}})
	})
	if errors.Is(err, errNoTheme) {
		return domain.NotFound(op, fmt.Sprintf("theme %s not found", themeID))
	}
	if err != nil {
		return domain.Storage(op, err)
	}
	return nil
}

func (s *Store) CreateShare(ctx context.Context, sh domain.ThemeShare) error {
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO theme_shares (token, theme_id, created_by, created_at) VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{sh.Token, sh.ThemeID, sh.CreatedBy, sh.CreatedAt}})
	})
	if err != nil {
		return domain.Storage("themes.share", err)
	}
	return nil
}

func (s *Store) GetShare(ctx context.Context, token string) (domain.ThemeShare, error) {
	var (
		sh    domain.ThemeShare
		found bool
	)
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT token, theme_id, created_by, created_at FROM theme_shares WHERE token = ?`,
			&sqlitex.ExecOptions{Args: []any{token}, ResultFunc: func(stmt *sqlite.Stmt) error {
				sh = domain.ThemeShare{
					Token:     stmt.ColumnText(0),
					ThemeID:   stmt.ColumnText(1),
					CreatedBy: stmt.ColumnText(2),
					CreatedAt: stmt.ColumnInt64(3),
				}
				found = true
				return nil
			}})
	})
	if err != nil {
		return domain.ThemeShare{}, domain.Storage("themes.get_share", err)
	}
	if !found {
		return domain.ThemeShare{}, domain.NotFound("themes.get_share", "share link not found")
	}
	return sh, nil
}

func (s *Store) ThemeStats(ctx context.Context) (domain.ThemeStats, error) {
	var st domain.ThemeStats
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT COUNT(*),
			        COALESCE(SUM(is_public), 0),
			        COALESCE(SUM(download_count), 0),
			        COALESCE(AVG(CASE WHEN rating_count > 0 THEN rating END), 0),
			        COALESCE(SUM(rating_count), 0)
			 FROM themes`,
			&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
				st.TotalThemes = stmt.ColumnInt64(0)
				st.PublicThemes = stmt.ColumnInt64(1)
				st.TotalDownloads = stmt.ColumnInt64(2)
				st.AverageRating = stmt.ColumnFloat(3)
				st.TotalRatings = stmt.ColumnInt64(4)
				return nil
			}})
	})
	if err != nil {
		return domain.ThemeStats{}, domain.Storage("themes.stats", err)
	}
	st.PrivateThemes = st.TotalThemes - st.PublicThemes
	return st, nil
}

func collectThemes(dst *[]domain.Theme) func(*sqlite.Stmt) error {
	return func(stmt *sqlite.Stmt) error {
		t := domain.Theme{
			ID:            stmt.ColumnText(0),
			Name:          stmt.ColumnText(1),
			DisplayName:   stmt.ColumnText(2),
			Description:   stmt.ColumnText(3),
			IsPublic:      stmt.ColumnInt64(5) != 0,
			AuthorID:      stmt.ColumnText(6),
			AuthorName:    stmt.ColumnText(7),
			CreatedAt:     stmt.ColumnInt64(9),
			UpdatedAt:     stmt.ColumnInt64(10),
			DownloadCount: stmt.ColumnInt64(11),
			Rating:        stmt.ColumnFloat(12),
			RatingCount:   stmt.ColumnInt64(13),
		}
		if err := json.Unmarshal([]byte(stmt.ColumnText(4)), &t.Colors); err != nil {
			return fmt.Errorf("decode colors of theme %s: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(stmt.ColumnText(8)), &t.Tags); err != nil {
			return fmt.Errorf("decode tags of theme %s: %w", t.ID, err)
		}
		if t.Tags == nil {
			t.Tags = []string{}
		}
		*dst = append(*dst, t)
		return nil
	}
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
