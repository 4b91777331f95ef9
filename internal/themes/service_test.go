package themes

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"example.com/agentwatch/internal/clock"
	"example.com/agentwatch/internal/domain"
	"example.com/agentwatch/internal/logging"
	sqlitestore "example.com/agentwatch/internal/storage/sqlite"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

func newService(t *testing.T) (*Service, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(time.UnixMilli(1_700_000_000_000))
	store, err := sqlitestore.Open(context.Background(), sqlitestore.Config{
		Path:     filepath.Join(t.TempDir(), "themes.db"),
		PoolSize: 2,
		Clock:    clk,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewService(store, clk), clk
}

func validColors() domain.ThemeColors {
	return domain.ThemeColors{
		Primary: "#3b82f6", PrimaryHover: "#2563eb", PrimaryLight: "#dbeafe", PrimaryDark: "#1e40af",
		BgPrimary: "#ffffff", BgSecondary: "#f9fafb", BgTertiary: "#f3f4f6", BgQuaternary: "#e5e7eb",
		TextPrimary: "#111827", TextSecondary: "#374151", TextTertiary: "#6b7280", TextQuaternary: "#9ca3af",
		BorderPrimary: "#e5e7eb", BorderSecondary: "#d1d5db", BorderTertiary: "#9ca3af",
		AccentSuccess: "#10b981", AccentWarning: "#f59e0b", AccentError: "#ef4444", AccentInfo: "#3b82f6",
		Shadow: "0 1px 3px 0 rgb(0 0 0 / 0.1)", ShadowLg: "0 10px 15px -3px rgb(0 0 0 / 0.1)",
		HoverBg: "rgba(0, 0, 0, 0.05)", ActiveBg: "rgba(0, 0, 0, 0.1)", FocusRing: "#3b82f6",
	}
}

func input(name string) CreateInput {
	return CreateInput{Name: name, DisplayName: name, Colors: validColors(), Tags: []string{"light"}}
}

func codes(err error) map[string]string {
	out := map[string]string{}
	for _, f := range domain.FieldsOf(err) {
		out[f.Field] = f.Code
	}
	return out
}

func TestSanitizeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Invalid Name With Spaces!", "invalidnamewithspaces"},
		{"my-theme_2", "my-theme_2"},
		{"  Ocean ", "ocean"},
		{"!!!", ""},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCreate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	th, err := svc.Create(ctx, "alice", input("Invalid Name With Spaces!"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if th.Name != "invalidnamewithspaces" || !th.IsPublic || th.AuthorID != "alice" || th.ID == "" {
		t.Errorf("created theme = %+v", th)
	}
	if th.CreatedAt != 1_700_000_000_000 || th.UpdatedAt != th.CreatedAt {
		t.Errorf("timestamps = %d/%d", th.CreatedAt, th.UpdatedAt)
	}

	_, err = svc.Create(ctx, "bob", input("INVALID name with spaces"))
	if got := codes(err); got["name"] != domain.CodeDuplicate {
		t.Errorf("duplicate: got %v (%v)", got, err)
	}
	kept, err := svc.Get(ctx, "", th.ID)
	if err != nil || kept.AuthorID != "alice" {
		t.Errorf("existing theme changed: %+v, %v", kept, err)
	}

	_, err = svc.Create(ctx, "alice", input("???"))
	if got := codes(err); got["name"] != domain.CodeRequired {
		t.Errorf("empty name: got %v", got)
	}

	if _, err := svc.Create(ctx, "", input("anonymous")); !domain.IsKind(err, domain.KindUnauthorized) {
		t.Errorf("anonymous create: got %v, want unauthorized", err)
	}
	if _, err := svc.store.GetThemeByName(ctx, "anonymous"); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("anonymous create stored a theme: %v", err)
	}
}

func TestCreateReportsEveryFieldError(t *testing.T) {
	svc, _ := newService(t)
	in := input("broken")
	in.DisplayName = ""
	in.Colors.PrimaryHover = ""
	in.Colors.AccentError = "not-a-color"

	_, err := svc.Create(context.Background(), "alice", in)
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("got %v, want validation", err)
	}
	got := codes(err)
	want := map[string]string{
		"display_name":        domain.CodeRequired,
		"colors.primaryHover": domain.CodeRequired,
		"colors.accentError":  domain.CodeInvalidFormat,
	}
	for field, code := range want {
		if got[field] != code {
			t.Errorf("%s: got %q, want %q (all: %v)", field, got[field], code, got)
		}
	}
}

func TestCreatePrivate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	private := false
	in := input("secret")
	in.IsPublic = &private

	th, err := svc.Create(ctx, "alice", in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Get(ctx, "bob", th.ID); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("private theme visible to another user: %v", err)
	}
	if _, err := svc.Get(ctx, "alice", th.ID); err != nil {
		t.Errorf("author cannot read own theme: %v", err)
	}
}

func TestUpdate(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()
	th, err := svc.Create(ctx, "alice", input("ocean"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	clk.Advance(time.Minute)

	updated, err := svc.Update(ctx, "alice", th.ID, map[string]json.RawMessage{
		"display_name": json.RawMessage(`"Deep Ocean"`),
		"tags":         json.RawMessage(`["dark","blue"]`),
		"name":         json.RawMessage(`"ocean"`),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.DisplayName != "Deep Ocean" || len(updated.Tags) != 2 {
		t.Errorf("update not applied: %+v", updated)
	}
	if updated.UpdatedAt != th.CreatedAt+60_000 {
		t.Errorf("updated_at = %d", updated.UpdatedAt)
	}

	_, err = svc.Update(ctx, "alice", th.ID, map[string]json.RawMessage{
		"name":           json.RawMessage(`"renamed"`),
		"download_count": json.RawMessage(`99`),
		"bogus":          json.RawMessage(`1`),
	})
	got := codes(err)
	if got["name"] != domain.CodeImmutable || got["download_count"] != domain.CodeImmutable || got["bogus"] != domain.CodeInvalidValue {
		t.Errorf("immutable fields: got %v", got)
	}

	if _, err := svc.Update(ctx, "bob", th.ID, map[string]json.RawMessage{"description": json.RawMessage(`"x"`)}); !domain.IsKind(err, domain.KindUnauthorized) {
		t.Errorf("non-author update: got %v", err)
	}
	if _, err := svc.Update(ctx, "alice", "missing", nil); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("missing theme: got %v", err)
	}
}

func TestDeleteIsAuthorScoped(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	th, err := svc.Create(ctx, "alice", input("ocean"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.Delete(ctx, "bob", th.ID); !domain.IsKind(err, domain.KindUnauthorized) {
		t.Errorf("non-author delete: got %v", err)
	}
	if err := svc.Delete(ctx, "alice", th.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, "alice", th.ID); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("theme survived delete: %v", err)
	}
}

func TestSearch(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	private := false
	for _, name := range []string{"ocean", "forest", "desert"} {
		if _, err := svc.Create(ctx, "alice", input(name)); err != nil {
			t.Fatal(err)
		}
	}
	in := input("hidden")
	in.IsPublic = &private
	if _, err := svc.Create(ctx, "alice", in); err != nil {
		t.Fatal(err)
	}

	public, err := svc.Search(ctx, "", domain.ThemeQuery{SortBy: "name", Order: "asc"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(public) != 3 || public[0].Name != "desert" {
		t.Errorf("public search = %v", public)
	}
	mine, err := svc.Search(ctx, "alice", domain.ThemeQuery{AuthorID: "alice"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(mine) != 4 {
		t.Errorf("own author search returned %d, want 4", len(mine))
	}
	for _, actor := range []string{"", "bob"} {
		theirs, err := svc.Search(ctx, actor, domain.ThemeQuery{AuthorID: "alice"})
		if err != nil {
			t.Fatalf("Search as %q: %v", actor, err)
		}
		if len(theirs) != 3 {
			t.Errorf("author search as %q returned %d, want 3", actor, len(theirs))
		}
		for _, th := range theirs {
			if !th.IsPublic {
				t.Errorf("private theme %q visible to %q", th.Name, actor)
			}
		}
	}
	paged, err := svc.Search(ctx, "", domain.ThemeQuery{SortBy: "name", Order: "asc", Limit: 1, Offset: 1})
	if err != nil || len(paged) != 1 || paged[0].Name != "forest" {
		t.Errorf("paged search = %v, %v", paged, err)
	}
	if _, err := svc.Search(ctx, "", domain.ThemeQuery{SortBy: "color"}); !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("bad sort: got %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	th, err := svc.Create(ctx, "alice", input("ocean"))
	if err != nil {
		t.Fatal(err)
	}

	snap, err := svc.Export(ctx, "alice", th.ID)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	raw, _ := json.Marshal(snap)
	var fields map[string]any
	_ = json.Unmarshal(raw, &fields)
	if _, ok := fields["id"]; ok {
		t.Error("snapshot leaks id")
	}
	if _, ok := fields["author_id"]; ok {
		t.Error("snapshot leaks author_id")
	}

	if _, err := svc.Import(ctx, "bob", snap); codes(err)["name"] != domain.CodeDuplicate {
		t.Errorf("import collision: got %v", err)
	}

	snap.Name = "ocean-copy"
	if _, err := svc.Import(ctx, "bob", snap); codes(err)["checksum"] != domain.CodeInvalidValue {
		t.Errorf("tampered snapshot: got %v", err)
	}

	snap.Checksum = ""
	imported, err := svc.Import(ctx, "bob", snap)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imported.IsPublic || imported.AuthorID != "bob" || imported.ID == th.ID {
		t.Errorf("imported theme = %+v", imported)
	}
}

func TestDownloadRateShareStats(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	stats, err := svc.Stats(ctx)
	if err != nil || stats != (domain.ThemeStats{}) {
		t.Fatalf("empty stats = %+v, %v", stats, err)
	}

	th, err := svc.Create(ctx, "alice", input("ocean"))
	if err != nil {
		t.Fatal(err)
	}
	d, err := svc.Download(ctx, "", th.ID)
	if err != nil || d.DownloadCount != 1 {
		t.Fatalf("Download = %d, %v", d.DownloadCount, err)
	}

	if _, err := svc.Rate(ctx, "bob", th.ID, 6); !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("rating 6: got %v", err)
	}
	if _, err := svc.Rate(ctx, "bob", th.ID, 4); err != nil {
		t.Fatal(err)
	}
	rated, err := svc.Rate(ctx, "carol", th.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if rated.Rating != 3 || rated.RatingCount != 2 {
		t.Errorf("rating = %v/%d, want 3/2", rated.Rating, rated.RatingCount)
	}

	if _, err := svc.Share(ctx, "bob", th.ID); !domain.IsKind(err, domain.KindUnauthorized) {
		t.Errorf("non-author share: got %v", err)
	}
	sh, err := svc.Share(ctx, "alice", th.ID)
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	shared, err := svc.GetShared(ctx, sh.Token)
	if err != nil || shared.ID != th.ID {
		t.Errorf("GetShared = %+v, %v", shared, err)
	}
	if _, err := svc.GetShared(ctx, "nope"); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("unknown token: got %v", err)
	}

	stats, err = svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalThemes != 1 || stats.PublicThemes != 1 || stats.TotalDownloads != 1 || stats.TotalRatings != 2 {
		t.Errorf("stats = %+v", stats)
	}
}
