package domain

// Theme is a named, user-authored set of dashboard colors.
type Theme struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	DisplayName   string      `json:"display_name" validate:"required,max=100"`
	Description   string      `json:"description,omitempty" validate:"max=500"`
	Colors        ThemeColors `json:"colors"`
	IsPublic      bool        `json:"is_public"`
	AuthorID      string      `json:"author_id,omitempty"`
	AuthorName    string      `json:"author_name,omitempty" validate:"max=100"`
	Tags          []string    `json:"tags" validate:"max=10,dive,required,max=30"`
	CreatedAt     int64       `json:"created_at"`
	UpdatedAt     int64       `json:"updated_at"`
	DownloadCount int64       `json:"download_count"`
	Rating        float64     `json:"rating"`
	RatingCount   int64       `json:"rating_count"`
}

// ThemeColors holds the 24 required color slots.
type ThemeColors struct {
	Primary      string `json:"primary" validate:"required,themecolor"`
	PrimaryHover string `json:"primaryHover" validate:"required,themecolor"`
	PrimaryLight string `json:"primaryLight" validate:"required,themecolor"`
	PrimaryDark  string `json:"primaryDark" validate:"required,themecolor"`

	BgPrimary    string `json:"bgPrimary" validate:"required,themecolor"`
	BgSecondary  string `json:"bgSecondary" validate:"required,themecolor"`
	BgTertiary   string `json:"bgTertiary" validate:"required,themecolor"`
	BgQuaternary string `json:"bgQuaternary" validate:"required,themecolor"`

	TextPrimary    string `json:"textPrimary" validate:"required,themecolor"`
	TextSecondary  string `json:"textSecondary" validate:"required,themecolor"`
	TextTertiary   string `json:"textTertiary" validate:"required,themecolor"`
	TextQuaternary string `json:"textQuaternary" validate:"required,themecolor"`

	BorderPrimary   string `json:"borderPrimary" validate:"required,themecolor"`
	BorderSecondary string `json:"borderSecondary" validate:"required,themecolor"`
	BorderTertiary  string `json:"borderTertiary" validate:"required,themecolor"`

	AccentSuccess string `json:"accentSuccess" validate:"required,themecolor"`
	AccentWarning string `json:"accentWarning" validate:"required,themecolor"`
	AccentError   string `json:"accentError" validate:"required,themecolor"`
	AccentInfo    string `json:"accentInfo" validate:"required,themecolor"`

	// Shadows are CSS box-shadow values, not plain colors.
	Shadow   string `json:"shadow" validate:"required,max=200"`
	ShadowLg string `json:"shadowLg" validate:"required,max=200"`

	HoverBg   string `json:"hoverBg" validate:"required,themecolor"`
	ActiveBg  string `json:"activeBg" validate:"required,themecolor"`
	FocusRing string `json:"focusRing" validate:"required,themecolor"`
}

// ThemeSnapshot is the portable export format. It carries no store
// identity (id, author_id).
type ThemeSnapshot struct {
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name"`
	Description string      `json:"description,omitempty"`
	Colors      ThemeColors `json:"colors"`
	Tags        []string    `json:"tags"`
	AuthorName  string      `json:"author_name,omitempty"`
	ExportedAt  int64       `json:"exported_at"`
	Version     string      `json:"version"`
	Checksum    string      `json:"checksum,omitempty"`
}

// ThemeQuery filters Search. Private themes are included only when
// IncludePrivate is set, and then only those of AuthorID.
type ThemeQuery struct {
	Query          string
	Tags           []string
	AuthorID       string
	IncludePrivate bool
	SortBy         string // name, created, updated, downloads, rating
	Order          string // asc, desc
	Limit          int
	Offset         int
}

type ThemeShare struct {
	Token     string `json:"token"`
	ThemeID   string `json:"theme_id"`
	CreatedBy string `json:"created_by"`
	CreatedAt int64  `json:"created_at"`
}

type ThemeStats struct {
	TotalThemes    int64   `json:"total_themes"`
	PublicThemes   int64   `json:"public_themes"`
	PrivateThemes  int64   `json:"private_themes"`
	TotalDownloads int64   `json:"total_downloads"`
	AverageRating  float64 `json:"average_rating"`
	TotalRatings   int64   `json:"total_ratings"`
}
