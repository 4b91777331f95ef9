package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	source_app        TEXT    NOT NULL,
	session_id        TEXT    NOT NULL,
	hook_event_type   TEXT    NOT NULL,
	payload           TEXT    NOT NULL,
	chat              TEXT,
	summary           TEXT,
	timestamp         INTEGER NOT NULL,
	model_name        TEXT,
	human_in_the_loop TEXT,
	hitl_status       TEXT,
	hitl_response     TEXT,
	hitl_responded_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_events_source_app ON events(source_app);
CREATE INDEX IF NOT EXISTS idx_events_session_id ON events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_hook_event_type ON events(hook_event_type);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);

CREATE TABLE IF NOT EXISTS themes (
	id             TEXT    PRIMARY KEY,
	name           TEXT    NOT NULL UNIQUE,
	display_name   TEXT    NOT NULL,
	description    TEXT    NOT NULL DEFAULT '',
	colors         TEXT    NOT NULL,
	is_public      INTEGER NOT NULL DEFAULT 1,
	author_id      TEXT    NOT NULL DEFAULT '',
	author_name    TEXT    NOT NULL DEFAULT '',
	tags           TEXT    NOT NULL DEFAULT '[]',
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	download_count INTEGER NOT NULL DEFAULT 0,
	rating         REAL    NOT NULL DEFAULT 0,
	rating_count   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_themes_is_public ON themes(is_public);
CREATE INDEX IF NOT EXISTS idx_themes_author_id ON themes(author_id);

CREATE TABLE IF NOT EXISTS theme_ratings (
	theme_id   TEXT    NOT NULL REFERENCES themes(id) ON DELETE CASCADE,
	user_id    TEXT    NOT NULL,
	rating     INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
	created_at INTEGER NOT NULL,
	PRIMARY KEY (theme_id, user_id)
);

CREATE TABLE IF NOT EXISTS theme_shares (
	token      TEXT    PRIMARY KEY,
	theme_id   TEXT    NOT NULL REFERENCES themes(id) ON DELETE CASCADE,
	created_by TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_theme_shares_theme_id ON theme_shares(theme_id);
`
