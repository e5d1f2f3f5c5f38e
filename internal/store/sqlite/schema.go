package sqlite

// Timestamps are unix nanoseconds so ORDER BY sorts chronologically.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	user_id             TEXT PRIMARY KEY,
	credits             INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
	has_used_free_trial INTEGER NOT NULL DEFAULT 0,
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	cost_credits      INTEGER NOT NULL CHECK (cost_credits >= 0),
	file_name         TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	trial             INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_logs_user_created ON usage_logs(user_id, created_at);

CREATE TABLE IF NOT EXISTS payments (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	amount_cents INTEGER NOT NULL,
	credits      INTEGER NOT NULL,
	created_at   INTEGER NOT NULL
);
`
