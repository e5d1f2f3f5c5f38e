package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS accounts (
	user_id             TEXT PRIMARY KEY,
	credits             BIGINT NOT NULL DEFAULT 0 CHECK (credits >= 0),
	has_used_free_trial BOOLEAN NOT NULL DEFAULT FALSE,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	cost_credits      BIGINT NOT NULL CHECK (cost_credits >= 0),
	file_name         TEXT NOT NULL,
	prompt_tokens     BIGINT NOT NULL DEFAULT 0,
	completion_tokens BIGINT NOT NULL DEFAULT 0,
	trial             BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS usage_logs_user_created_idx ON usage_logs (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS payments (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	amount_cents BIGINT NOT NULL,
	credits      BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
`
