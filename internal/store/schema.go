package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id           TEXT PRIMARY KEY,
    title                TEXT NOT NULL,
    directory            TEXT,
    parent_id            TEXT REFERENCES sessions(session_id) ON DELETE CASCADE,
    benchmark            TEXT,
    benchmark_child      TEXT,
    created_at           TEXT NOT NULL,
    updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS prompts (
    prompt_id            TEXT PRIMARY KEY,
    session_id           TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
    provider_id          TEXT NOT NULL,
    model_id             TEXT NOT NULL,
    parts                TEXT NOT NULL,
    status               TEXT NOT NULL DEFAULT 'pending',
    enqueued_at          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_parent ON sessions(parent_id);
CREATE INDEX IF NOT EXISTS idx_prompts_session ON prompts(session_id, enqueued_at);
`
