package storage

const schemaSQL = `
-- One row per invocation
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    input_path TEXT NOT NULL,
    output_path TEXT NOT NULL,
    url_count INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running', 'completed', 'cancelled', 'failed')),
    started_at TEXT NOT NULL,
    finished_at TEXT
);

-- One row per input URL; payload is the exact report entry
CREATE TABLE IF NOT EXISTS results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    url TEXT NOT NULL,
    result_type TEXT,
    error TEXT,
    http_status INTEGER,
    blocked INTEGER NOT NULL DEFAULT 0,
    blocked_by TEXT,
    title TEXT,
    word_count INTEGER,
    has_fallback INTEGER NOT NULL DEFAULT 0,
    payload TEXT NOT NULL,
    recorded_at TEXT NOT NULL,
    UNIQUE(run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id, position);
CREATE INDEX IF NOT EXISTS idx_results_url ON results(url);
CREATE INDEX IF NOT EXISTS idx_results_blocked ON results(blocked) WHERE blocked = 1;

-- Per-run outcome counts
CREATE VIEW IF NOT EXISTS run_summary AS
SELECT
    r.id AS run_id,
    r.status,
    r.url_count,
    COUNT(res.id) AS recorded,
    SUM(CASE WHEN res.error IS NULL THEN 1 ELSE 0 END) AS succeeded,
    SUM(CASE WHEN res.error IS NOT NULL THEN 1 ELSE 0 END) AS failed,
    SUM(res.blocked) AS blocked,
    r.started_at,
    r.finished_at
FROM runs r
LEFT JOIN results res ON res.run_id = r.id
GROUP BY r.id;
`
