package runstore

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;

-- Runs: one row per extraction, with the fallback audit trail as JSON
CREATE TABLE IF NOT EXISTS runs (
    run_id INTEGER PRIMARY KEY AUTOINCREMENT,
    correlation_id TEXT NOT NULL,
    url TEXT NOT NULL,
    source TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    completeness INTEGER NOT NULL,
    fallbacks TEXT,
    missing_fields TEXT,
    name TEXT,
    price_sek REAL,
    total_servings INTEGER,
    serving_size TEXT,
    product_type TEXT,
    confidence INTEGER,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_url ON runs(url);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_success ON runs(success);

-- Run ingredients: the canonicalized per-serving ingredient rows
CREATE TABLE IF NOT EXISTS run_ingredients (
    ingredient_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,
    key TEXT,
    display_name TEXT NOT NULL,
    dosage_mg REAL NOT NULL,
    unit TEXT,
    is_primary BOOLEAN DEFAULT FALSE,
    is_included BOOLEAN DEFAULT TRUE,
    sources TEXT,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_run_ingredients_run ON run_ingredients(run_id);
CREATE INDEX IF NOT EXISTS idx_run_ingredients_key ON run_ingredients(key);
`
