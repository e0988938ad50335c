package storage

// SchemaStatements creates the queue table and its indexes when missing
var SchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS queue_items (
		id                      UUID PRIMARY KEY,
		event_id                TEXT NOT NULL,
		client_id               TEXT NOT NULL,
		subject_id              TEXT NOT NULL,
		status                  TEXT NOT NULL DEFAULT 'pending',
		attempts                INTEGER NOT NULL DEFAULT 0 CHECK (attempts >= 0),
		max_attempts            INTEGER NOT NULL CHECK (max_attempts > 0),
		next_retry_at           TIMESTAMPTZ,
		validate_email          BOOLEAN NOT NULL DEFAULT FALSE,
		validate_name           BOOLEAN NOT NULL DEFAULT FALSE,
		validate_phone          BOOLEAN NOT NULL DEFAULT FALSE,
		validate_address        BOOLEAN NOT NULL DEFAULT FALSE,
		contact_data            JSONB,
		raw_event               JSONB,
		validation_results      JSONB,
		crm_response            JSONB,
		warning                 TEXT,
		error_message           TEXT,
		error_details           JSONB,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processing_started_at   TIMESTAMPTZ,
		processing_completed_at TIMESTAMPTZ,
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT queue_items_event_id_key UNIQUE (event_id)
	)`,
	`CREATE INDEX IF NOT EXISTS queue_items_eligible_idx
		ON queue_items (status, created_at)
		WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS queue_items_processing_idx
		ON queue_items (processing_started_at)
		WHERE status = 'processing'`,
	`CREATE INDEX IF NOT EXISTS queue_items_completed_idx
		ON queue_items (processing_completed_at)
		WHERE status = 'completed'`,
}
