package repository

import (
	"database/sql"
	"fmt"
	"log"
)

// InitDatabase opens the connection and bootstraps the forwarding schema.
func InitDatabase(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("database open failed: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err = createSchema(db); err != nil {
		return nil, fmt.Errorf("schema bootstrap failed: %w", err)
	}

	log.Printf("DATABASE_READY: schema verified")
	return db, nil
}

func createSchema(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			transaction_id VARCHAR(255) NOT NULL,
			tenant_id VARCHAR(255) NOT NULL,
			tenant_code VARCHAR(255) NOT NULL DEFAULT '',
			tenant_name VARCHAR(255) NOT NULL DEFAULT '',
			terminal_id VARCHAR(255) NOT NULL,
			terminal_serial VARCHAR(255) NOT NULL DEFAULT '',
			callback_url TEXT NOT NULL DEFAULT '',
			gross_amount DECIMAL(12,2) NOT NULL,
			net_amount DECIMAL(12,2) NOT NULL,
			validation_status VARCHAR(20) NOT NULL,
			job_status VARCHAR(20) NOT NULL,
			submission_uuid VARCHAR(255) NOT NULL,
			transaction_timestamp TIMESTAMPTZ NOT NULL,
			processed_at TIMESTAMPTZ NOT NULL,
			UNIQUE (tenant_id, transaction_id)
		);`,
		`CREATE TABLE IF NOT EXISTS transaction_adjustments (
			id BIGSERIAL PRIMARY KEY,
			transaction_id BIGINT NOT NULL REFERENCES transactions(id),
			type VARCHAR(50) NOT NULL,
			amount DECIMAL(12,2) NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS transaction_taxes (
			id BIGSERIAL PRIMARY KEY,
			transaction_id BIGINT NOT NULL REFERENCES transactions(id),
			type VARCHAR(50) NOT NULL,
			amount DECIMAL(12,2) NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS forwarding_records (
			id BIGSERIAL PRIMARY KEY,
			transaction_id BIGINT UNIQUE NOT NULL REFERENCES transactions(id),
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			batch_id VARCHAR(255),
			attempts INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL DEFAULT 3,
			first_attempted_at TIMESTAMPTZ,
			last_attempted_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			request_payload JSONB,
			response_data JSONB,
			response_status_code INT,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
	}

	for _, tableQuery := range tables {
		if _, err := db.Exec(tableQuery); err != nil {
			return fmt.Errorf("table creation failed: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_transactions_forwardable ON transactions(validation_status, job_status, processed_at);",
		"CREATE INDEX IF NOT EXISTS idx_transactions_submission ON transactions(submission_uuid);",
		"CREATE INDEX IF NOT EXISTS idx_forwarding_records_status ON forwarding_records(status);",
		"CREATE INDEX IF NOT EXISTS idx_forwarding_records_batch ON forwarding_records(batch_id);",
	}

	for _, indexQuery := range indexes {
		if _, err := db.Exec(indexQuery); err != nil {
			// Indexes are best effort; the tables are what matter.
			log.Printf("SCHEMA_INDEX_WARNING: %v", err)
		}
	}

	return nil
}
