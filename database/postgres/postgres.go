package postgres

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const schema = `
	CREATE TABLE IF NOT EXISTS cap_detections (
		id          VARCHAR(26) PRIMARY KEY,
		cap_id      TEXT        NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		predictions JSONB       NOT NULL DEFAULT '[]'::jsonb,
		image_path  TEXT,
		source      VARCHAR(16) NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cap_detections_cap_id ON cap_detections (cap_id);
	CREATE INDEX IF NOT EXISTS idx_cap_detections_created_at ON cap_detections (created_at DESC);
`

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func FormatDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		os.Getenv("DB_HOST"),
		getEnv("DB_PORT", "5432"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		getEnv("DB_SSLMODE", "disable"),
	)
}

func New() (*sqlx.DB, error) {
	if os.Getenv("DB_HOST") == "" || os.Getenv("DB_NAME") == "" {
		return nil, fmt.Errorf("DB_HOST and DB_NAME are required")
	}

	db, err := sqlx.Open("postgres", FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	logrus.Info("Successfully connected to Postgres")
	return db, nil
}

// EnsureSchema creates the detection table and its indexes when missing.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}
