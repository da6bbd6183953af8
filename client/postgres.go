package client

import (
	"database/sql"
	"log"
	"servicecatalog-cron/config"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

var (
	db   *sql.DB
	once sync.Once
)

func ConnectPostgres() *sql.DB {
	once.Do(func() {
		var err error
		db, err = sql.Open("postgres", config.AppConfig.PostgresURI)
		if err != nil {
			log.Fatal(err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(15 * time.Minute)

		if err = db.Ping(); err != nil {
			log.Fatal("Postgres connection failed:", err)
		}
		if err = Migrate(db); err != nil {
			log.Fatal("Postgres migration failed:", err)
		}
	})

	return db
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS health_check_runs (
		id            TEXT PRIMARY KEY,
		enrollment_id TEXT NOT NULL,
		service_id    TEXT NOT NULL,
		script_hash   TEXT NOT NULL DEFAULT '',
		scheduled_at  TIMESTAMPTZ NOT NULL,
		started_at    TIMESTAMPTZ,
		finished_at   TIMESTAMPTZ,
		exit_code     INTEGER,
		completed     BOOLEAN NOT NULL DEFAULT FALSE,
		outcome       TEXT NOT NULL DEFAULT '',
		log_excerpt   TEXT NOT NULL DEFAULT '',
		exec_error    TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS health_check_runs_enrollment_idx
		ON health_check_runs (enrollment_id, scheduled_at DESC)`,
	`CREATE TABLE IF NOT EXISTS enforcement_intents (
		key           TEXT PRIMARY KEY,
		kind          TEXT NOT NULL,
		enrollment_id TEXT NOT NULL,
		payload       JSONB NOT NULL,
		status        TEXT NOT NULL DEFAULT 'pending',
		created_at    TIMESTAMPTZ NOT NULL,
		done_at       TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS enforcement_intents_pending_idx
		ON enforcement_intents (created_at) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS intent_deliveries (
		key          TEXT PRIMARY KEY,
		delivered_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS billing_holds (
		enrollment_id TEXT PRIMARY KEY,
		suspended_at  TIMESTAMPTZ NOT NULL,
		resumed_at    TIMESTAMPTZ
	)`,
}

// Migrate creates the tables used by the run log, outbox and billing ledger.
func Migrate(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	log.Println("[POSTGRES] Schema up to date")
	return nil
}
