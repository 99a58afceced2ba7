package db

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Connect opens the database for the given driver and runs migrations.
func Connect(driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		if !strings.Contains(dsn, "_foreign_keys") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_foreign_keys=on"
		}
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if driver == DriverSQLite {
		// sqlite serialises writers; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db, driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

type dialect struct {
	serial    string
	timestamp string
	json      string
}

var dialects = map[string]dialect{
	DriverPostgres: {serial: "SERIAL PRIMARY KEY", timestamp: "TIMESTAMPTZ", json: "JSONB NOT NULL DEFAULT '[]'::jsonb"},
	DriverSQLite:   {serial: "INTEGER PRIMARY KEY AUTOINCREMENT", timestamp: "TIMESTAMP", json: "TEXT NOT NULL DEFAULT '[]'"},
}

func runMigrations(db *sqlx.DB, driver string) error {
	d := dialects[driver]
	migrations := []string{
		// users are owned by the platform; the table is created here for
		// standalone deployments and tests.
		`CREATE TABLE IF NOT EXISTS users (
            id ` + d.serial + `,
            name TEXT NOT NULL,
            company_id INT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS chats (
            id ` + d.serial + `,
            uuid VARCHAR(36) NOT NULL UNIQUE,
            title TEXT NOT NULL,
            owner_id INT NOT NULL,
            company_id INT NOT NULL,
            last_message TEXT NOT NULL DEFAULT '',
            created_at ` + d.timestamp + ` NOT NULL,
            updated_at ` + d.timestamp + ` NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS chats_company_idx ON chats (company_id);`,
		`CREATE TABLE IF NOT EXISTS chat_users (
            id ` + d.serial + `,
            chat_id INT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            unreads INT NOT NULL DEFAULT 0 CHECK (unreads >= 0),
            created_at ` + d.timestamp + ` NOT NULL,
            updated_at ` + d.timestamp + ` NOT NULL,
            UNIQUE(chat_id, user_id)
        );`,
		`CREATE INDEX IF NOT EXISTS chat_users_user_idx ON chat_users (user_id);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
            id ` + d.serial + `,
            chat_id INT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
            sender_id INT NOT NULL,
            message TEXT NOT NULL DEFAULT '',
            files ` + d.json + `,
            media_path TEXT,
            media_name TEXT,
            created_at ` + d.timestamp + ` NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS chat_messages_chat_idx ON chat_messages (chat_id);`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Info().Str("driver", driver).Msg("database migrations applied")
	return nil
}
