package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	Postgres = "pgx"
	SQLite   = "sqlite3"
)

type Database struct {
	Conn   *sql.DB
	Driver string
}

// NewDatabase opens and pings the database. driver is Postgres or SQLite.
func NewDatabase(driver, dsn string) (*Database, error) {
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	if driver == SQLite {
		// One connection keeps ":memory:" databases alive and serializes writers.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(25)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}
	return &Database{Conn: conn, Driver: driver}, nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

// Rebind rewrites '?' placeholders into '$n' for Postgres.
func (d *Database) Rebind(query string) string {
	if d.Driver != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *Database) AutoMigrate() error {
	serial := "SERIAL PRIMARY KEY"
	bigSerial := "BIGSERIAL PRIMARY KEY"
	if d.Driver == SQLite {
		serial = "INTEGER PRIMARY KEY AUTOINCREMENT"
		bigSerial = serial
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id ` + serial + `,
            username VARCHAR(50) UNIQUE NOT NULL,
            password VARCHAR(255) NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS messages (
            id ` + bigSerial + `,
            sender_id INT NOT NULL REFERENCES users(id),
            recipient_id INT NOT NULL REFERENCES users(id),
            pair_lo INT NOT NULL,
            pair_hi INT NOT NULL,
            content TEXT NOT NULL,
            kind VARCHAR(10) NOT NULL CHECK (kind IN ('text', 'file', 'voice', 'video')),
            media_ref TEXT,
            created_at BIGINT NOT NULL,
            CHECK (sender_id <> recipient_id)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(pair_lo, pair_hi, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient_id, created_at)`,
	}

	for _, query := range queries {
		if _, err := d.Conn.Exec(query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
