package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/noah-isme/ruralfund-api/pkg/config"
)

const connectTimeout = 5 * time.Second

// DSN renders a lib/pq keyword/value connection string. Values are quoted so
// passwords containing spaces or quotes survive.
func DSN(cfg config.DatabaseConfig) string {
	pairs := []struct{ key, value string }{
		{"host", cfg.Host},
		{"port", fmt.Sprint(cfg.Port)},
		{"user", cfg.User},
		{"password", cfg.Password},
		{"dbname", cfg.Name},
		{"sslmode", cfg.SSLMode},
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.value == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", p.key, quote(p.value)))
	}
	return strings.Join(parts, " ")
}

func quote(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
	return "'" + escaped + "'"
}

// NewPostgres opens the pool and waits for the server to answer a ping.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return db, nil
}
