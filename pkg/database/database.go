package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/illegalcall/wingwoman/internal/config"
)

type Clients struct {
	DB    *sqlx.DB
	Redis *redis.Client
}

func NewClients(dbCfg config.DatabaseConfig, redisCfg config.RedisConfig) (*Clients, error) {
	// Connect to PostgreSQL
	db, err := sqlx.Connect("postgres", dbCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Clients{
		DB:    db,
		Redis: redisClient,
	}, nil
}

func (c *Clients) Close() {
	if c.DB != nil {
		c.DB.Close()
	}
	if c.Redis != nil {
		c.Redis.Close()
	}
}

var schema = []struct {
	table string
	ddl   string
}{
	{"profiles", `CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL DEFAULT 'Free',
		credits NUMERIC NOT NULL DEFAULT 3 CHECK (credits >= 0),
		last_reset TIMESTAMPTZ NOT NULL DEFAULT now(),
		stats JSONB NOT NULL DEFAULT '{}'::jsonb
	);`},
	{"saved_icebreakers", `CREATE TABLE IF NOT EXISTS saved_icebreakers (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		tone TEXT NOT NULL DEFAULT '',
		emoji TEXT NOT NULL DEFAULT '',
		message_text TEXT NOT NULL,
		why_it_works TEXT NOT NULL DEFAULT '',
		follow_up TEXT NOT NULL DEFAULT '',
		interest_category TEXT NOT NULL DEFAULT '',
		saved_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS saved_icebreakers_user_saved_at ON saved_icebreakers (user_id, saved_at DESC);`},
	{"usage_events", `CREATE TABLE IF NOT EXISTS usage_events (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		activity TEXT NOT NULL DEFAULT '',
		amount NUMERIC NOT NULL DEFAULT 0,
		credits_after NUMERIC NOT NULL DEFAULT 0,
		occurred_at TIMESTAMPTZ NOT NULL
	);`},
}

// CreateTables creates the tables used by the API and the worker.
func (c *Clients) CreateTables() error {
	for _, s := range schema {
		if _, err := c.DB.Exec(s.ddl); err != nil {
			return fmt.Errorf("failed to create %s table: %w", s.table, err)
		}
		slog.Info("✅ Table is ready!", "table", s.table)
	}
	return nil
}
