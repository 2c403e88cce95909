package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS turn_events (
	id         TEXT PRIMARY KEY,
	turn_id    TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL,
	ts         TIMESTAMPTZ NOT NULL,
	payload    JSONB
);
CREATE INDEX IF NOT EXISTS turn_events_turn_idx ON turn_events (turn_id);
`

// PGSink writes journal events to Postgres.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(ctx context.Context, dsn string) (*PGSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	log.Printf("[journal] postgres sink ready")
	return &PGSink{pool: pool}, nil
}

func (p *PGSink) Write(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("journal: encode payload: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO turn_events (id, turn_id, type, ts, payload) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
		evt.ID, evt.TurnID, evt.Type, evt.Ts, payload)
	return err
}

func (p *PGSink) Close() { p.pool.Close() }
