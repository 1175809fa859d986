// Package sql implements storage.Storage over database/sql with sqlite
// and postgres drivers. Statements are written with ? placeholders and
// rewritten per driver.
package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/user/mimir/internal/storage"
)

type sqlStorage struct {
	db     *sql.DB
	driver string
}

// New wraps an opened database. driver is "sqlite" or "postgres"; it
// selects placeholder style and DDL dialect.
func New(db *sql.DB, driver string) (storage.Storage, error) {
	s := &sqlStorage{db: db, driver: driver}
	if err := s.createTables(context.Background()); err != nil {
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

// rebind rewrites ? placeholders into the driver's style.
func (s *sqlStorage) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (s *sqlStorage) createTables(ctx context.Context) error {
	payloadType := "text"
	timeType := "timestamp"
	if s.driver == "postgres" {
		payloadType = "jsonb"
		timeType = "timestamptz"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS search_cache (
			key text PRIMARY KEY,
			normalized_query text NOT NULL DEFAULT '',
			payload %s,
			expires_at %s,
			hit_count integer NOT NULL DEFAULT 1,
			last_access %s
		)`, payloadType, timeType, timeType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS popular_queries (
			normalized_query text PRIMARY KEY,
			count bigint NOT NULL DEFAULT 0,
			last_seen %s,
			avg_response_time double precision NOT NULL DEFAULT 0,
			success_rate double precision NOT NULL DEFAULT 0
		)`, timeType),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStorage) UpsertCacheEntry(ctx context.Context, e storage.CacheEntry) error {
	query := s.rebind(`INSERT INTO search_cache (key, normalized_query, payload, expires_at, hit_count, last_access)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			normalized_query = excluded.normalized_query,
			payload = excluded.payload,
			expires_at = excluded.expires_at,
			hit_count = excluded.hit_count,
			last_access = excluded.last_access`)
	_, err := s.db.ExecContext(ctx, query,
		e.Key, e.NormalizedQuery, string(e.Payload), e.ExpiresAt, e.HitCount, e.LastAccess)
	return err
}

func (s *sqlStorage) GetCacheEntry(ctx context.Context, key string) (storage.CacheEntry, bool, error) {
	query := s.rebind(`SELECT key, normalized_query, payload, expires_at, hit_count, last_access
		FROM search_cache WHERE key = ?`)
	var e storage.CacheEntry
	var payload string
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&e.Key, &e.NormalizedQuery, &payload, &e.ExpiresAt, &e.HitCount, &e.LastAccess)
	if err == sql.ErrNoRows {
		return storage.CacheEntry{}, false, nil
	}
	if err != nil {
		return storage.CacheEntry{}, false, err
	}
	e.Payload = []byte(payload)
	return e, true, nil
}

func (s *sqlStorage) DeleteCacheEntry(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM search_cache WHERE key = ?`), key)
	return err
}

func (s *sqlStorage) DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM search_cache WHERE expires_at <= ?`), now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqlStorage) InvalidateCacheEntries(ctx context.Context, pattern string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM search_cache WHERE normalized_query LIKE ?`),
		"%"+pattern+"%")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqlStorage) UpsertPopularQuery(ctx context.Context, pq storage.PopularQuery) error {
	query := s.rebind(`INSERT INTO popular_queries (normalized_query, count, last_seen, avg_response_time, success_rate)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (normalized_query) DO UPDATE SET
			count = excluded.count,
			last_seen = excluded.last_seen,
			avg_response_time = excluded.avg_response_time,
			success_rate = excluded.success_rate`)
	_, err := s.db.ExecContext(ctx, query,
		pq.NormalizedQuery, pq.Count, pq.LastSeen, pq.AvgResponseTime, pq.SuccessRate)
	return err
}

func (s *sqlStorage) ListPopularQueries(ctx context.Context, limit int) ([]storage.PopularQuery, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.rebind(`SELECT normalized_query, count, last_seen, avg_response_time, success_rate
		FROM popular_queries ORDER BY count DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.PopularQuery
	for rows.Next() {
		var pq storage.PopularQuery
		if err := rows.Scan(&pq.NormalizedQuery, &pq.Count, &pq.LastSeen, &pq.AvgResponseTime, &pq.SuccessRate); err != nil {
			return nil, err
		}
		out = append(out, pq)
	}
	return out, rows.Err()
}

func (s *sqlStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStorage) Close() error {
	return s.db.Close()
}
