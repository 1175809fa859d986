// Package runner executes validated SQL against the read-only replica.
// Parameters are always bound; the row cap enforced by the validator is
// double-checked here by truncation.
package runner

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	mimir "github.com/user/mimir"
)

type Config struct {
	DSN string
	// PoolSize bounds the dedicated read-only connection pool.
	PoolSize int
	// StatementTimeout bounds one query; the remaining request deadline
	// may bound it tighter.
	StatementTimeout time.Duration
}

type Runner struct {
	pool   *pgxpool.Pool
	cfg    Config
	logger mimir.Logger
}

// New opens the read-only pool. The pool enforces a server-side default
// statement timeout and marks the session read-only as a second line of
// defence behind the validator.
func New(ctx context.Context, cfg Config, logger mimir.Logger) (*Runner, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	if cfg.StatementTimeout <= 0 {
		cfg.StatementTimeout = 10 * time.Second
	}

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing read-only DSN: %w", err)
	}
	pc.MaxConns = int32(cfg.PoolSize)
	pc.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("opening read-only pool: %w", err)
	}
	return &Runner{pool: pool, cfg: cfg, logger: logger}, nil
}

// Run executes the artifact and returns at most limit rows, in result-set
// order.
func (r *Runner) Run(ctx context.Context, art mimir.SQLArtifact, limit int) ([]mimir.Row, error) {
	sql, args, err := Rewrite(art.SQL, art.Parameters)
	if err != nil {
		return nil, mimir.WrapErr(mimir.KindRuntime, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.StatementTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer rows.Close()

	out, err := CollectRows(rows, limit)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if r.logger != nil {
		r.logger.Debug("query executed", "rows", len(out))
	}
	return out, nil
}

// Ping verifies the replica connection.
func (r *Runner) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the pool.
func (r *Runner) Close() {
	r.pool.Close()
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return mimir.WrapErr(mimir.KindTimeout, ctx.Err())
	}
	return mimir.WrapErr(mimir.KindRuntime, err)
}

var rewriteRe = regexp.MustCompile(`%\((\w+)\)s`)

// Rewrite converts %(name)s placeholders to ordinal $n arguments, ordered
// by first appearance. Every placeholder must have a binding.
func Rewrite(sql string, params map[string]any) (string, []any, error) {
	ordinal := map[string]int{}
	var args []any
	var missing []string

	out := rewriteRe.ReplaceAllStringFunc(sql, func(m string) string {
		name := rewriteRe.FindStringSubmatch(m)[1]
		if n, ok := ordinal[name]; ok {
			return fmt.Sprintf("$%d", n)
		}
		val, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		args = append(args, val)
		ordinal[name] = len(args)
		return fmt.Sprintf("$%d", len(args))
	})

	if len(missing) > 0 {
		return "", nil, fmt.Errorf("unbound placeholders: %v", missing)
	}
	return out, args, nil
}

// CollectRows drains up to limit rows into column->value mappings,
// preserving result-set order. limit <= 0 means no cap.
func CollectRows(rows pgx.Rows, limit int) ([]mimir.Row, error) {
	fields := rows.FieldDescriptions()
	var out []mimir.Row
	for rows.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(mimir.Row, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Disabled is a Runner stand-in used when no read-only DSN is configured.
type Disabled struct{}

func (Disabled) Run(ctx context.Context, art mimir.SQLArtifact, limit int) ([]mimir.Row, error) {
	return nil, mimir.Errf(mimir.KindRuntime, "read-only datasource not configured")
}

func (Disabled) Ping(ctx context.Context) error {
	return mimir.Errf(mimir.KindRuntime, "read-only datasource not configured")
}
