// Package audit keeps a SQLite log of served generations.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/polycraft/pkg/models"
)

const defaultQueryLimit = 100

// Logger writes and queries audit entries in a dedicated SQLite database.
type Logger struct {
	db     *sql.DB
	cfg    models.AuditConfig
	logger *log.Logger
	now    func() time.Time
	done   chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Logger.
type Option func(*Logger)

// WithLogger sets where retention errors are reported.
func WithLogger(l *log.Logger) Option {
	return func(a *Logger) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock replaces time.Now for retention cutoffs.
func WithClock(now func() time.Time) Option {
	return func(a *Logger) { a.now = now }
}

// New opens the audit SQLite database and creates the schema.
func New(cfg models.AuditConfig, opts ...Option) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	l := &Logger{
		db:     db,
		cfg:    cfg,
		logger: log.Default(),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	if cfg.RetentionDays > 0 {
		l.wg.Add(1)
		go l.retentionLoop()
	}

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS generation_log (
		request_id  TEXT PRIMARY KEY,
		modality    TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		model       TEXT,
		source      TEXT,
		prompt      TEXT,
		client      TEXT,
		cache_hit   INTEGER NOT NULL DEFAULT 0,
		status      TEXT NOT NULL,
		error       TEXT,
		latency_ms  INTEGER,
		created_at  INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_generation_modality ON generation_log(modality)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_generation_created ON generation_log(created_at)`)
	return err
}

// Log inserts an audit entry. Prompts are dropped unless the config asks
// for them and are truncated to MaxPromptSize bytes.
func (l *Logger) Log(ctx context.Context, entry models.AuditEntry) error {
	if l == nil || l.db == nil {
		return nil
	}

	prompt := ""
	if l.cfg.IncludePrompts {
		prompt = truncate(entry.Prompt, l.cfg.MaxPromptSize)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO generation_log
		(request_id, modality, fingerprint, model, source, prompt, client,
		 cache_hit, status, error, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, string(entry.Modality), entry.Fingerprint,
		entry.Model, string(entry.Source), prompt, entry.Client,
		entry.CacheHit, entry.Status, entry.Error, entry.LatencyMs,
		entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Query returns audit entries matching the given options, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	q := `SELECT request_id, modality, fingerprint, model, source, prompt, client,
		cache_hit, status, error, latency_ms, created_at
		FROM generation_log WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.Modality != "" {
		q += " AND modality = ?"
		args = append(args, string(opts.Modality))
	}
	if opts.Status != "" {
		q += " AND status = ?"
		args = append(args, opts.Status)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UnixMilli())
	}
	if opts.CacheHit != nil {
		q += " AND cache_hit = ?"
		args = append(args, *opts.CacheHit)
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var (
			e                             models.AuditEntry
			modality, source              string
			model, prompt, client, errMsg sql.NullString
			latency                       sql.NullInt64
			createdAt                     int64
		)
		if err := rows.Scan(
			&e.RequestID, &modality, &e.Fingerprint, &model, &source,
			&prompt, &client, &e.CacheHit, &e.Status, &errMsg,
			&latency, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Modality = models.Modality(modality)
		e.Source = models.Source(source)
		e.Model = model.String
		e.Prompt = prompt.String
		e.Client = client.String
		e.Error = errMsg.String
		e.LatencyMs = latency.Int64
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns aggregate counts grouped by modality and UTC day.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT modality, date(created_at / 1000, 'unixepoch') AS day,
			count(*), sum(cache_hit), sum(CASE WHEN status = 'error' THEN 1 ELSE 0 END)
		 FROM generation_log GROUP BY modality, day ORDER BY day DESC, modality`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var (
			s        models.AuditStat
			modality string
			day      sql.NullString
		)
		if err := rows.Scan(&modality, &day, &s.Count, &s.CacheHits, &s.Errors); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.Modality = models.Modality(modality)
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes entries older than the configured retention period.
// A retention of zero days keeps everything.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	if l.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := l.now().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM generation_log WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if n, err := l.Cleanup(context.Background()); err != nil {
				l.logger.Error("audit retention failed", "err", err)
			} else if n > 0 {
				l.logger.Debug("audit retention removed entries", "count", n)
			}
		}
	}
}

// ClientID returns a stable, non-reversible identifier for an API key:
// the first 12 hex characters of its SHA-256.
func ClientID(key string) string {
	if key == "" {
		return ""
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])[:12]
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	// Back up to a rune boundary.
	for max > 0 && s[max]&0xC0 == 0x80 {
		max--
	}
	return s[:max]
}
