package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	core "github.com/mohammad-safakhou/scout/internal/agent/core"
)

// Store persists users and completed discovery sessions in Postgres.
// Persistence happens after the pipeline's terminal event; the pipeline
// itself never touches the database.
type Store struct {
	DB *sql.DB
}

var (
	// ErrNotFound is returned when a requested row does not exist or is
	// not owned by the requesting user.
	ErrNotFound = errors.New("not found")
	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("email already registered")
)

// New opens a Postgres connection and verifies it.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// User is a registered account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUser inserts a new user and returns its id.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (string, error) {
	id := uuid.New().String()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1,$2,$3,NOW())`,
		id, email, passwordHash)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return "", ErrEmailTaken
		}
		return "", fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByEmail looks a user up for login.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`,
		email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// DiscoveryRecord is one completed discovery session as persisted.
type DiscoveryRecord struct {
	ID             string
	UserID         string
	Query          string
	Iterations     int
	CompletedSteps int64
	TokensUsed     int64
	ProcessingMS   int64
	CandidateCount int
	CreatedAt      time.Time
}

// SaveDiscovery persists a terminal discovery result and its candidates
// in one transaction.
func (s *Store) SaveDiscovery(ctx context.Context, userID string, result core.DiscoveryResult) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO discoveries (id, user_id, query, iterations, completed_steps, tokens_used, processing_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())`,
		result.ID, userID, result.OriginalQuery, result.Iterations, result.CompletedSteps,
		result.TokensUsed, result.ProcessingTime.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert discovery: %w", err)
	}

	for _, c := range result.Candidates {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO candidates (id, discovery_id, username, display_name, bio, follower_count, following_count, post_count, engagement_rate, category, verified, location, source_url)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (discovery_id, username) DO NOTHING`,
			uuid.New().String(), result.ID, c.Username, c.DisplayName, c.Bio, c.FollowerCount,
			c.FollowingCount, c.PostCount, c.EngagementRate, c.Category, c.Verified, c.Location, c.SourceURL)
		if err != nil {
			return fmt.Errorf("insert candidate %s: %w", c.Username, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListDiscoveries returns a user's discoveries, newest first.
func (s *Store) ListDiscoveries(ctx context.Context, userID string, limit int) ([]DiscoveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT d.id, d.user_id, d.query, d.iterations, d.completed_steps, d.tokens_used, d.processing_ms, d.created_at,
  (SELECT COUNT(*) FROM candidates c WHERE c.discovery_id = d.id) AS candidate_count
FROM discoveries d WHERE d.user_id = $1 ORDER BY d.created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list discoveries: %w", err)
	}
	defer rows.Close()

	var out []DiscoveryRecord
	for rows.Next() {
		var r DiscoveryRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Query, &r.Iterations, &r.CompletedSteps,
			&r.TokensUsed, &r.ProcessingMS, &r.CreatedAt, &r.CandidateCount); err != nil {
			return nil, fmt.Errorf("scan discovery: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetDiscovery loads one discovery with its candidates, scoped to the
// owning user.
func (s *Store) GetDiscovery(ctx context.Context, userID, id string) (DiscoveryRecord, []core.Candidate, error) {
	var r DiscoveryRecord
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, query, iterations, completed_steps, tokens_used, processing_ms, created_at
FROM discoveries WHERE id = $1 AND user_id = $2`,
		id, userID).Scan(&r.ID, &r.UserID, &r.Query, &r.Iterations, &r.CompletedSteps,
		&r.TokensUsed, &r.ProcessingMS, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DiscoveryRecord{}, nil, ErrNotFound
	}
	if err != nil {
		return DiscoveryRecord{}, nil, fmt.Errorf("get discovery: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT username, display_name, bio, follower_count, following_count, post_count, engagement_rate, category, verified, location, source_url
FROM candidates WHERE discovery_id = $1 ORDER BY username`,
		id)
	if err != nil {
		return DiscoveryRecord{}, nil, fmt.Errorf("get candidates: %w", err)
	}
	defer rows.Close()

	var candidates []core.Candidate
	for rows.Next() {
		var c core.Candidate
		if err := rows.Scan(&c.Username, &c.DisplayName, &c.Bio, &c.FollowerCount, &c.FollowingCount,
			&c.PostCount, &c.EngagementRate, &c.Category, &c.Verified, &c.Location, &c.SourceURL); err != nil {
			return DiscoveryRecord{}, nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	r.CandidateCount = len(candidates)
	return r, candidates, rows.Err()
}

// DeleteDiscovery removes a discovery and its candidates.
func (s *Store) DeleteDiscovery(ctx context.Context, userID, id string) error {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM discoveries WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete discovery: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListScheduledQueries returns queries flagged for periodic re-discovery.
func (s *Store) ListScheduledQueries(ctx context.Context) ([]ScheduledQuery, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, query, cron_expr, last_run_at FROM scheduled_queries WHERE enabled`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled queries: %w", err)
	}
	defer rows.Close()

	var out []ScheduledQuery
	for rows.Next() {
		var sq ScheduledQuery
		var lastRun sql.NullTime
		if err := rows.Scan(&sq.ID, &sq.UserID, &sq.Query, &sq.CronExpr, &lastRun); err != nil {
			return nil, fmt.Errorf("scan scheduled query: %w", err)
		}
		if lastRun.Valid {
			sq.LastRunAt = lastRun.Time
		}
		out = append(out, sq)
	}
	return out, rows.Err()
}

// TouchScheduledQuery stamps the last run time after a scheduled discovery.
func (s *Store) TouchScheduledQuery(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE scheduled_queries SET last_run_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch scheduled query: %w", err)
	}
	return nil
}

// CreateScheduledQuery registers a query for periodic re-discovery.
func (s *Store) CreateScheduledQuery(ctx context.Context, userID, query, cronExpr string) (string, error) {
	id := uuid.New().String()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO scheduled_queries (id, user_id, query, cron_expr, enabled) VALUES ($1,$2,$3,$4,TRUE)`,
		id, userID, query, cronExpr)
	if err != nil {
		return "", fmt.Errorf("create scheduled query: %w", err)
	}
	return id, nil
}

// IndexedCandidate pairs a candidate with its discovery provenance, used
// to rebuild the search index at startup.
type IndexedCandidate struct {
	DiscoveryID string
	Query       string
	Candidate   core.Candidate
}

// AllCandidates returns every stored candidate with its discovery id and
// originating query.
func (s *Store) AllCandidates(ctx context.Context) ([]IndexedCandidate, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT c.discovery_id, d.query, c.username, c.display_name, c.bio, c.category, c.location
FROM candidates c JOIN discoveries d ON d.id = c.discovery_id`)
	if err != nil {
		return nil, fmt.Errorf("all candidates: %w", err)
	}
	defer rows.Close()

	var out []IndexedCandidate
	for rows.Next() {
		var ic IndexedCandidate
		if err := rows.Scan(&ic.DiscoveryID, &ic.Query, &ic.Candidate.Username, &ic.Candidate.DisplayName,
			&ic.Candidate.Bio, &ic.Candidate.Category, &ic.Candidate.Location); err != nil {
			return nil, fmt.Errorf("scan indexed candidate: %w", err)
		}
		out = append(out, ic)
	}
	return out, rows.Err()
}

// ScheduledQuery is a stored query re-run on a cron schedule.
type ScheduledQuery struct {
	ID        string
	UserID    string
	Query     string
	CronExpr  string
	LastRunAt time.Time
}
