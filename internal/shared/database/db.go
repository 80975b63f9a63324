package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/mrmushfiq/imagegw/internal/shared/models"
)

// ErrNotFound is returned when a lookup matches no enabled row
var ErrNotFound = errors.New("not found")

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// NewWithConn wraps an existing connection
func NewWithConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// HashAPIKey returns the stored form of a raw gateway key
func HashAPIKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// GetAPIKey retrieves an API key by its raw key value
func (db *DB) GetAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error) {
	query := `
		SELECT id, key_hash, key_prefix, name, rate_limit_per_minute,
		       is_active, last_used_at, created_at, updated_at
		FROM api_keys
		WHERE key_hash = $1 AND is_active = true
	`

	var apiKey models.APIKey
	err := db.conn.QueryRowContext(ctx, query, HashAPIKey(rawKey)).Scan(
		&apiKey.ID,
		&apiKey.KeyHash,
		&apiKey.KeyPrefix,
		&apiKey.Name,
		&apiKey.RateLimitPerMinute,
		&apiKey.IsActive,
		&apiKey.LastUsedAt,
		&apiKey.CreatedAt,
		&apiKey.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invalid API key")
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &apiKey, nil
}

// UpdateAPIKeyLastUsed updates the last_used_at timestamp
func (db *DB) UpdateAPIKeyLastUsed(ctx context.Context, apiKeyID string) error {
	query := `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`
	_, err := db.conn.ExecContext(ctx, query, apiKeyID)
	return err
}

// GetModelConfig retrieves an enabled model configuration by id
func (db *DB) GetModelConfig(ctx context.Context, id string) (*models.ModelConfig, error) {
	query := `
		SELECT id, model_name, COALESCE(api_url, ''), COALESCE(api_key_encrypted, ''),
		       platform_id, is_image_gen, enabled
		FROM model_configs
		WHERE id = $1 AND enabled = true
	`

	var m models.ModelConfig
	var platformID sql.NullString
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&m.ID,
		&m.ModelName,
		&m.APIURL,
		&m.APIKeyEncrypted,
		&platformID,
		&m.IsImageGen,
		&m.Enabled,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("model %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	if platformID.Valid && platformID.String != "" {
		m.PlatformID = &platformID.String
	}
	return &m, nil
}

// GetPlatformConfig retrieves an enabled platform configuration by id
func (db *DB) GetPlatformConfig(ctx context.Context, id string) (*models.PlatformConfig, error) {
	query := `
		SELECT id, api_url, COALESCE(api_key_encrypted, ''), platform_type, enabled
		FROM platform_configs
		WHERE id = $1 AND enabled = true
	`

	var p models.PlatformConfig
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.APIURL,
		&p.APIKeyEncrypted,
		&p.PlatformType,
		&p.Enabled,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("platform %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &p, nil
}

// InsertImageGenLog creates the log row for a started call
func (db *DB) InsertImageGenLog(ctx context.Context, log *models.ImageGenLog) error {
	query := `
		INSERT INTO image_generation_logs (
			request_id, provider, model, endpoint, request_body, request_body_hash,
			question, user_id, session_id, purpose, status, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := db.conn.ExecContext(ctx,
		query,
		log.RequestID,
		log.Provider,
		log.Model,
		log.Endpoint,
		log.RequestBody,
		log.RequestBodyHash,
		log.Question,
		log.UserID,
		log.SessionID,
		log.Purpose,
		log.Status,
		log.StartedAt,
	)
	return err
}

// MarkImageGenFirstByte records when response headers first arrived
func (db *DB) MarkImageGenFirstByte(ctx context.Context, requestID string, at time.Time) error {
	query := `
		UPDATE image_generation_logs SET first_byte_at = $2
		WHERE request_id = $1 AND first_byte_at IS NULL
	`
	_, err := db.conn.ExecContext(ctx, query, requestID, at)
	return err
}

// FinalizeImageGenLog records the outcome of a call. Rows that are already
// finalized are left untouched.
func (db *DB) FinalizeImageGenLog(ctx context.Context, log *models.ImageGenLog) error {
	query := `
		UPDATE image_generation_logs
		SET status = $2, status_code = $3, summary = $4, error_message = $5, ended_at = $6
		WHERE request_id = $1 AND status = 'running'
	`

	var endedAt time.Time
	if log.EndedAt != nil {
		endedAt = *log.EndedAt
	} else {
		endedAt = time.Now()
	}

	_, err := db.conn.ExecContext(ctx,
		query,
		log.RequestID,
		log.Status,
		log.StatusCode,
		log.Summary,
		log.ErrorMessage,
		endedAt,
	)
	return err
}
