package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	apperrors "tripchat/internal/errors"

	"tripchat/internal/constants"
	"tripchat/internal/models"
	"tripchat/internal/retry"
	"tripchat/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// MessageCache is the local SQLite mirror of room history.
type MessageCache struct {
	db        *sql.DB
	encryptor *encryptor
	backoff   *retry.Backoff
	logger    *apperrors.Logger
}

func New(dbPath string) (*MessageCache, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid cache path")
	}

	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid cache path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close cache file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping cache: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	enc, err := NewEncryptor()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(constants.DefaultCacheRetryBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(constants.DefaultCacheMaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultCacheRetryAttempts,
		Jitter:       true,
	})

	return &MessageCache{db: db, encryptor: enc, backoff: backoff, logger: apperrors.NewLogger()}, nil
}

func (c *MessageCache) Close() error {
	return c.db.Close()
}

// SaveMessages upserts a batch of messages. Temporary-id entries are skipped:
// only authoritative messages are worth caching.
func (c *MessageCache) SaveMessages(ctx context.Context, messages []models.ChatMessage) error {
	return c.withRetry(ctx, "save messages", func() error {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for i := range messages {
			msg := &messages[i]
			if models.IsTempID(msg.ID) {
				continue
			}

			body, err := c.encryptor.EncryptIfEnabled(msg.Text)
			if err != nil {
				return fmt.Errorf("failed to encrypt message body: %w", err)
			}

			attachments, err := encodeAttachments(msg.MediaAttachments)
			if err != nil {
				return err
			}
			attachments, err = c.encryptor.EncryptIfEnabled(attachments)
			if err != nil {
				return fmt.Errorf("failed to encrypt attachments: %w", err)
			}

			if _, err := tx.ExecContext(ctx, upsertMessageQuery,
				msg.ID, msg.RoomID, msg.SenderID, msg.SenderType,
				body, attachments, msg.MessageType, msg.Status,
				msg.CreatedAt.UTC(), msg.ReadAt,
			); err != nil {
				return err
			}
		}

		return tx.Commit()
	})
}

// MessagesBefore returns up to limit messages for the room strictly older than
// the cursor, ascending by creation time.
func (c *MessageCache) MessagesBefore(ctx context.Context, roomID string, before time.Time, limit int) ([]models.ChatMessage, error) {
	var out []models.ChatMessage

	err := c.withRetry(ctx, "load messages", func() error {
		rows, err := c.db.QueryContext(ctx, selectMessagesBeforeQuery, roomID, before.UTC(), limit)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		var page []models.ChatMessage
		for rows.Next() {
			var (
				msg         models.ChatMessage
				body        string
				attachments string
				readAt      sql.NullTime
			)
			if err := rows.Scan(
				&msg.ID, &msg.RoomID, &msg.SenderID, &msg.SenderType,
				&body, &attachments, &msg.MessageType, &msg.Status,
				&msg.CreatedAt, &readAt,
			); err != nil {
				return err
			}

			if msg.Text, err = c.encryptor.DecryptIfEnabled(body); err != nil {
				return fmt.Errorf("failed to decrypt message body: %w", err)
			}
			if attachments, err = c.encryptor.DecryptIfEnabled(attachments); err != nil {
				return fmt.Errorf("failed to decrypt attachments: %w", err)
			}
			if msg.MediaAttachments, err = decodeAttachments(attachments); err != nil {
				return err
			}
			if readAt.Valid {
				t := readAt.Time
				msg.ReadAt = &t
			}

			page = append(page, msg)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		// Query returns newest-first; the timeline wants ascending order.
		for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
			page[i], page[j] = page[j], page[i]
		}
		out = page
		return nil
	})

	return out, err
}

// UpdateStatus records a status transition for a cached message.
func (c *MessageCache) UpdateStatus(ctx context.Context, id string, status models.MessageStatus, readAt *time.Time) error {
	return c.withRetry(ctx, "update status", func() error {
		_, err := c.db.ExecContext(ctx, updateStatusQuery, status, readAt, id)
		return err
	})
}

// CleanupOlderThan removes entries cached before the retention horizon.
func (c *MessageCache) CleanupOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	var removed int64
	err := c.withRetry(ctx, "cleanup", func() error {
		res, err := c.db.ExecContext(ctx, deleteOlderThanQuery, time.Now().Add(-retention).UTC())
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	return removed, err
}

func (c *MessageCache) withRetry(ctx context.Context, operation string, fn func() error) error {
	err := c.backoff.RetryWithPredicate(ctx, fn, isRetryableCacheError)
	if err == nil {
		return nil
	}

	cacheErr := apperrors.NewCacheError(operation, err)
	if isRetryableCacheError(err) {
		cacheErr = apperrors.WrapRetryable(err, apperrors.ErrCodeCacheQuery,
			fmt.Sprintf("cache %s failed", operation)).WithContext("operation", operation)
	}
	c.logger.LogRetryableError(cacheErr, "Cache operation failed")
	return cacheErr
}

// isRetryableCacheError reports whether a SQLite error is worth retrying.
func isRetryableCacheError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()
	if strings.Contains(errStr, "database is locked") {
		return true
	}
	if strings.Contains(errStr, "disk I/O error") {
		return true
	}
	return false
}

func encodeAttachments(attachments []models.MediaAttachment) (string, error) {
	if len(attachments) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(attachments)
	if err != nil {
		return "", fmt.Errorf("failed to encode attachments: %w", err)
	}
	return string(raw), nil
}

func decodeAttachments(raw string) ([]models.MediaAttachment, error) {
	if raw == "" {
		return nil, nil
	}
	var attachments []models.MediaAttachment
	if err := json.Unmarshal([]byte(raw), &attachments); err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}
	return attachments, nil
}
