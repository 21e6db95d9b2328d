package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"chat-service/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepo interface {
	// Save is idempotent on id so the relay consume loop can re-persist a
	// message this instance already stored.
	Save(ctx context.Context, message *models.Message) error
	// DeleteByID returns the deleted message, or nil when the id was unknown.
	// An unknown id is not an error.
	DeleteByID(ctx context.Context, id string) (*models.Message, error)
	DeleteAll(ctx context.Context) error
	FindPublic(ctx context.Context, limit int) ([]*models.Message, error)
	FindPrivateFor(ctx context.Context, username string) ([]*models.Message, error)
	FindPrivateBetween(ctx context.Context, userA, userB string) ([]*models.Message, error)
	Conversations(ctx context.Context, username string) ([]*models.ConversationSummary, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type PostgresMessagesRepo struct {
	pool *pgxpool.Pool
}

func NewMessagesRepo(pool *pgxpool.Pool) MessageRepo {
	return &PostgresMessagesRepo{
		pool: pool,
	}
}

func (r *PostgresMessagesRepo) Save(ctx context.Context, m *models.Message) error {
	query := `
        INSERT INTO messages (id, sender_name, body, room, visibility, recipient, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
    `

	_, err := r.pool.Exec(ctx, query,
		m.ID,
		m.Sender,
		m.Body,
		m.Room,
		m.Visibility,
		nullable(m.Recipient),
		m.CreatedAt,
	)

	if err != nil {
		log.Printf("[REPO ERROR] Failed to save message %s from %s: %v", m.ID, m.Sender, err)
		return fmt.Errorf("save message: %w", err)
	}

	return nil
}

func (r *PostgresMessagesRepo) DeleteByID(ctx context.Context, id string) (*models.Message, error) {
	query := `
		DELETE FROM messages
		WHERE id = $1
		RETURNING id, sender_name, body, room, visibility, recipient, created_at
	`

	m, err := scanMessage(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		log.Printf("[REPO ERROR] Failed to delete message %s: %v", id, err)
		return nil, fmt.Errorf("delete message: %w", err)
	}

	return m, nil
}

func (r *PostgresMessagesRepo) DeleteAll(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM messages`)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to clear messages: %v", err)
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func (r *PostgresMessagesRepo) FindPublic(ctx context.Context, limit int) ([]*models.Message, error) {
	query := `
        SELECT id, sender_name, body, room, visibility, recipient, created_at
        FROM messages
        WHERE visibility = 'public'
        ORDER BY created_at ASC
        LIMIT $1
    `

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		log.Printf("[REPO ERROR] FindPublic failed: %v", err)
		return nil, fmt.Errorf("find public messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

func (r *PostgresMessagesRepo) FindPrivateFor(ctx context.Context, username string) ([]*models.Message, error) {
	query := `
        SELECT id, sender_name, body, room, visibility, recipient, created_at
        FROM messages
        WHERE visibility = 'private'
          AND (sender_name = $1 OR recipient = $1)
        ORDER BY created_at ASC
    `

	rows, err := r.pool.Query(ctx, query, username)
	if err != nil {
		log.Printf("[REPO ERROR] FindPrivateFor failed for %s: %v", username, err)
		return nil, fmt.Errorf("find private messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

func (r *PostgresMessagesRepo) FindPrivateBetween(ctx context.Context, userA, userB string) ([]*models.Message, error) {
	query := `
        SELECT id, sender_name, body, room, visibility, recipient, created_at
        FROM messages
        WHERE visibility = 'private'
          AND ((sender_name = $1 AND recipient = $2) OR (sender_name = $2 AND recipient = $1))
        ORDER BY created_at ASC
    `

	rows, err := r.pool.Query(ctx, query, userA, userB)
	if err != nil {
		log.Printf("[REPO ERROR] FindPrivateBetween failed for %s/%s: %v", userA, userB, err)
		return nil, fmt.Errorf("find private messages between: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

func (r *PostgresMessagesRepo) Conversations(ctx context.Context, username string) ([]*models.ConversationSummary, error) {
	// Groups private traffic by "the other participant" and keeps the most
	// recent body per partner, mirroring the conversation sidebar query.
	query := `
        SELECT partner,
               (array_agg(body ORDER BY created_at DESC))[1] AS last_message,
               max(created_at) AS last_timestamp,
               count(*) AS message_count
        FROM (
            SELECT CASE WHEN sender_name = $1 THEN recipient ELSE sender_name END AS partner,
                   body, created_at
            FROM messages
            WHERE visibility = 'private'
              AND (sender_name = $1 OR recipient = $1)
        ) conv
        GROUP BY partner
        ORDER BY last_timestamp DESC
    `

	rows, err := r.pool.Query(ctx, query, username)
	if err != nil {
		log.Printf("[REPO ERROR] Conversations failed for %s: %v", username, err)
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	defer rows.Close()

	var summaries []*models.ConversationSummary
	for rows.Next() {
		s := &models.ConversationSummary{}
		if err := rows.Scan(&s.Username, &s.LastMessage, &s.LastTimestamp, &s.MessageCount); err != nil {
			log.Printf("[REPO ERROR] Conversation scan failed: %v", err)
			return nil, err
		}
		summaries = append(summaries, s)
	}

	return summaries, rows.Err()
}

func (r *PostgresMessagesRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	// Retention only ever touches the public board; private history is the
	// sole delivery channel for offline recipients.
	query := `
		DELETE FROM messages
		WHERE visibility = 'public' AND created_at < $1
	`

	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		log.Printf("[REPO ERROR] Retention sweep failed: %v", err)
		return 0, fmt.Errorf("retention sweep: %w", err)
	}

	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	m := &models.Message{}
	var recipient *string
	err := row.Scan(
		&m.ID,
		&m.Sender,
		&m.Body,
		&m.Room,
		&m.Visibility,
		&recipient,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if recipient != nil {
		m.Recipient = *recipient
	}
	return m, nil
}

func collectMessages(rows pgx.Rows) ([]*models.Message, error) {
	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			log.Printf("[REPO ERROR] Scan failed: %v", err)
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
