package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	consentDecidedChannel = "speech_consent_decided"
	// an unanswered prompt older than this is raised again
	consentPromptTTL = 24 * time.Hour
	unlistenTimeout  = 5 * time.Second
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const selectConsent = `SELECT subject, status::text, prompted_at, decided_at, decided_by, updated_at
	FROM speech_consents WHERE subject = $1`

func scanConsent(row pgx.Row) (*repository.Consent, error) {
	var c repository.Consent
	var status string
	if err := row.Scan(&c.Subject, &status, &c.PromptedAt, &c.DecidedAt, &c.DecidedBy, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = repository.ConsentStatus(status)
	return &c, nil
}

func (r *PostgresRepository) GetConsent(ctx context.Context, subject string) (*repository.Consent, error) {
	c, err := scanConsent(r.pool.QueryRow(ctx, selectConsent, subject))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func (r *PostgresRepository) RecordPrompt(ctx context.Context, input repository.RecordPromptInput) (bool, error) {
	var subject string
	err := r.pool.QueryRow(ctx,
		`INSERT INTO speech_consents (subject, status, prompted_at, updated_at)
		 VALUES ($1, 'not_determined', $2, $2)
		 ON CONFLICT (subject) DO UPDATE SET prompted_at = EXCLUDED.prompted_at, updated_at = EXCLUDED.updated_at
		 WHERE speech_consents.status = 'not_determined'
		   AND (speech_consents.prompted_at IS NULL OR speech_consents.prompted_at < $3)
		 RETURNING subject`,
		input.Subject, input.PromptedAt, input.PromptedAt.Add(-consentPromptTTL)).Scan(&subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *PostgresRepository) DecideConsent(ctx context.Context, input repository.DecideConsentInput) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO speech_consents (subject, status, decided_at, decided_by, updated_at)
			 VALUES ($1, $2::consent_status, $3, $4, $3)
			 ON CONFLICT (subject) DO UPDATE SET
			   status = EXCLUDED.status,
			   decided_at = EXCLUDED.decided_at,
			   decided_by = EXCLUDED.decided_by,
			   prompted_at = NULL,
			   updated_at = EXCLUDED.updated_at`,
			input.Subject, string(input.Status), input.DecidedAt, input.DecidedBy); err != nil {
			return fmt.Errorf("upsert consent: %w", err)
		}
		// delivered to listeners on commit
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, consentDecidedChannel, input.Subject); err != nil {
			return fmt.Errorf("notify consent decision: %w", err)
		}
		return nil
	})
}

// WaitForDecision listens for decision notifications on a dedicated pooled
// connection and re-reads the record after subscribing and after every
// notification, so a decision committed before LISTEN is not missed.
func (r *PostgresRepository) WaitForDecision(ctx context.Context, subject string) (*repository.Consent, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, "LISTEN "+consentDecidedChannel); err != nil {
		return nil, fmt.Errorf("listen %s: %w", consentDecidedChannel, err)
	}
	defer func() {
		uctx, cancel := context.WithTimeout(context.Background(), unlistenTimeout)
		defer cancel()
		if _, err := conn.Exec(uctx, "UNLISTEN "+consentDecidedChannel); err != nil {
			slog.Debug("failed to unlisten consent channel", "error", err)
		}
	}()

	for {
		c, err := scanConsent(conn.QueryRow(ctx, selectConsent, subject))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("read consent: %w", err)
		}
		if c != nil && c.Status.Decided() {
			return c, nil
		}
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				return nil, fmt.Errorf("wait for consent notification: %w", err)
			}
			if n.Payload == subject {
				break
			}
		}
	}
}

func (r *PostgresRepository) Shutdown() {
	r.pool.Close()
}
