// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"digest_server/core/domain"
	"digest_server/pkg/crypto"
	"digest_server/pkg/logger"
)

// PreferenceAdapter implements out.PreferenceStore using PostgreSQL.
// Refresh tokens are AES-256-GCM encrypted before they reach a row and
// decrypted on the way out.
type PreferenceAdapter struct {
	db  *sqlx.DB
	enc *crypto.Encryptor
}

// NewPreferenceAdapter creates a new PreferenceAdapter.
func NewPreferenceAdapter(db *sqlx.DB, enc *crypto.Encryptor) *PreferenceAdapter {
	return &PreferenceAdapter{db: db, enc: enc}
}

// preferenceRow mirrors the digest_preferences table.
type preferenceRow struct {
	ID               int64          `db:"id"`
	Identity         uuid.UUID      `db:"identity"`
	Email            string         `db:"email"`
	DeliveryHour     int            `db:"delivery_hour"`
	Timezone         string         `db:"timezone"`
	WeekendPolicy    string         `db:"weekend_policy"`
	OnVacation       bool           `db:"on_vacation"`
	UrgentKeywords   pq.StringArray `db:"urgent_keywords"`
	ImportantSenders pq.StringArray `db:"important_senders"`
	RefreshToken     sql.NullString `db:"refresh_token"`
	LastDigestSentAt sql.NullTime   `db:"last_digest_sent_at"`
	Active           bool           `db:"active"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

const preferenceColumns = `
	id, identity, email, delivery_hour, timezone, weekend_policy,
	on_vacation, urgent_keywords, important_senders, refresh_token,
	last_digest_sent_at, active, created_at, updated_at
`

func (a *PreferenceAdapter) toDomain(r *preferenceRow) domain.UserPreference {
	pref := domain.UserPreference{
		ID:               r.ID,
		Identity:         r.Identity,
		Email:            r.Email,
		DeliveryHour:     r.DeliveryHour,
		Timezone:         r.Timezone,
		WeekendPolicy:    domain.WeekendPolicy(r.WeekendPolicy),
		OnVacation:       r.OnVacation,
		UrgentKeywords:   r.UrgentKeywords,
		ImportantSenders: r.ImportantSenders,
		Active:           r.Active,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}

	if r.LastDigestSentAt.Valid {
		t := r.LastDigestSentAt.Time
		pref.LastDigestSentAt = &t
	}

	if r.RefreshToken.Valid && r.RefreshToken.String != "" {
		token, err := a.enc.Decrypt(r.RefreshToken.String)
		if err != nil {
			// 복호화 실패 시 토큰 없이 진행: fetch 단계에서 auth 오류로 격리된다
			logger.Default().WithError(err).WithField("identity", r.Identity.String()).
				Warn("refresh token decryption failed")
		} else {
			pref.RefreshToken = token
		}
	}

	return pref
}

// ListActiveUsers returns every active preference row.
func (a *PreferenceAdapter) ListActiveUsers(ctx context.Context) ([]domain.UserPreference, error) {
	const query = `
		SELECT ` + preferenceColumns + `
		FROM digest_preferences
		WHERE active = TRUE
		ORDER BY id
	`

	var rows []preferenceRow
	if err := a.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	prefs := make([]domain.UserPreference, 0, len(rows))
	for i := range rows {
		prefs = append(prefs, a.toDomain(&rows[i]))
	}
	return prefs, nil
}

// GetByIdentity returns one user's preference, or nil when absent.
func (a *PreferenceAdapter) GetByIdentity(ctx context.Context, identity uuid.UUID) (*domain.UserPreference, error) {
	const query = `
		SELECT ` + preferenceColumns + `
		FROM digest_preferences
		WHERE identity = $1
	`

	var row preferenceRow
	if err := a.db.GetContext(ctx, &row, query, identity); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	pref := a.toDomain(&row)
	return &pref, nil
}

// UpdateLastSent records a successful delivery.
func (a *PreferenceAdapter) UpdateLastSent(ctx context.Context, identity uuid.UUID, sentAt time.Time) error {
	const query = `
		UPDATE digest_preferences
		SET last_digest_sent_at = $2, updated_at = NOW()
		WHERE identity = $1
	`

	_, err := a.db.ExecContext(ctx, query, identity, sentAt)
	return err
}

// Upsert creates or replaces a preference row. An empty incoming refresh
// token keeps the stored one so preference edits cannot wipe the credential.
func (a *PreferenceAdapter) Upsert(ctx context.Context, pref *domain.UserPreference) error {
	encrypted, err := a.enc.Encrypt(pref.RefreshToken)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO digest_preferences (
			identity, email, delivery_hour, timezone, weekend_policy,
			on_vacation, urgent_keywords, important_senders, refresh_token,
			active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW()
		)
		ON CONFLICT (identity) DO UPDATE SET
			email = EXCLUDED.email,
			delivery_hour = EXCLUDED.delivery_hour,
			timezone = EXCLUDED.timezone,
			weekend_policy = EXCLUDED.weekend_policy,
			on_vacation = EXCLUDED.on_vacation,
			urgent_keywords = EXCLUDED.urgent_keywords,
			important_senders = EXCLUDED.important_senders,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), digest_preferences.refresh_token),
			active = EXCLUDED.active,
			updated_at = NOW()
	`

	_, err = a.db.ExecContext(ctx, query,
		pref.Identity,
		pref.Email,
		pref.DeliveryHour,
		pref.Timezone,
		string(pref.WeekendPolicy),
		pref.OnVacation,
		pq.Array(pref.UrgentKeywords),
		pq.Array(pref.ImportantSenders),
		encrypted,
		pref.Active,
	)
	return err
}
