package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WeekendPolicy controls whether a user receives digests on weekends.
type WeekendPolicy string

const (
	// WeekendFull delivers the complete digest on weekends.
	WeekendFull WeekendPolicy = "full"
	// WeekendUrgentOnly delivers only items that require a reply or an action.
	WeekendUrgentOnly WeekendPolicy = "urgent_only"
	// WeekendOff suppresses weekend delivery entirely.
	WeekendOff WeekendPolicy = "off"
)

// Valid reports whether the policy is one of the known values.
func (p WeekendPolicy) Valid() bool {
	switch p {
	case WeekendFull, WeekendUrgentOnly, WeekendOff:
		return true
	}
	return false
}

// UserPreference holds one user's digest delivery settings.
// DeliveryHour is always interpreted in the user's own timezone;
// server local time never participates in eligibility.
type UserPreference struct {
	ID       int64     `json:"id"`
	Identity uuid.UUID `json:"identity"`
	Email    string    `json:"email"`

	// Delivery window
	DeliveryHour  int           `json:"delivery_hour"` // 0~23, local to Timezone
	Timezone      string        `json:"timezone"`      // IANA name, e.g. "Asia/Seoul"
	WeekendPolicy WeekendPolicy `json:"weekend_policy"`
	OnVacation    bool          `json:"on_vacation"`

	// Personalization
	UrgentKeywords   []string `json:"urgent_keywords"`
	ImportantSenders []string `json:"important_senders"`

	// Source credential, decrypted by the preference store. Never serialized.
	RefreshToken string `json:"-"`

	LastDigestSentAt *time.Time `json:"last_digest_sent_at,omitempty"`
	Active           bool       `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the fields eligibility evaluation depends on.
// A preference that fails here is skipped for the tick, never fatal.
func (u *UserPreference) Validate() error {
	if u.DeliveryHour < 0 || u.DeliveryHour > 23 {
		return fmt.Errorf("delivery hour %d out of range", u.DeliveryHour)
	}
	if !u.WeekendPolicy.Valid() {
		return fmt.Errorf("unknown weekend policy %q", u.WeekendPolicy)
	}
	if _, err := u.Location(); err != nil {
		return fmt.Errorf("timezone %q: %w", u.Timezone, err)
	}
	return nil
}

// Location resolves the user's IANA timezone.
func (u *UserPreference) Location() (*time.Location, error) {
	return time.LoadLocation(u.Timezone)
}

// LocalDay returns the user's local calendar day for the given instant,
// formatted as 2006-01-02. Used for the same-day idempotence guard.
func (u *UserPreference) LocalDay(at time.Time) (string, error) {
	loc, err := u.Location()
	if err != nil {
		return "", err
	}
	return at.In(loc).Format("2006-01-02"), nil
}

// SentOnLocalDay reports whether a digest was already sent on the local
// calendar day containing at. Both timestamps are compared in the user's
// timezone so an 08:00 send and a 09:00 retry land on the same day.
func (u *UserPreference) SentOnLocalDay(at time.Time) bool {
	if u.LastDigestSentAt == nil {
		return false
	}
	loc, err := u.Location()
	if err != nil {
		return false
	}
	lastY, lastM, lastD := u.LastDigestSentAt.In(loc).Date()
	y, m, d := at.In(loc).Date()
	return lastY == y && lastM == m && lastD == d
}

// Credential builds the source capability for this user. The returned value
// is bound to a single identity and must never be shared across users.
func (u *UserPreference) Credential() SourceCredential {
	return SourceCredential{
		Identity:     u.Identity,
		Email:        u.Email,
		RefreshToken: u.RefreshToken,
	}
}

// SourceCredential is the capability object handed to mailbox adapters.
// 한 사용자에게만 바인딩되는 자격 증명
type SourceCredential struct {
	Identity     uuid.UUID
	Email        string
	RefreshToken string
}
