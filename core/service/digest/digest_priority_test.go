package digest

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"digest_server/core/domain"
	"digest_server/core/port/out"
)

type stubProfiles struct {
	profile *out.SenderProfile
	err     error
}

func (s *stubProfiles) Profile(ctx context.Context, identity uuid.UUID, sender string) (*out.SenderProfile, error) {
	return s.profile, s.err
}

func (s *stubProfiles) RecordInteraction(ctx context.Context, identity uuid.UUID, sender string, replied bool) error {
	return nil
}

func (s *stubProfiles) MarkVIP(ctx context.Context, identity uuid.UUID, sender string, vip bool) error {
	return nil
}

func TestPriorityScore(t *testing.T) {
	user := &domain.UserPreference{Identity: uuid.New()}

	tests := []struct {
		name       string
		profiles   out.SenderProfileStore
		user       *domain.UserPreference
		email      domain.RawEmail
		ectx       domain.ExtractedContext
		wantScore  float64
		wantBucket string
	}{
		{
			name: "plain email keeps baseline",
			user: user,
			email: domain.RawEmail{
				From:    "friend@example.com",
				Subject: "Lunch plans",
				Body:    "Shall we grab lunch at the new place on Thursday?",
			},
			wantScore:  0.3,
			wantBucket: domain.BucketLow,
		},
		{
			name: "urgent subject keyword",
			user: user,
			email: domain.RawEmail{
				From:    "ops@example.com",
				Subject: "Urgent: server maintenance",
				Body:    "The maintenance window starts at nine.",
			},
			wantScore:  0.55,
			wantBucket: domain.BucketMedium,
		},
		{
			name: "keywords in subject and body plus deadline",
			user: user,
			email: domain.RawEmail{
				From:    "dev@example.com",
				Subject: "Critical bug in checkout",
				Body:    "The checkout flow is broken. Can you fix it by Friday?",
			},
			ectx:       domain.ExtractedContext{Deadline: "by Friday"},
			wantScore:  0.85,
			wantBucket: domain.BucketHigh,
		},
		{
			name: "important sender list",
			user: &domain.UserPreference{Identity: uuid.New(), ImportantSenders: []string{"@corp.example.com"}},
			email: domain.RawEmail{
				From:    "boss@corp.example.com",
				Subject: "Weekly sync agenda",
				Body:    "Agenda attached for Thursday's sync.",
			},
			wantScore:  0.5,
			wantBucket: domain.BucketMedium,
		},
		{
			name: "per-user urgent keyword",
			user: &domain.UserPreference{Identity: uuid.New(), UrgentKeywords: []string{"payroll"}},
			email: domain.RawEmail{
				From:    "hr@example.com",
				Subject: "Heads up",
				Body:    "The payroll cutoff moved, see the memo.",
			},
			wantScore:  0.5,
			wantBucket: domain.BucketMedium,
		},
		{
			name:     "vip sender via reply count",
			profiles: &stubProfiles{profile: &out.SenderProfile{RepliesDrafted: 5}},
			user:     user,
			email: domain.RawEmail{
				From:    "kim@client.example.com",
				Subject: "Quarterly summary",
				Body:    "Attached is the quarterly overview we discussed.",
			},
			wantScore:  0.5,
			wantBucket: domain.BucketMedium,
		},
		{
			name:     "profile lookup failure scores as non-vip",
			profiles: &stubProfiles{err: errors.New("graph unavailable")},
			user:     user,
			email: domain.RawEmail{
				From:    "kim@client.example.com",
				Subject: "Quarterly summary",
				Body:    "Attached is the quarterly overview we discussed.",
			},
			wantScore:  0.3,
			wantBucket: domain.BucketLow,
		},
		{
			name: "automated sender penalized",
			user: user,
			email: domain.RawEmail{
				From:    "noreply@ci.example.com",
				Subject: "Build finished",
				Body:    "All stages passed in eleven minutes.",
			},
			wantScore:  0.0,
			wantBucket: domain.BucketLow,
		},
		{
			name:     "clamped to one",
			profiles: &stubProfiles{profile: &out.SenderProfile{VIP: true}},
			user: &domain.UserPreference{
				Identity:         uuid.New(),
				UrgentKeywords:   []string{"approval"},
				ImportantSenders: []string{"ceo@example.com"},
			},
			email: domain.RawEmail{
				From:    "ceo@example.com",
				Subject: "URGENT approval required",
				Body:    "Please confirm today. Customer checkout is down.",
			},
			ectx:       domain.ExtractedContext{Deadline: "today"},
			wantScore:  1.0,
			wantBucket: domain.BucketHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := NewPriorityScorer(tt.profiles)
			got := scorer.Score(context.Background(), tt.user, &tt.email, &tt.ectx)
			if math.Abs(float64(got)-tt.wantScore) > 1e-9 {
				t.Errorf("score = %.4f, want %.4f", float64(got), tt.wantScore)
			}
			if got.Bucket() != tt.wantBucket {
				t.Errorf("bucket = %q, want %q", got.Bucket(), tt.wantBucket)
			}
		})
	}
}
