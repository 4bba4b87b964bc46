package digest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"digest_server/core/domain"
	"digest_server/core/port/out"
	"digest_server/pkg/apperr"
	"digest_server/pkg/snowflake"
)

// ---- port stubs -------------------------------------------------------------

type memPrefs struct {
	users    []domain.UserPreference
	lastSent map[uuid.UUID]time.Time
	upserted []*domain.UserPreference
	listErr  error
}

func (m *memPrefs) ListActiveUsers(ctx context.Context) ([]domain.UserPreference, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.users, nil
}

func (m *memPrefs) GetByIdentity(ctx context.Context, identity uuid.UUID) (*domain.UserPreference, error) {
	for i := range m.users {
		if m.users[i].Identity == identity {
			u := m.users[i]
			return &u, nil
		}
	}
	return nil, nil
}

func (m *memPrefs) UpdateLastSent(ctx context.Context, identity uuid.UUID, sentAt time.Time) error {
	if m.lastSent == nil {
		m.lastSent = make(map[uuid.UUID]time.Time)
	}
	m.lastSent[identity] = sentAt
	return nil
}

func (m *memPrefs) Upsert(ctx context.Context, pref *domain.UserPreference) error {
	m.upserted = append(m.upserted, pref)
	return nil
}

type stubSource struct {
	emails []domain.RawEmail
	err    error
	calls  int
}

func (s *stubSource) FetchUnread(ctx context.Context, cred domain.SourceCredential, opts out.FetchOptions) ([]domain.RawEmail, error) {
	s.calls++
	return s.emails, s.err
}

type stubDelivery struct {
	runs []*domain.DigestRun
	err  error
}

func (s *stubDelivery) Deliver(ctx context.Context, cred domain.SourceCredential, run *domain.DigestRun) error {
	if s.err != nil {
		return s.err
	}
	s.runs = append(s.runs, run)
	return nil
}

type stubNotifier struct {
	notified []uuid.UUID
}

func (s *stubNotifier) NotifyFailure(ctx context.Context, identity uuid.UUID, cause error, tickTime time.Time) error {
	s.notified = append(s.notified, identity)
	return nil
}

type stubHistory struct {
	saved []*domain.DigestRun
}

func (s *stubHistory) Save(ctx context.Context, run *domain.DigestRun) error {
	s.saved = append(s.saved, run)
	return nil
}

func (s *stubHistory) ListByUser(ctx context.Context, identity uuid.UUID, limit, offset int) ([]*domain.DigestRun, error) {
	return s.saved, nil
}

func (s *stubHistory) LatestByUser(ctx context.Context, identity uuid.UUID) (*domain.DigestRun, error) {
	if len(s.saved) == 0 {
		return nil, nil
	}
	return s.saved[len(s.saved)-1], nil
}

type stubGuard struct {
	denied   bool
	err      error
	acquired []string
	released []string
	cached   []*domain.DigestRun
}

func (s *stubGuard) AcquireDay(ctx context.Context, identity uuid.UUID, localDay string, ttl time.Duration) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.denied {
		return false, nil
	}
	s.acquired = append(s.acquired, localDay)
	return true, nil
}

func (s *stubGuard) ReleaseDay(ctx context.Context, identity uuid.UUID, localDay string) error {
	s.released = append(s.released, localDay)
	return nil
}

func (s *stubGuard) CacheRun(ctx context.Context, run *domain.DigestRun, ttl time.Duration) error {
	s.cached = append(s.cached, run)
	return nil
}

func (s *stubGuard) CachedRun(ctx context.Context, identity uuid.UUID) (*domain.DigestRun, error) {
	if len(s.cached) == 0 {
		return nil, nil
	}
	return s.cached[len(s.cached)-1], nil
}

// ---- helpers ----------------------------------------------------------------

// mondayTick is 08:00 UTC on a weekday, saturdayTick on a weekend.
var (
	mondayTick   = time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC)
	saturdayTick = time.Date(2024, 1, 6, 8, 0, 0, 0, time.UTC)
)

func activeUser(hour int) domain.UserPreference {
	return domain.UserPreference{
		Identity:      uuid.New(),
		Email:         "user@example.com",
		DeliveryHour:  hour,
		Timezone:      "UTC",
		WeekendPolicy: domain.WeekendFull,
		Active:        true,
	}
}

func shortEmails() []domain.RawEmail {
	return []domain.RawEmail{{
		ExternalID: "m1",
		From:       "kim@client.example.com",
		Subject:    "Room change",
		Body:       "Meeting moved to 3pm tomorrow, same room.",
	}}
}

func newTestService(t *testing.T, deps ServiceDeps) *Service {
	t.Helper()
	if deps.Engine == nil {
		deps.Engine = newTestEngine(&stubSummarizer{}, EngineConfig{})
	}
	if deps.IDs == nil {
		gen, err := snowflake.NewGenerator(1)
		if err != nil {
			t.Fatalf("snowflake generator: %v", err)
		}
		deps.IDs = gen
	}
	return NewService(deps, ServiceConfig{})
}

// ---- RunOnce ----------------------------------------------------------------

func TestRunOnceEligibility(t *testing.T) {
	eligible := activeUser(8)
	wrongHour := activeUser(9)
	vacation := activeUser(8)
	vacation.OnVacation = true
	badZone := activeUser(8)
	badZone.Timezone = "Mars/Olympus"
	sentAlready := activeUser(8)
	earlier := mondayTick.Add(-2 * time.Hour)
	sentAlready.LastDigestSentAt = &earlier

	prefs := &memPrefs{users: []domain.UserPreference{eligible, wrongHour, vacation, badZone, sentAlready}}
	delivery := &stubDelivery{}
	svc := newTestService(t, ServiceDeps{
		Prefs:    prefs,
		Source:   &stubSource{emails: shortEmails()},
		Delivery: delivery,
	})

	summary, err := svc.RunOnce(context.Background(), mondayTick)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Evaluated != 5 || summary.Eligible != 1 || summary.Delivered != 1 {
		t.Errorf("summary = %+v, want 5 evaluated, 1 eligible, 1 delivered", summary)
	}
	if summary.Skipped != 3 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 3 skipped (vacation, bad zone, already sent), 0 failed", summary)
	}
	if len(delivery.runs) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(delivery.runs))
	}
	if got := prefs.lastSent[eligible.Identity]; !got.Equal(mondayTick) {
		t.Errorf("last sent = %v, want tick time %v", got, mondayTick)
	}
	if _, ok := prefs.lastSent[wrongHour.Identity]; ok {
		t.Error("ineligible user must not get a last-sent update")
	}
}

func TestRunOnceDeliveryFailure(t *testing.T) {
	user := activeUser(8)
	prefs := &memPrefs{users: []domain.UserPreference{user}}
	notifier := &stubNotifier{}
	history := &stubHistory{}
	guard := &stubGuard{}
	svc := newTestService(t, ServiceDeps{
		Prefs:    prefs,
		Source:   &stubSource{emails: shortEmails()},
		Delivery: &stubDelivery{err: errors.New("smtp refused")},
		Notifier: notifier,
		History:  history,
		Guard:    guard,
	})

	summary, err := svc.RunOnce(context.Background(), mondayTick)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Failed != 1 || summary.Delivered != 0 {
		t.Errorf("summary = %+v, want 1 failed, 0 delivered", summary)
	}
	if _, ok := prefs.lastSent[user.Identity]; ok {
		t.Error("delivery failure must not update last-sent")
	}
	if len(notifier.notified) != 1 || notifier.notified[0] != user.Identity {
		t.Errorf("admin notifications = %v, want the failed user", notifier.notified)
	}
	if len(history.saved) != 1 || history.saved[0].Succeeded {
		t.Error("failed run must still be recorded with Succeeded=false")
	}
	if len(guard.released) != 1 {
		t.Errorf("guard releases = %d, want 1 so the next tick can retry", len(guard.released))
	}
	if stats := svc.Stats(); stats.DigestsFailed != 1 || stats.DigestsSent != 0 {
		t.Errorf("stats = %+v, want 1 failed, 0 sent", stats)
	}
}

func TestRunOnceFetchFailureIsolated(t *testing.T) {
	failing := activeUser(8)
	healthy := activeUser(8)
	prefs := &memPrefs{users: []domain.UserPreference{failing, healthy}}

	// Per-user sources: first user's fetch breaks, second succeeds.
	calls := 0
	source := sourceFunc(func(ctx context.Context, cred domain.SourceCredential, opts out.FetchOptions) ([]domain.RawEmail, error) {
		calls++
		if cred.Identity == failing.Identity {
			return nil, out.NewSourceError("gmail", out.SourceErrServer, "backend error", errors.New("500"), true)
		}
		return shortEmails(), nil
	})

	delivery := &stubDelivery{}
	svc := newTestService(t, ServiceDeps{Prefs: prefs, Source: source, Delivery: delivery})

	summary, err := svc.RunOnce(context.Background(), mondayTick)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Failed != 1 || summary.Delivered != 1 {
		t.Errorf("summary = %+v, want the second user delivered despite the first failing", summary)
	}
	if calls != 2 {
		t.Errorf("fetch calls = %d, want both users attempted", calls)
	}
	if len(delivery.runs) != 1 || delivery.runs[0].Identity != healthy.Identity {
		t.Error("delivered run must belong to the healthy user")
	}
}

type sourceFunc func(ctx context.Context, cred domain.SourceCredential, opts out.FetchOptions) ([]domain.RawEmail, error)

func (f sourceFunc) FetchUnread(ctx context.Context, cred domain.SourceCredential, opts out.FetchOptions) ([]domain.RawEmail, error) {
	return f(ctx, cred, opts)
}

func TestRunOnceZeroUnreadSkips(t *testing.T) {
	user := activeUser(8)
	prefs := &memPrefs{users: []domain.UserPreference{user}}
	delivery := &stubDelivery{}
	guard := &stubGuard{}
	svc := newTestService(t, ServiceDeps{
		Prefs:    prefs,
		Source:   &stubSource{},
		Delivery: delivery,
		Guard:    guard,
	})

	summary, err := svc.RunOnce(context.Background(), mondayTick)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Skipped != 1 || summary.Delivered != 0 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want a clean skip", summary)
	}
	if len(delivery.runs) != 0 {
		t.Error("nothing to deliver, yet delivery was called")
	}
	if _, ok := prefs.lastSent[user.Identity]; ok {
		t.Error("zero unread must not update last-sent")
	}
	if len(guard.released) != 1 {
		t.Error("day slot must be released when nothing was sent")
	}
}

func TestRunOnceWeekendUrgentOnly(t *testing.T) {
	user := activeUser(8)
	user.WeekendPolicy = domain.WeekendUrgentOnly
	prefs := &memPrefs{users: []domain.UserPreference{user}}
	delivery := &stubDelivery{}

	emails := []domain.RawEmail{
		{
			ExternalID: "urgent",
			From:       "kim@client.example.com",
			Subject:    "Q3 numbers",
			Body:       "Could you send me the Q3 numbers by Friday?",
		},
		{
			ExternalID: "noise",
			From:       "noreply@ci.example.com",
			Subject:    "Build finished",
			Body:       "The nightly build completed without warnings overnight.",
		},
	}
	svc := newTestService(t, ServiceDeps{
		Prefs:    prefs,
		Source:   &stubSource{emails: emails},
		Delivery: delivery,
	})

	summary, err := svc.RunOnce(context.Background(), saturdayTick)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Delivered != 1 {
		t.Fatalf("summary = %+v, want 1 delivered", summary)
	}
	run := delivery.runs[0]
	if len(run.Items) != 1 || run.Items[0].Email.ExternalID != "urgent" {
		t.Errorf("weekend urgent_only run items = %+v, want only the reply-required email", run.Items)
	}
}

func TestRunOnceWeekendUrgentOnlyEmpty(t *testing.T) {
	user := activeUser(8)
	user.WeekendPolicy = domain.WeekendUrgentOnly
	prefs := &memPrefs{users: []domain.UserPreference{user}}
	delivery := &stubDelivery{}

	emails := []domain.RawEmail{{
		ExternalID: "noise",
		From:       "noreply@ci.example.com",
		Subject:    "Build finished",
		Body:       "The nightly build completed without warnings overnight.",
	}}
	svc := newTestService(t, ServiceDeps{
		Prefs:    prefs,
		Source:   &stubSource{emails: emails},
		Delivery: delivery,
	})

	summary, err := svc.RunOnce(context.Background(), saturdayTick)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Skipped != 1 || summary.Delivered != 0 {
		t.Errorf("summary = %+v, want a skip when the filter leaves nothing", summary)
	}
	if _, ok := prefs.lastSent[user.Identity]; ok {
		t.Error("empty filtered digest must not update last-sent")
	}
}

func TestRunOnceWeekendOff(t *testing.T) {
	user := activeUser(8)
	user.WeekendPolicy = domain.WeekendOff
	prefs := &memPrefs{users: []domain.UserPreference{user}}
	source := &stubSource{emails: shortEmails()}
	svc := newTestService(t, ServiceDeps{Prefs: prefs, Source: source, Delivery: &stubDelivery{}})

	summary, err := svc.RunOnce(context.Background(), saturdayTick)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Skipped != 1 || summary.Eligible != 0 {
		t.Errorf("summary = %+v, want weekend-off user skipped before fetch", summary)
	}
	if source.calls != 0 {
		t.Error("weekend-off skip must not hit the mailbox")
	}
}

func TestRunOnceGuardDenied(t *testing.T) {
	user := activeUser(8)
	prefs := &memPrefs{users: []domain.UserPreference{user}}
	source := &stubSource{emails: shortEmails()}
	svc := newTestService(t, ServiceDeps{
		Prefs:    prefs,
		Source:   source,
		Delivery: &stubDelivery{},
		Guard:    &stubGuard{denied: true},
	})

	summary, err := svc.RunOnce(context.Background(), mondayTick)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Skipped != 1 || summary.Delivered != 0 {
		t.Errorf("summary = %+v, want skip when another process holds the day slot", summary)
	}
	if source.calls != 0 {
		t.Error("lost guard must skip before fetching")
	}
}

func TestRunOnceGuardOutageDegrades(t *testing.T) {
	user := activeUser(8)
	prefs := &memPrefs{users: []domain.UserPreference{user}}
	delivery := &stubDelivery{}
	svc := newTestService(t, ServiceDeps{
		Prefs:    prefs,
		Source:   &stubSource{emails: shortEmails()},
		Delivery: delivery,
		Guard:    &stubGuard{err: errors.New("redis down")},
	})

	summary, err := svc.RunOnce(context.Background(), mondayTick)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.Delivered != 1 {
		t.Errorf("summary = %+v, want delivery to proceed on the persisted guard alone", summary)
	}
}

func TestRunOnceListFailure(t *testing.T) {
	svc := newTestService(t, ServiceDeps{
		Prefs:    &memPrefs{listErr: errors.New("connection refused")},
		Source:   &stubSource{},
		Delivery: &stubDelivery{},
	})

	if _, err := svc.RunOnce(context.Background(), mondayTick); !apperr.IsCode(err, apperr.CodeDatabaseError) {
		t.Errorf("err = %v, want DATABASE_ERROR", err)
	}
}

// ---- EligibleUsers ----------------------------------------------------------

func TestEligibleUsers(t *testing.T) {
	eligible := activeUser(8)
	wrongHour := activeUser(9)
	vacation := activeUser(8)
	vacation.OnVacation = true

	svc := newTestService(t, ServiceDeps{
		Prefs:    &memPrefs{users: []domain.UserPreference{eligible, wrongHour, vacation}},
		Source:   &stubSource{},
		Delivery: &stubDelivery{},
	})

	users, err := svc.EligibleUsers(context.Background(), mondayTick)
	if err != nil {
		t.Fatalf("EligibleUsers: %v", err)
	}
	if len(users) != 1 || users[0].Identity != eligible.Identity {
		t.Errorf("eligible = %v, want exactly the matching user", users)
	}
}

func TestEligibleUsersTimezones(t *testing.T) {
	seoul := activeUser(17) // 08:00 UTC == 17:00 KST
	seoul.Timezone = "Asia/Seoul"
	newYork := activeUser(8) // 08:00 UTC == 03:00 EST
	newYork.Timezone = "America/New_York"

	svc := newTestService(t, ServiceDeps{
		Prefs:    &memPrefs{users: []domain.UserPreference{seoul, newYork}},
		Source:   &stubSource{},
		Delivery: &stubDelivery{},
	})

	users, err := svc.EligibleUsers(context.Background(), mondayTick)
	if err != nil {
		t.Fatalf("EligibleUsers: %v", err)
	}
	if len(users) != 1 || users[0].Identity != seoul.Identity {
		t.Errorf("eligible = %d users, want only the Seoul user at 17:00 local", len(users))
	}
}

// ---- RunForUser -------------------------------------------------------------

func TestRunForUser(t *testing.T) {
	user := activeUser(23) // manual runs ignore the delivery hour
	prefs := &memPrefs{users: []domain.UserPreference{user}}
	delivery := &stubDelivery{}
	svc := newTestService(t, ServiceDeps{
		Prefs:    prefs,
		Source:   &stubSource{emails: shortEmails()},
		Delivery: delivery,
	})

	run, err := svc.RunForUser(context.Background(), user.Identity, false)
	if err != nil {
		t.Fatalf("RunForUser: %v", err)
	}
	if run == nil || run.TotalProcessed != 1 {
		t.Fatalf("run = %+v, want one processed item", run)
	}
	if len(delivery.runs) != 1 {
		t.Error("manual run must deliver")
	}
}

func TestRunForUserGuards(t *testing.T) {
	now := time.Now()
	sent := activeUser(8)
	sent.LastDigestSentAt = &now
	onVacation := activeUser(8)
	onVacation.OnVacation = true

	prefs := &memPrefs{users: []domain.UserPreference{sent, onVacation}}
	svc := newTestService(t, ServiceDeps{
		Prefs:    prefs,
		Source:   &stubSource{emails: shortEmails()},
		Delivery: &stubDelivery{},
	})

	if _, err := svc.RunForUser(context.Background(), sent.Identity, false); !apperr.IsCode(err, apperr.CodeConflict) {
		t.Errorf("already-sent err = %v, want CONFLICT", err)
	}
	if _, err := svc.RunForUser(context.Background(), onVacation.Identity, false); !apperr.IsCode(err, apperr.CodeConflict) {
		t.Errorf("vacation err = %v, want CONFLICT", err)
	}
	if _, err := svc.RunForUser(context.Background(), uuid.New(), false); !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Errorf("unknown identity err = %v, want NOT_FOUND", err)
	}

	// force bypasses both checks
	run, err := svc.RunForUser(context.Background(), sent.Identity, true)
	if err != nil {
		t.Fatalf("forced RunForUser: %v", err)
	}
	if run == nil {
		t.Fatal("forced run must deliver")
	}
}

func TestRunForUserNothingUnread(t *testing.T) {
	user := activeUser(8)
	svc := newTestService(t, ServiceDeps{
		Prefs:    &memPrefs{users: []domain.UserPreference{user}},
		Source:   &stubSource{},
		Delivery: &stubDelivery{},
	})

	run, err := svc.RunForUser(context.Background(), user.Identity, false)
	if err != nil {
		t.Fatalf("RunForUser: %v", err)
	}
	if run != nil {
		t.Errorf("run = %+v, want nil when there is nothing to send", run)
	}
}

// ---- stats ------------------------------------------------------------------

func TestStatsCounters(t *testing.T) {
	user := activeUser(8)
	prefs := &memPrefs{users: []domain.UserPreference{user}}
	svc := newTestService(t, ServiceDeps{
		Prefs:    prefs,
		Source:   &stubSource{emails: shortEmails()},
		Delivery: &stubDelivery{},
	})

	if _, err := svc.RunOnce(context.Background(), mondayTick); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	stats := svc.Stats()
	if stats.DigestsSent != 1 || stats.EmailsProcessed != 1 {
		t.Errorf("stats = %+v, want 1 sent, 1 email", stats)
	}
	if stats.LastTickAt.IsZero() {
		t.Error("last tick must be recorded")
	}
}
