package manager

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rdvincent/tutanota/internal/alarmclock"
	"github.com/rdvincent/tutanota/internal/crypto"
	domain "github.com/rdvincent/tutanota/internal/domain/alarm"
)

var errTestKeyring = errors.New("test keyring error")

// memoryRepository is an in-memory recurring-alarm store for tests.
type memoryRepository struct {
	// notifications is the currently stored set.
	notifications []domain.AlarmNotification
	// loadErr, when set, is returned from Load.
	loadErr error
	// saves records every set passed to Save, in order.
	saves [][]domain.AlarmNotification
}

// Load returns the stored set.
func (m *memoryRepository) Load(context.Context) ([]domain.AlarmNotification, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}

	out := make([]domain.AlarmNotification, len(m.notifications))
	copy(out, m.notifications)

	return out, nil
}

// Save overwrites the stored set and records the write.
func (m *memoryRepository) Save(_ context.Context, notifications []domain.AlarmNotification) error {
	m.notifications = notifications
	m.saves = append(m.saves, notifications)

	return nil
}

// memoryKeyring serves a fixed push-channel key mapping.
type memoryKeyring struct {
	// keys is the mapping to serve.
	keys map[string]string
	// err, when set, is returned instead.
	err error
}

// PushChannelKeys returns the fixed mapping.
func (m *memoryKeyring) PushChannelKeys(context.Context) (map[string]string, error) {
	return m.keys, m.err
}

// registration captures one Register call.
type registration struct {
	at      time.Time
	id      alarmclock.Identity
	payload alarmclock.Payload
}

// recordingScheduler records Register and Cancel calls in order.
type recordingScheduler struct {
	registered []registration
	cancelled  []alarmclock.Identity
}

// Register records the registration.
func (s *recordingScheduler) Register(at time.Time, id alarmclock.Identity, payload alarmclock.Payload) {
	s.registered = append(s.registered, registration{at: at, id: id, payload: payload})
}

// Cancel records the cancellation.
func (s *recordingScheduler) Cancel(id alarmclock.Identity) {
	s.cancelled = append(s.cancelled, id)
}

// plainRule is a decrypted recurrence rule used to build test notifications.
type plainRule struct {
	frequency domain.RepeatPeriod
	interval  int
	endType   domain.EndType
	endValue  int64
	timezone  string
}

// fixture holds the key hierarchy of one test: device key -> channel key ->
// session key, with the channel key registered in the keyring.
type fixture struct {
	t          *testing.T
	deviceKey  []byte
	channelKey []byte
	sessionKey []byte
	keyring    map[string]string
}

// testChannel is the push channel id every fixture registers.
const testChannel = "channel-1"

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t:          t,
		deviceKey:  randomKey(t),
		channelKey: randomKey(t),
		sessionKey: randomKey(t),
	}

	wrappedChannel, err := crypto.EncryptKey(f.deviceKey, f.channelKey)
	require.NoError(t, err)

	f.keyring = map[string]string{
		testChannel: base64.StdEncoding.EncodeToString(wrappedChannel),
	}

	return f
}

// encrypt encrypts a payload field under the session key.
func (f *fixture) encrypt(value string) string {
	f.t.Helper()

	encoded, err := crypto.EncryptString(f.sessionKey, value)
	require.NoError(f.t, err)

	return encoded
}

// encryptTime encrypts a timestamp as epoch milliseconds.
func (f *fixture) encryptTime(value time.Time) string {
	f.t.Helper()

	encoded, err := crypto.EncryptTime(f.sessionKey, value)
	require.NoError(f.t, err)

	return encoded
}

// sessionKeyCopy wraps the session key under the channel key.
func (f *fixture) sessionKeyCopy(channel string) domain.NotificationSessionKey {
	f.t.Helper()

	wrapped, err := crypto.EncryptKey(f.channelKey, f.sessionKey)
	require.NoError(f.t, err)

	return domain.NotificationSessionKey{
		PushChannelID:     channel,
		WrappedSessionKey: base64.StdEncoding.EncodeToString(wrapped),
	}
}

// create builds an encrypted create notification.
func (f *fixture) create(identifier, trigger string, eventStart time.Time, rule *plainRule) domain.AlarmNotification {
	f.t.Helper()

	notification := domain.AlarmNotification{
		Operation:   domain.OperationCreate,
		Identifier:  identifier,
		Trigger:     f.encrypt(trigger),
		Summary:     f.encrypt("Morning meeting"),
		EventStart:  f.encryptTime(eventStart),
		EventEnd:    f.encryptTime(eventStart.Add(time.Hour)),
		User:        f.encrypt("user-1"),
		SessionKeys: []domain.NotificationSessionKey{f.sessionKeyCopy(testChannel)},
	}

	if rule != nil {
		notification.RepeatRule = &domain.RepeatRule{
			Frequency: f.encrypt(strconv.Itoa(int(rule.frequency))),
			Interval:  f.encrypt(strconv.Itoa(rule.interval)),
			EndType:   f.encrypt(strconv.Itoa(int(rule.endType))),
			EndValue:  f.encrypt(strconv.FormatInt(rule.endValue, 10)),
			Timezone:  f.encrypt(rule.timezone),
		}
	}

	return notification
}

// deleteFor builds a delete notification the way the server sends it:
// placeholder payload fields and no key material.
func deleteFor(identifier string) domain.AlarmNotification {
	return domain.AlarmNotification{
		Operation:  domain.OperationDelete,
		Identifier: identifier,
	}
}

// newTestManager wires a manager with fakes, pinned time and UTC locality.
func (f *fixture) newTestManager(repo *memoryRepository, scheduler *recordingScheduler, now time.Time) *Manager {
	f.t.Helper()

	m := NewManager(repo, &memoryKeyring{keys: f.keyring}, &countingFacade{deviceKey: f.deviceKey}, scheduler)
	m.now = func() time.Time { return now }
	m.local = time.UTC

	return m
}

// TestApply_OneShotScenario covers the reference scenario: a create with a
// fifteen-minute trigger and an event one hour out yields exactly one
// registration at now+45m, occurrence 0, and nothing persisted.
func TestApply_OneShotScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	repo := new(memoryRepository)
	scheduler := new(recordingScheduler)
	m := f.newTestManager(repo, scheduler, now)

	batch := []domain.AlarmNotification{
		f.create("A1", "15M", now.Add(time.Hour), nil),
	}
	require.NoError(t, m.Apply(context.Background(), batch))

	require.Len(t, scheduler.registered, 1)
	require.Equal(t, alarmclock.Identity{Identifier: "A1", Occurrence: 0}, scheduler.registered[0].id)
	require.True(t, now.Add(45*time.Minute).Equal(scheduler.registered[0].at))
	require.Equal(t, "Morning meeting", scheduler.registered[0].payload.Summary)
	require.Equal(t, "user-1", scheduler.registered[0].payload.User)

	// One-shot alarms are never persisted.
	require.Len(t, repo.saves, 1)
	require.Empty(t, repo.saves[0])
}

// TestApply_PastDueOneShotIsSkipped verifies no registration happens for a
// reminder that is not strictly in the future.
func TestApply_PastDueOneShotIsSkipped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	repo := new(memoryRepository)
	scheduler := new(recordingScheduler)
	m := f.newTestManager(repo, scheduler, now)

	batch := []domain.AlarmNotification{
		// Reminder lands exactly on now: still skipped.
		f.create("A1", "1H", now.Add(time.Hour), nil),
		f.create("A2", "5M", now.Add(-time.Hour), nil),
	}
	require.NoError(t, m.Apply(context.Background(), batch))

	require.Empty(t, scheduler.registered)
	require.Len(t, repo.saves, 1)
}

// TestApply_RecurringRegistersAndPersists verifies registration count matches
// the expansion and that repeated creates stay idempotent in the persisted set.
func TestApply_RecurringRegistersAndPersists(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	repo := new(memoryRepository)
	scheduler := new(recordingScheduler)
	m := f.newTestManager(repo, scheduler, now)

	rule := &plainRule{
		frequency: domain.RepeatPeriodDaily,
		interval:  1,
		endType:   domain.EndTypeCount,
		endValue:  3,
		timezone:  "UTC",
	}
	create := f.create("A1", "30M", now.Add(time.Hour), rule)

	require.NoError(t, m.Apply(context.Background(), []domain.AlarmNotification{create}))

	require.Len(t, scheduler.registered, 3)
	for i, reg := range scheduler.registered {
		require.Equal(t, alarmclock.Identity{Identifier: "A1", Occurrence: i}, reg.id)
	}

	require.Len(t, repo.notifications, 1)
	require.Equal(t, "A1", repo.notifications[0].Identifier)

	// Applying the same create again re-registers but does not duplicate the entry.
	require.NoError(t, m.Apply(context.Background(), []domain.AlarmNotification{create}))

	require.Len(t, scheduler.registered, 6)
	require.Len(t, repo.notifications, 1)
}

// TestApply_AbortsBatchOnUnresolvedCreate covers the batch scenario: the first
// unresolved create stops processing, later deletes are never applied, and the
// partial working copy is still written back.
func TestApply_AbortsBatchOnUnresolvedCreate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	repo := new(memoryRepository)
	scheduler := new(recordingScheduler)
	m := f.newTestManager(repo, scheduler, now)

	rule := &plainRule{
		frequency: domain.RepeatPeriodDaily,
		interval:  1,
		endType:   domain.EndTypeCount,
		endValue:  2,
		timezone:  "UTC",
	}

	resolvable := f.create("A1", "10M", now.Add(time.Hour), rule)

	unresolvable := f.create("A2", "10M", now.Add(2*time.Hour), nil)
	unresolvable.SessionKeys = []domain.NotificationSessionKey{
		{PushChannelID: "someone-elses-channel", WrappedSessionKey: unresolvable.SessionKeys[0].WrappedSessionKey},
	}

	batch := []domain.AlarmNotification{resolvable, unresolvable, deleteFor("A3")}
	require.NoError(t, m.Apply(context.Background(), batch))

	// A1 made it through.
	require.Len(t, scheduler.registered, 2)
	require.Equal(t, "A1", scheduler.registered[0].id.Identifier)

	// Delete(A3) never ran.
	require.Empty(t, scheduler.cancelled)

	// The working copy with only the A1 change was still written back.
	require.Len(t, repo.saves, 1)
	require.Len(t, repo.saves[0], 1)
	require.Equal(t, "A1", repo.saves[0][0].Identifier)
}

// TestApply_DecryptFailureStopsCandidateIteration verifies that once a push
// channel key is found, a failing session-key decrypt aborts resolution for
// the whole notification instead of trying further candidates.
func TestApply_DecryptFailureStopsCandidateIteration(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	repo := new(memoryRepository)
	scheduler := new(recordingScheduler)
	m := f.newTestManager(repo, scheduler, now)

	notification := f.create("A1", "5M", now.Add(time.Hour), nil)
	good := notification.SessionKeys[0]
	notification.SessionKeys = []domain.NotificationSessionKey{
		// First candidate: known channel, corrupt wrapped session key.
		{PushChannelID: testChannel, WrappedSessionKey: base64.StdEncoding.EncodeToString([]byte("garbage"))},
		// Second candidate would decrypt fine but must never be reached.
		good,
	}

	require.NoError(t, m.Apply(context.Background(), []domain.AlarmNotification{notification}))

	require.Empty(t, scheduler.registered)
}

// TestApply_DeleteAbsentCancelsOccurrenceZero verifies cancellation of an
// alarm missing from the persisted set addresses exactly occurrence 0.
func TestApply_DeleteAbsentCancelsOccurrenceZero(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	repo := new(memoryRepository)
	scheduler := new(recordingScheduler)
	m := f.newTestManager(repo, scheduler, now)

	require.NoError(t, m.Apply(context.Background(), []domain.AlarmNotification{deleteFor("gone")}))

	require.Equal(t, []alarmclock.Identity{{Identifier: "gone", Occurrence: 0}}, scheduler.cancelled)
}

// TestApply_DeleteRecurringCancelsRecomputedIndices verifies cancellation of a
// persisted recurring alarm recomputes the occurrence indices from the current
// time, which skips already-elapsed indices.
func TestApply_DeleteRecurringCancelsRecomputedIndices(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	start := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)

	rule := &plainRule{
		frequency: domain.RepeatPeriodDaily,
		interval:  1,
		endType:   domain.EndTypeCount,
		endValue:  5,
		timezone:  "UTC",
	}
	persisted := f.create("A1", "5M", start, rule)

	repo := &memoryRepository{notifications: []domain.AlarmNotification{persisted}}
	scheduler := new(recordingScheduler)

	// Two occurrences have elapsed by the time the delete arrives.
	now := start.AddDate(0, 0, 1).Add(time.Hour)
	m := f.newTestManager(repo, scheduler, now)

	require.NoError(t, m.Apply(context.Background(), []domain.AlarmNotification{deleteFor("A1")}))

	require.Equal(t, []alarmclock.Identity{
		{Identifier: "A1", Occurrence: 2},
		{Identifier: "A1", Occurrence: 3},
		{Identifier: "A1", Occurrence: 4},
	}, scheduler.cancelled)

	// The entry is gone from the persisted set.
	require.Len(t, repo.saves, 1)
	require.Empty(t, repo.saves[0])
}

// TestReArm_SchedulesResolvableAndKeepsSet verifies restart recovery: alarms
// with resolvable keys are re-registered, unresolvable ones are skipped but
// stay persisted, and the store is never written.
func TestReArm_SchedulesResolvableAndKeepsSet(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	rule := &plainRule{
		frequency: domain.RepeatPeriodWeekly,
		interval:  1,
		endType:   domain.EndTypeCount,
		endValue:  2,
		timezone:  "UTC",
	}
	resolvable := f.create("A1", "1H", now.Add(2*time.Hour), rule)

	orphaned := f.create("A2", "1H", now.Add(3*time.Hour), rule)
	orphaned.SessionKeys = []domain.NotificationSessionKey{
		{PushChannelID: "rotated-away", WrappedSessionKey: orphaned.SessionKeys[0].WrappedSessionKey},
	}

	repo := &memoryRepository{notifications: []domain.AlarmNotification{resolvable, orphaned}}
	scheduler := new(recordingScheduler)
	m := f.newTestManager(repo, scheduler, now)

	require.NoError(t, m.ReArm(context.Background()))

	require.Len(t, scheduler.registered, 2)
	for _, reg := range scheduler.registered {
		require.Equal(t, "A1", reg.id.Identifier)
	}

	// ReArm never mutates the persisted set.
	require.Empty(t, repo.saves)
	require.Len(t, repo.notifications, 2)
}

// TestApply_KeyringFailureAbortsPass verifies a pass cannot start without the
// push-channel key mapping.
func TestApply_KeyringFailureAbortsPass(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	repo := new(memoryRepository)

	m := NewManager(repo, &memoryKeyring{err: errTestKeyring}, &countingFacade{deviceKey: f.deviceKey}, new(recordingScheduler))

	require.ErrorIs(t, m.Apply(context.Background(), nil), errTestKeyring)
	require.ErrorIs(t, m.ReArm(context.Background()), errTestKeyring)
	require.Empty(t, repo.saves)
}

// TestApply_SharedChannelUnwrapsOnce verifies the per-pass cache spans all
// notifications of one batch.
func TestApply_SharedChannelUnwrapsOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	now := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	repo := new(memoryRepository)
	scheduler := new(recordingScheduler)

	facade := &countingFacade{deviceKey: f.deviceKey}
	m := NewManager(repo, &memoryKeyring{keys: f.keyring}, facade, scheduler)
	m.now = func() time.Time { return now }
	m.local = time.UTC

	batch := []domain.AlarmNotification{
		f.create("A1", "5M", now.Add(time.Hour), nil),
		f.create("A2", "5M", now.Add(2*time.Hour), nil),
		f.create("A3", "5M", now.Add(3*time.Hour), nil),
	}
	require.NoError(t, m.Apply(context.Background(), batch))

	require.Len(t, scheduler.registered, 3)
	require.Equal(t, 1, facade.calls)
}
