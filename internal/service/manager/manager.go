package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rdvincent/tutanota/internal/alarmclock"
	domain "github.com/rdvincent/tutanota/internal/domain/alarm"
	"github.com/rdvincent/tutanota/internal/keystore"
	"github.com/rdvincent/tutanota/internal/logger"
	"github.com/rdvincent/tutanota/internal/repository/alarms"
	"github.com/rdvincent/tutanota/internal/repository/keyring"
)

// Manager is the reconciliation orchestrator. It owns the persisted
// recurring-alarm set and is the only writer of it.
type Manager struct {
	// repo persists the recurring-alarm set.
	repo alarms.Repository
	// keyring supplies the push-channel wrapped key mapping per pass.
	keyring keyring.Source
	// facade unwraps push channel keys.
	facade keystore.Facade
	// clock is the host alarm service registrations go to.
	clock alarmclock.Scheduler
	// now is the time source; a field so tests can pin it.
	now func() time.Time
	// local is the location registrations are computed in.
	local *time.Location
	// mu serializes reconciliation passes. The persisted set is
	// read-modify-written as a whole, so at most one pass may run at a time.
	mu sync.Mutex
}

// NewManager wires the orchestrator with its collaborators.
func NewManager(
	repo alarms.Repository,
	keys keyring.Source,
	facade keystore.Facade,
	clock alarmclock.Scheduler,
) *Manager {
	return &Manager{
		repo:    repo,
		keyring: keys,
		facade:  facade,
		clock:   clock,
		now:     time.Now,
		local:   time.Local,
	}
}

// ReArm re-registers every persisted recurring alarm with the host alarm
// service. Alarms whose session key cannot currently be resolved are skipped
// and stay persisted for a later attempt. The persisted set is never written.
func (m *Manager) ReArm(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx = logger.WithKV(ctx, "pass_id", uuid.NewString())

	resolver, err := m.newResolver(ctx)
	if err != nil {
		logger.Warnf(ctx, "Could not load push channel keys: %v", err)

		return fmt.Errorf("load push channel keys: %w", err)
	}

	saved := m.loadSaved(ctx)
	for i := range saved {
		notification := &saved[i]

		sessionKey := m.resolveSessionKey(ctx, notification, resolver)
		if sessionKey == nil {
			logger.WarnKV(ctx, "Skipping alarm without resolvable session key",
				"identifier", notification.Identifier)

			continue
		}

		m.schedule(ctx, notification, sessionKey)
	}

	return nil
}

// Apply reconciles one batch of server-delivered notifications against the
// host alarm service and the persisted recurring-alarm set. The first create
// whose session key does not resolve aborts the remainder of the batch; the
// working copy accumulated so far is still written back.
func (m *Manager) Apply(ctx context.Context, batch []domain.AlarmNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx = logger.WithKV(ctx, "pass_id", uuid.NewString())

	resolver, err := m.newResolver(ctx)
	if err != nil {
		return fmt.Errorf("load push channel keys: %w", err)
	}

	saved := m.loadSaved(ctx)

loop:
	for i := range batch {
		notification := &batch[i]

		switch notification.Operation {
		case domain.OperationCreate:
			sessionKey := m.resolveSessionKey(ctx, notification, resolver)
			if sessionKey == nil {
				logger.WarnKV(ctx, "Could not resolve session key, dropping the rest of the batch",
					"identifier", notification.Identifier)

				break loop
			}

			m.schedule(ctx, notification, sessionKey)

			if notification.IsRecurring() && indexByIdentifier(saved, notification.Identifier) < 0 {
				saved = append(saved, *notification)
			}
		case domain.OperationDelete:
			m.cancel(ctx, notification, resolver)

			if idx := indexByIdentifier(saved, notification.Identifier); idx >= 0 {
				saved = append(saved[:idx], saved[idx+1:]...)
			}
		}
	}

	if err := m.repo.Save(ctx, saved); err != nil {
		return fmt.Errorf("persist recurring alarms: %w", err)
	}

	return nil
}

// newResolver loads the current push-channel key mapping and builds the
// per-pass resolver over it.
func (m *Manager) newResolver(ctx context.Context) (*PushKeyResolver, error) {
	keys, err := m.keyring.PushChannelKeys(ctx)
	if err != nil {
		return nil, err
	}

	return NewPushKeyResolver(m.facade, keys), nil
}

// loadSaved reads the persisted recurring-alarm set, degrading to an empty
// set when the repository cannot deliver one.
func (m *Manager) loadSaved(ctx context.Context) []domain.AlarmNotification {
	saved, err := m.repo.Load(ctx)
	if err != nil {
		logger.Warnf(ctx, "Could not read saved alarms, starting from an empty set: %v", err)

		return nil
	}

	return saved
}

// resolveSessionKey finds the first locally known push channel among the
// notification's session key copies and uses it to decrypt the session key.
// A nil result means the notification cannot be decrypted right now: either
// no candidate channel is known here, or unwrap/decrypt failed (logged).
func (m *Manager) resolveSessionKey(
	ctx context.Context,
	notification *domain.AlarmNotification,
	resolver *PushKeyResolver,
) []byte {
	for _, candidate := range notification.SessionKeys {
		channelKey, err := resolver.Resolve(candidate.PushChannelID)
		if err != nil {
			logger.Warnf(ctx, "Could not resolve push channel key: %v", err)

			return nil
		}

		if channelKey == nil {
			// Addressed to another device; try the next copy.
			continue
		}

		sessionKey, err := decryptSessionKey(channelKey, candidate.WrappedSessionKey)
		if err != nil {
			logger.WarnKV(ctx, "Could not decrypt session key",
				"identifier", notification.Identifier, "error", err)

			return nil
		}

		return sessionKey
	}

	return nil
}

// indexByIdentifier returns the position of the notification with the given
// identifier, or -1. Membership in the persisted set is keyed by identifier
// alone.
func indexByIdentifier(notifications []domain.AlarmNotification, identifier string) int {
	for i := range notifications {
		if notifications[i].Identifier == identifier {
			return i
		}
	}

	return -1
}
