package manager

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/rdvincent/tutanota/internal/keystore"
)

// ErrKeyResolution marks unwrap failures during session-key resolution.
// It is a soft failure: the affected alarm (or the remainder of a create
// batch) is skipped, never the whole process.
var ErrKeyResolution = errors.New("key resolution failed")

// PushKeyResolver memoizes unwrapped push-channel keys for one reconciliation
// pass. It is constructed at the start of a pass and discarded with it; raw
// keys never outlive the pass they were resolved in.
type PushKeyResolver struct {
	// facade unwraps keys protected by the device key store.
	facade keystore.Facade
	// wrapped maps push channel ids to their base64 wrapped keys, loaded once
	// at construction.
	wrapped map[string]string
	// resolved caches raw keys already unwrapped during this pass.
	resolved map[string][]byte
}

// NewPushKeyResolver creates a resolver over the provided wrapped-key mapping.
func NewPushKeyResolver(facade keystore.Facade, wrapped map[string]string) *PushKeyResolver {
	return &PushKeyResolver{
		facade:   facade,
		wrapped:  wrapped,
		resolved: make(map[string][]byte),
	}
}

// Resolve returns the raw key for the push channel. A channel that is not
// known locally yields (nil, nil): the notification was addressed to another
// device and trying the next candidate is the right move. Unwrap failures are
// reported as ErrKeyResolution.
func (r *PushKeyResolver) Resolve(pushChannelID string) ([]byte, error) {
	if key, ok := r.resolved[pushChannelID]; ok {
		return key, nil
	}

	encoded, ok := r.wrapped[pushChannelID]
	if !ok {
		return nil, nil
	}

	wrapped, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode wrapped key for channel %q: %v", ErrKeyResolution, pushChannelID, err)
	}

	key, err := r.facade.Unwrap(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap key for channel %q: %v", ErrKeyResolution, pushChannelID, err)
	}

	r.resolved[pushChannelID] = key

	return key, nil
}
