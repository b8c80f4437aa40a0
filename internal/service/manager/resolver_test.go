package manager

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rdvincent/tutanota/internal/crypto"
)

var errTestUnwrap = errors.New("test unwrap error")

// countingFacade unwraps with a fixed device key and counts invocations.
type countingFacade struct {
	// deviceKey protects the wrapped channel keys.
	deviceKey []byte
	// calls counts Unwrap invocations.
	calls int
	// err, when set, is returned from every Unwrap call.
	err error
}

// Unwrap decrypts the wrapped key with the device key, tracking call counts.
func (f *countingFacade) Unwrap(wrapped []byte) ([]byte, error) {
	f.calls++

	if f.err != nil {
		return nil, f.err
	}

	return crypto.DecryptKey(f.deviceKey, wrapped)
}

// randomKey generates one raw symmetric key.
func randomKey(t *testing.T) []byte {
	t.Helper()

	key := make([]byte, crypto.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	return key
}

// TestPushKeyResolver_MemoizesUnwrap verifies the second resolution of the same
// channel is served from the per-pass cache.
func TestPushKeyResolver_MemoizesUnwrap(t *testing.T) {
	t.Parallel()

	deviceKey := randomKey(t)
	channelKey := randomKey(t)

	wrapped, err := crypto.EncryptKey(deviceKey, channelKey)
	require.NoError(t, err)

	facade := &countingFacade{deviceKey: deviceKey}
	resolver := NewPushKeyResolver(facade, map[string]string{
		"channel-1": base64.StdEncoding.EncodeToString(wrapped),
	})

	first, err := resolver.Resolve("channel-1")
	require.NoError(t, err)
	require.Equal(t, channelKey, first)

	second, err := resolver.Resolve("channel-1")
	require.NoError(t, err)
	require.Equal(t, channelKey, second)

	require.Equal(t, 1, facade.calls)
}

// TestPushKeyResolver_UnknownChannel verifies an unrecognized channel is "not
// found", not an error, and never reaches the facade.
func TestPushKeyResolver_UnknownChannel(t *testing.T) {
	t.Parallel()

	facade := &countingFacade{deviceKey: randomKey(t)}
	resolver := NewPushKeyResolver(facade, map[string]string{})

	key, err := resolver.Resolve("elsewhere")
	require.NoError(t, err)
	require.Nil(t, key)
	require.Zero(t, facade.calls)
}

// TestPushKeyResolver_UnwrapFailure verifies facade errors surface as ErrKeyResolution.
func TestPushKeyResolver_UnwrapFailure(t *testing.T) {
	t.Parallel()

	facade := &countingFacade{deviceKey: randomKey(t), err: errTestUnwrap}
	resolver := NewPushKeyResolver(facade, map[string]string{
		"channel-1": base64.StdEncoding.EncodeToString([]byte("wrapped")),
	})

	_, err := resolver.Resolve("channel-1")
	require.ErrorIs(t, err, ErrKeyResolution)

	// Undecodable wrapped key is also a resolution failure.
	resolver = NewPushKeyResolver(facade, map[string]string{
		"channel-2": "!!not base64!!",
	})

	_, err = resolver.Resolve("channel-2")
	require.ErrorIs(t, err, ErrKeyResolution)
}
