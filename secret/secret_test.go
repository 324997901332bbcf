package secret

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorci/conveyor/common/gerror"
)

func TestStore(t *testing.T) {
	store := NewStore()
	store.Add(&Secret{Name: "INDEX_TOKEN", Value: "pypi-abc123"})
	store.Add(&Secret{Name: "API_KEY", Value: "k1"})

	secret, err := store.Get("INDEX_TOKEN")
	require.NoError(t, err)
	require.Equal(t, "pypi-abc123", secret.Value)

	_, err = store.Get("GHOST")
	require.Error(t, err)
	require.True(t, gerror.IsSecretNotFound(err))

	// Adding again replaces the value
	store.Add(&Secret{Name: "API_KEY", Value: "k2"})
	secret, err = store.Get("API_KEY")
	require.NoError(t, err)
	require.Equal(t, "k2", secret.Value)

	all := store.GetAll()
	require.Len(t, all, 2)
	require.Equal(t, "API_KEY", all[0].Name)
	require.Equal(t, "INDEX_TOKEN", all[1].Name)
}

func TestNewStoreFromEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"INDEX_TOKEN", "pypi-abc123")
	t.Setenv("UNRELATED", "nope")

	store := NewStoreFromEnv()
	secret, err := store.Get("INDEX_TOKEN")
	require.NoError(t, err)
	require.Equal(t, "pypi-abc123", secret.Value)

	_, err = store.Get("UNRELATED")
	require.Error(t, err)
}

func TestScrubber(t *testing.T) {
	secrets := []*Secret{
		{Name: "TOKEN", Value: "pypi-abc123"},
		{Name: "SHORT", Value: "k1"},
	}

	var out bytes.Buffer
	scrubber := NewScrubber(&out, secrets)
	_, err := scrubber.Write([]byte("uploading with token pypi-abc123 and key k1\n"))
	require.NoError(t, err)
	require.NoError(t, scrubber.Flush())
	assert.Equal(t, "uploading with token *********** and key **\n", out.String())
}

func TestScrubberSecretSplitAcrossWrites(t *testing.T) {
	secrets := []*Secret{{Name: "TOKEN", Value: "pypi-abc123"}}

	var out bytes.Buffer
	scrubber := NewScrubber(&out, secrets)
	_, err := scrubber.Write([]byte("token is pypi-a"))
	require.NoError(t, err)
	_, err = scrubber.Write([]byte("bc123 end"))
	require.NoError(t, err)
	require.NoError(t, scrubber.Flush())
	assert.Equal(t, "token is *********** end", out.String())
}

func TestScrubberNoSecrets(t *testing.T) {
	var out bytes.Buffer
	scrubber := NewScrubber(&out, nil)
	_, err := scrubber.Write([]byte("plain output"))
	require.NoError(t, err)
	require.NoError(t, scrubber.Flush())
	assert.Equal(t, "plain output", out.String())
}
