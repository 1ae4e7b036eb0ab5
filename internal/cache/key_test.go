package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyJoinsComponents(t *testing.T) {
	require.Equal(t, "playlist:alice:p1:tracks", Key("playlist", "alice", "p1", "tracks"))
	require.True(t, strings.HasPrefix(Key("playlist", "alice", "p1", "tracks"), Key("playlist", "alice", "p1")))
}

func TestDescriptorKeyDeterministic(t *testing.T) {
	a := Descriptor{
		Operation: "playlists.list",
		User:      "alice",
		Params:    map[string]string{"limit": "50", "offset": "0"},
	}
	b := Descriptor{
		Operation: "playlists.list",
		User:      "alice",
		Params:    map[string]string{"offset": "0", "limit": "50"},
	}
	require.Equal(t, a.Key(), b.Key(), "identical logical parameters must hash identically")
}

func TestDescriptorKeySensitivity(t *testing.T) {
	base := Descriptor{Operation: "playlists.list", User: "alice", Params: map[string]string{"limit": "50"}}

	otherUser := base
	otherUser.User = "bob"
	require.NotEqual(t, base.Key(), otherUser.Key())

	otherParams := Descriptor{Operation: "playlists.list", User: "alice", Params: map[string]string{"limit": "20"}}
	require.NotEqual(t, base.Key(), otherParams.Key())

	otherOp := base
	otherOp.Operation = "playlists.search"
	require.NotEqual(t, base.Key(), otherOp.Key())
}

func TestDescriptorKeyShape(t *testing.T) {
	d := Descriptor{Operation: "playlists.list", User: "alice"}
	parts := strings.Split(d.Key(), ":")
	require.Len(t, parts, 3)
	require.Equal(t, "playlists.list", parts[0])
	require.Equal(t, "alice", parts[1])
	require.Len(t, parts[2], 16)
}
