package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	p, hash, err := LoadWithHash(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
	assert.Equal(t, Hash(nil), hash)
	assert.True(t, strings.HasPrefix(hash, "sha256:"))
}

func TestLoadOverlaysNamespaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	data := `namespaces:
  System:
    access: neutral
    types:
      Console:
        members:
          WriteLine: {}
  Demo.Lib:
    access: allowed
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	p, hash, err := LoadWithHash(path)
	require.NoError(t, err)
	assert.Equal(t, Hash([]byte(data)), hash)

	assert.True(t, p.Filter("System", "Console", TypeExternal, "WriteLine").Allowed())
	assert.False(t, p.Filter("System", "Math", TypeExternal, "Max").Allowed(), "System rule replaced")
	assert.True(t, p.Filter("Demo.Lib", "Anything", TypeExternal, "Run").Allowed())
	assert.True(t, p.Filter("System.Linq", "Enumerable", TypeExternal, "Range").Allowed(), "other defaults kept")
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("namespaces: [oops"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadUnknownRewriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	data := `namespaces:
  Demo:
    types:
      T:
        members:
          M: {rewriters: [teleport]}
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "teleport")
}

func TestDefaultYAMLRoundTrips(t *testing.T) {
	data, err := DefaultYAML()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# sandguard API policy"))

	p, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
}

func TestMemberAccessInYAML(t *testing.T) {
	data := `namespaces:
  Demo:
    types:
      T:
        access: allowed
        members:
          Secret: {access: denied}
`
	p, err := Parse([]byte(data))
	require.NoError(t, err)
	assert.True(t, p.Filter("Demo", "T", TypeExternal, "Public").Allowed())
	assert.Equal(t, ResultDeniedMember, p.Filter("Demo", "T", TypeExternal, "Secret").Kind)
}
