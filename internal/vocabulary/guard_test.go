package vocabulary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardIsProtected(t *testing.T) {
	g := NewGuard()

	tests := []struct {
		name      string
		candidate string
		want      bool
	}{
		{"member", "고속도로", true},
		{"member with spaces", "  민원  ", true},
		{"place name", "기흥", true},
		{"suffix 하는", "운영하는", true},
		{"suffix 위한", "안전을위한", true},
		{"plain name", "김철수", false},
		{"two syllable name", "홍길", false},
		{"empty", "", false},
		{"blank", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.IsProtected(tt.candidate))
		})
	}
}

func TestGuardContainsIgnoresSuffixes(t *testing.T) {
	g := NewGuard()
	assert.True(t, g.Contains("요금"))
	assert.False(t, g.Contains("운영하는"))
}

func TestGuardExtraTerms(t *testing.T) {
	g := NewGuard("판교", "  ", "")
	assert.True(t, g.IsProtected("판교"))
	assert.Equal(t, len(defaultTerms)+1, g.Len())
}

func TestNewGuardFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "terms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("protected_terms:\n  - 판교\n  - 동탄\n"), 0o600))

	g, err := NewGuardFromFile(path)
	require.NoError(t, err)
	assert.True(t, g.IsProtected("판교"))
	assert.True(t, g.IsProtected("동탄"))
	assert.True(t, g.IsProtected("고속도로"))

	_, err = NewGuardFromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	g, err = NewGuardFromFile("")
	require.NoError(t, err)
	assert.False(t, g.IsProtected("판교"))
}
