package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_Resolve(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	tests := []struct {
		locale string
		want   string
	}{
		{locale: "en-US", want: "en"},
		{locale: "en-GB", want: "en"},
		{locale: "de-DE", want: "de"},
		{locale: "fr-FR", want: "fr"},
		{locale: "fr-CA", want: "fr"},
		{locale: "it-IT", want: "it"},
		{locale: "es-MX", want: "es"},
		{locale: "ja-JP", want: "ja"},
		{locale: "", want: "en"},
		{locale: "not a locale", want: "en"},
	}

	for _, tt := range tests {
		t.Run(tt.locale, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Resolve(tt.locale).String())
		})
	}
}

func TestCatalog_Get(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	got := c.Get("en-US", KeyAskToPlay, map[string]string{"title": "Lofi Beats"})
	assert.Equal(t, "I found a video called Lofi Beats. Would you like me to play it?", got)

	got = c.Get("de-DE", KeyAskToPlay, map[string]string{"title": "Lofi Beats"})
	assert.Contains(t, got, "Lofi Beats")
	assert.Contains(t, got, "Video")

	assert.Equal(t, "There is nothing to resume.", c.Get("en-GB", KeyNothingToResume, nil))
	assert.Equal(t, "unknown_key", c.Get("en-US", "unknown_key", nil), "unknown keys fall back to the key")
}

func TestCatalog_AllLocalesHaveAllKeys(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	english := c.tables[fallbackLanguage]
	require.NotEmpty(t, english)

	for tag, table := range c.tables {
		for key := range english {
			assert.Contains(t, table, key, "locale %s is missing %s", tag, key)
		}
	}
}

func TestCatalog_Overrides(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "messages.yaml")
	content := `
en:
  welcome: "Hello there."
de:
  loop_off: "Schleife aus."
`
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))

	c, err := New(p)
	require.NoError(t, err)

	assert.Equal(t, "Hello there.", c.Get("en-US", KeyWelcome, nil))
	assert.Equal(t, "Schleife aus.", c.Get("de-DE", KeyLoopOff, nil))
	// Untouched keys keep their embedded value
	assert.Equal(t, "There is nothing to resume.", c.Get("en-US", KeyNothingToResume, nil))
}

func TestCatalog_OverrideErrors(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	p := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(p, []byte("en: [not, a, map]"), 0o644))
	_, err = New(p)
	assert.Error(t, err)
}
