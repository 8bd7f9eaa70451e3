package recipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecipeFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "recipes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAndByName(t *testing.T) {
	path := writeRecipeFile(t, `
recipes:
  - name: web
    group: autostart
    command: ["sh", "-c", "serve"]
  - name: worker
    group: autostart
    command: ["sh", "-c", "work"]
`)
	f, err := Load(path)
	require.NoError(t, err)

	r, ok := f.ByName("web")
	require.True(t, ok)
	assert.Equal(t, []string{"sh", "-c", "serve"}, r.CommandLine)

	_, ok = f.ByName("nope")
	assert.False(t, ok)
}

func TestByGroupReturnsAllTaggedRecipes(t *testing.T) {
	path := writeRecipeFile(t, `
recipes:
  - name: web
    group: autostart
    command: ["echo", "web"]
  - name: worker
    group: autostart
    command: ["echo", "worker"]
  - name: other
    group: misc
    command: ["echo", "other"]
`)
	f, err := Load(path)
	require.NoError(t, err)

	got := f.ByGroup("autostart")
	require.Len(t, got, 2)
}

func TestLoadFailsOnMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/recipes.yaml")
	require.Error(t, err)
}

func TestEmptyEnumeratorAlwaysMisses(t *testing.T) {
	var e Empty
	_, ok := e.ByName("anything")
	assert.False(t, ok)
	assert.Nil(t, e.ByGroup("anything"))
}
