package constitution

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const oneRule = `rules:
  max-services:
    category: architecture-limit
    metric: service_count
    operator: "<="
    threshold: 3
`

func TestWatcher_ReloadKeepsLastGood(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.yaml", oneRule)

	w, err := NewWatcher([]string{path}, 10*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, w.Current().Len())

	var reloads int
	w.OnReload = func(_ *RuleSet, _ error) { reloads++ }

	require.NoError(t, os.WriteFile(path, []byte("rules: [broken"), 0644))
	assert.Error(t, w.Reload())
	assert.Equal(t, 1, w.Current().Len())

	require.NoError(t, os.WriteFile(path, []byte(yamlRules), 0644))
	require.NoError(t, w.Reload())
	assert.Equal(t, 2, w.Current().Len())
	assert.Equal(t, 2, reloads)
}

func TestWatcher_InitialLoadMustSucceed(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.yaml", "rules: [broken")

	_, err := NewWatcher([]string{path}, 0, nil)
	assert.Error(t, err)
}

func TestWatcher_RunPicksUpWrites(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.yaml", oneRule)

	w, err := NewWatcher([]string{path}, 10*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.NoError(t, os.WriteFile(path, []byte(yamlRules), 0644))

	assert.Eventually(t, func() bool {
		return w.Current().Len() == 2
	}, 5*time.Second, 20*time.Millisecond)
}
