package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	var reloads atomic.Int32
	var lastRoutes atomic.Int32
	w, err := NewWatcher(path, func(cfg *GatewayConfig) error {
		reloads.Add(1)
		lastRoutes.Store(int32(len(cfg.Spec.Routes)))
		return nil
	}, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	updated := strings.Replace(sampleYAML, "name: orders\n      upstream", "name: orders-v2\n      upstream", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		cfg := w.LastConfig()
		return cfg != nil && cfg.Spec.Routes[0].Name == "orders-v2"
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, reloads.Load(), int32(1))
	assert.Equal(t, int32(1), lastRoutes.Load())
}

func TestWatcher_RejectedReloadKeepsLastConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	var errs atomic.Int32
	w, err := NewWatcher(path, func(*GatewayConfig) error { return nil },
		WithErrorCallback(func(error) { errs.Add(1) }))
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	require.NoError(t, w.Reload())
	first := w.LastConfig()
	require.NotNil(t, first)

	require.NoError(t, os.WriteFile(path, []byte("kind: [broken"), 0o600))
	assert.Error(t, w.Reload())
	assert.Equal(t, int32(1), errs.Load())
	assert.Same(t, first, w.LastConfig())
}
