package cli

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goflags "github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/insight/pkg/storage"
	redisstore "github.com/platinummonkey/insight/pkg/storage/redis"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// newTestParser returns a parser whose commands write to the returned buffer
// and log nowhere. The config comes from defaults only.
func newTestParser(t *testing.T) (*goflags.Parser, *commands, *bytes.Buffer) {
	t.Helper()
	t.Setenv("INSIGHT_CONFIG_FILE", "")
	t.Setenv("INSIGHT_POSTGRES_URL", "")

	parser, _, cmds := buildParser("test")
	var out bytes.Buffer
	cmds.deps.stdout = &out
	cmds.deps.logs = io.Discard
	return parser, cmds, &out
}

// newCounterStore starts miniredis and connects a counter store to it.
func newCounterStore(t *testing.T) (*redisstore.CounterStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	config := storage.DefaultConfig()
	config.RedisURL = "redis://" + mr.Addr()

	store, err := redisstore.NewCounterStore(config, nil)
	require.NoError(t, err)
	require.True(t, store.Available())
	t.Cleanup(func() { store.Close() })

	return store, mr
}
