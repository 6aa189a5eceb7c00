package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager(t *testing.T) {
	t.Run("default timeout", func(t *testing.T) {
		sm := NewShutdownManager(nil, nil, 0)
		assert.Equal(t, 30*time.Second, sm.shutdownTimeout)
		assert.NotNil(t, sm.logger)
	})

	t.Run("custom timeout", func(t *testing.T) {
		sm := NewShutdownManager(nil, nil, time.Second)
		assert.Equal(t, time.Second, sm.shutdownTimeout)
	})
}

func TestRegisterShutdownFunc(t *testing.T) {
	sm := NewShutdownManager(nil, nil, time.Second)

	sm.RegisterShutdownFunc(func(context.Context) error { return nil })
	sm.RegisterShutdownFunc(nil)

	assert.Len(t, sm.shutdownFuncs, 1)
}

func TestShutdown_RunsAllFunctions(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sm := NewShutdownManager(logger, nil, time.Second)

	var calls int32
	for i := 0; i < 3; i++ {
		sm.RegisterShutdownFunc(func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, "Graceful shutdown complete", hook.LastEntry().Message)
}

func TestShutdown_CollectsErrors(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, nil, time.Second)

	sm.RegisterShutdownFunc(func(context.Context) error { return nil })
	sm.RegisterShutdownFunc(func(context.Context) error { return errors.New("close failed") })
	sm.RegisterShutdownFunc(func(context.Context) error { return errors.New("flush failed") })

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors")
}

func TestShutdown_Timeout(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, nil, 50*time.Millisecond)

	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestShutdown_StopsServer(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &http.Server{Handler: http.NotFoundHandler()}
	served := make(chan error, 1)
	go func() { served <- server.Serve(listener) }()

	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, server, time.Second)

	require.NoError(t, sm.Shutdown())
	assert.ErrorIs(t, <-served, http.ErrServerClosed)
}

func TestWaitForShutdown_ContextDone(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sm := NewShutdownManager(logger, nil, time.Second)

	var called int32
	sm.RegisterShutdownFunc(func(context.Context) error {
		atomic.StoreInt32(&called, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.WaitForShutdown(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&called))
}
