package codecore_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecbridge/webcodecs/internal/backend"
	"github.com/codecbridge/webcodecs/internal/codecerr"
	"github.com/codecbridge/webcodecs/internal/codecore"
)

// fakeBackend is a minimal backend.Backend that echoes every submitted input
// back as one output, for exercising the core's queueing and dispatch logic
// without a real Codec Backend process.
type fakeBackend struct {
	mu          sync.Mutex
	configureFn func(config any) error
	submitted   []any
	outputs     []backend.Output
	saturated   bool
	closed      bool
}

func (b *fakeBackend) Configure(_ context.Context, config any) error {
	if b.configureFn != nil {
		return b.configureFn(config)
	}
	return nil
}

func (b *fakeBackend) SubmitInput(_ context.Context, input any, _ any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, input)
	b.outputs = append(b.outputs, backend.Output{Data: []byte("out")})
	return nil
}

func (b *fakeBackend) PollOutput(_ context.Context) (*backend.Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.outputs) == 0 {
		return nil, nil
	}
	out := b.outputs[0]
	b.outputs = b.outputs[1:]
	return &out, nil
}

func (b *fakeBackend) WouldSaturate(_ int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saturated
}

func (b *fakeBackend) SignalEOF(_ context.Context) error { return nil }
func (b *fakeBackend) Reset(_ context.Context) error     { return nil }
func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// fakeCapabilities is a trivial Capabilities bundle: Accept passes inputs
// through unchanged, DeriveOutput unwraps the output's raw bytes.
type fakeCapabilities struct {
	fatalKind codecerr.Kind
	factory   func() (backend.Backend, error)
}

func (c *fakeCapabilities) Kind() string                   { return "fake" }
func (c *fakeCapabilities) FatalErrorKind() codecerr.Kind   { return c.fatalKind }
func (c *fakeCapabilities) ValidateConfig(config any) error { return nil }
func (c *fakeCapabilities) Accept(_ string, _ *codecore.ActiveState, input any, _ any) (any, error) {
	return input, nil
}
func (c *fakeCapabilities) NewBackend(_ *slog.Logger, _ any) (backend.Backend, error) {
	return c.factory()
}
func (c *fakeCapabilities) DeriveOutput(_ *codecore.ActiveState, out backend.Output) (any, any) {
	return string(out.Data), nil
}

func newTestInstance(t *testing.T, be *fakeBackend) (*codecore.Instance, *[]error) {
	t.Helper()
	var mu sync.Mutex
	var errs []error

	caps := &fakeCapabilities{
		fatalKind: codecerr.KindEncoding,
		factory:   func() (backend.Backend, error) { return be, nil },
	}
	inst, err := codecore.New(codecore.Options{
		ID:           "test-instance",
		Capabilities: caps,
		OnOutput:     func(_ any, _ any) {},
		OnError: func(e *codecerr.CodecError) {
			mu.Lock()
			errs = append(errs, e)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close() })
	return inst, &errs
}

func TestInstanceStartsUnconfigured(t *testing.T) {
	inst, _ := newTestInstance(t, &fakeBackend{})
	assert.Equal(t, codecore.StateUnconfigured, inst.State())
}

func TestSubmitInputBeforeConfigureFails(t *testing.T) {
	inst, _ := newTestInstance(t, &fakeBackend{})

	err := inst.SubmitInput("frame", nil)
	require.Error(t, err)
	assert.True(t, codecerr.IsKind(err, codecerr.KindInvalidState))
}

func TestConfigureTransitionsToConfigured(t *testing.T) {
	inst, _ := newTestInstance(t, &fakeBackend{})

	require.NoError(t, inst.Configure("cfg"))
	assert.Equal(t, codecore.StateConfigured, inst.State())
}

func TestConfigureOnClosedInstanceFails(t *testing.T) {
	inst, _ := newTestInstance(t, &fakeBackend{})
	require.NoError(t, inst.Close())

	err := inst.Configure("cfg")
	require.Error(t, err)
	assert.True(t, codecerr.IsKind(err, codecerr.KindInvalidState))
}

func TestEncodeEmitsOutput(t *testing.T) {
	be := &fakeBackend{}
	var mu sync.Mutex
	var outputs []string

	caps := &fakeCapabilities{
		fatalKind: codecerr.KindEncoding,
		factory:   func() (backend.Backend, error) { return be, nil },
	}
	inst, err := codecore.New(codecore.Options{
		ID:           "encode-instance",
		Capabilities: caps,
		OnOutput: func(output any, _ any) {
			mu.Lock()
			outputs = append(outputs, output.(string))
			mu.Unlock()
		},
		OnError: func(*codecerr.CodecError) {},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close() })

	require.NoError(t, inst.Configure("cfg"))
	require.NoError(t, inst.SubmitInput("frame-1", nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(outputs) == 1 && outputs[0] == "out"
	}, time.Second, 5*time.Millisecond)
}

func TestFlushBeforeConfigureFails(t *testing.T) {
	inst, _ := newTestInstance(t, &fakeBackend{})

	waiter, err := inst.Flush()
	require.Error(t, err)
	assert.Nil(t, waiter)
	assert.True(t, codecerr.IsKind(err, codecerr.KindInvalidState))
}

func TestFlushResolvesAfterDrain(t *testing.T) {
	inst, _ := newTestInstance(t, &fakeBackend{})
	require.NoError(t, inst.Configure("cfg"))
	require.NoError(t, inst.SubmitInput("frame-1", nil))

	waiter, err := inst.Flush()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, waiter.Wait(ctx))
}

func TestResetAbortsPendingFlush(t *testing.T) {
	release := make(chan struct{})
	be := &fakeBackend{configureFn: func(any) error {
		<-release
		return nil
	}}
	inst, _ := newTestInstance(t, be)
	require.NoError(t, inst.Configure("cfg"))

	waiter, err := inst.Flush()
	require.NoError(t, err)

	require.NoError(t, inst.Reset())
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = waiter.Wait(ctx)
	require.Error(t, err)
	assert.True(t, codecerr.IsKind(err, codecerr.KindAbort))
	assert.Equal(t, codecore.StateUnconfigured, inst.State())
}

func TestCloseIsIdempotent(t *testing.T) {
	inst, _ := newTestInstance(t, &fakeBackend{})
	require.NoError(t, inst.Close())
	require.NoError(t, inst.Close())
	assert.True(t, inst.StateIsClosed())
}

func TestCloseRacingReclaimDoesNotPanic(t *testing.T) {
	inst, _ := newTestInstance(t, &fakeBackend{})
	require.NoError(t, inst.Configure("cfg"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = inst.Close()
	}()
	go func() {
		defer wg.Done()
		_ = inst.Reclaim()
	}()
	wg.Wait()

	assert.True(t, inst.StateIsClosed())
}

func TestReclaimDispatchesQuotaExceededError(t *testing.T) {
	inst, errs := newTestInstance(t, &fakeBackend{})
	require.NoError(t, inst.Configure("cfg"))

	require.NoError(t, inst.Reclaim())

	assert.True(t, inst.StateIsClosed())
	require.Len(t, *errs, 1)
	assert.True(t, codecerr.IsKind((*errs)[0], codecerr.KindQuotaExceeded))
}

func TestBackgroundDefaultsToForeground(t *testing.T) {
	inst, _ := newTestInstance(t, &fakeBackend{})
	assert.False(t, inst.Background())

	inst.SetBackground(true)
	assert.True(t, inst.Background())
}

func TestGroupIDDefaultsToOwnID(t *testing.T) {
	caps := &fakeCapabilities{
		fatalKind: codecerr.KindEncoding,
		factory:   func() (backend.Backend, error) { return &fakeBackend{}, nil },
	}
	inst, err := codecore.New(codecore.Options{
		ID:           "solo",
		Capabilities: caps,
		OnOutput:     func(any, any) {},
		OnError:      func(*codecerr.CodecError) {},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close() })

	assert.Equal(t, "solo", inst.GroupID())
}

func TestNewRequiresCallbacks(t *testing.T) {
	caps := &fakeCapabilities{fatalKind: codecerr.KindEncoding}

	_, err := codecore.New(codecore.Options{ID: "missing-callbacks", Capabilities: caps})
	require.Error(t, err)
	assert.True(t, codecerr.IsKind(err, codecerr.KindType))
}
