package registry_test

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librepad/librepad/internal/registry"
	th "github.com/librepad/librepad/internal/testing"
)

func newRegistry(t *testing.T, opts ...registry.Option) (*registry.Registry, *th.Factory) {
	t.Helper()
	f := th.NewFactory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return registry.New(f.Catalogue(t), logger, opts...), f
}

func TestAcquireSharesInstance(t *testing.T) {
	r, f := newRegistry(t)

	d1, err := r.Acquire("standard", "Pad One")
	require.NoError(t, err)
	d2, err := r.Acquire("STANDARD", "ignored")
	require.NoError(t, err)

	assert.Same(t, d1, d2)
	assert.Equal(t, "Pad One", d1.Name())
	assert.Equal(t, 2, r.Clients("standard"))
	assert.EqualValues(t, 1, f.Created.Load())

	got, ok := r.Get("Standard")
	require.True(t, ok)
	assert.Same(t, d1, got)
}

func TestAcquireDefaultsDisplayNameToType(t *testing.T) {
	r, _ := newRegistry(t)
	d, err := r.Acquire("Mouse", "")
	require.NoError(t, err)
	assert.Equal(t, "mouse", d.Name())
}

func TestReleaseClosesOnLastHolder(t *testing.T) {
	r, f := newRegistry(t)

	_, err := r.Acquire("standard", "")
	require.NoError(t, err)
	_, err = r.Acquire("standard", "")
	require.NoError(t, err)

	r.Release("standard")
	assert.Equal(t, 1, r.Clients("standard"))
	assert.Equal(t, 0, f.Built("standard")[0].Closed())

	r.Release("standard")
	_, ok := r.Get("standard")
	assert.False(t, ok)
	assert.Equal(t, 1, f.Built("standard")[0].Closed())

	r.Release("standard")
	assert.Equal(t, 1, f.Built("standard")[0].Closed(), "extra release is a no-op")

	_, err = r.Acquire("standard", "again")
	require.NoError(t, err)
	assert.Len(t, f.Built("standard"), 2, "device is recreated after destruction")
}

func TestAcquireErrors(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		fail    error
		wantErr error
	}{
		{name: "unknown type", typ: "joystick", wantErr: registry.ErrUnknownDeviceType},
		{name: "construction failure", typ: "mouse", fail: errors.New("no uinput"), wantErr: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, f := newRegistry(t)
			if tt.fail != nil {
				f.FailType(tt.typ, tt.fail)
			}
			d, err := r.Acquire(tt.typ, "")
			require.Error(t, err)
			assert.Nil(t, d)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.fail != nil {
				assert.ErrorIs(t, err, tt.fail)
			}
			_, ok := r.Get(tt.typ)
			assert.False(t, ok)
			assert.Equal(t, 0, r.Clients(tt.typ))
		})
	}
}

func TestAvailableAndSnapshot(t *testing.T) {
	r, _ := newRegistry(t)
	assert.Equal(t, []string{"mouse", "standard"}, r.Available())
	assert.Empty(t, r.Snapshot())

	_, err := r.Acquire("standard", "Pad")
	require.NoError(t, err)
	_, err = r.Acquire("mouse", "Touch")
	require.NoError(t, err)
	_, err = r.Acquire("mouse", "")
	require.NoError(t, err)

	assert.Equal(t, []registry.Entry{
		{Type: "mouse", Name: "Touch", Clients: 2},
		{Type: "standard", Name: "Pad", Clients: 1},
	}, r.Snapshot())
}

func TestObserver(t *testing.T) {
	type change struct {
		typ     string
		clients int
	}
	var (
		mu      sync.Mutex
		changes []change
	)
	r, _ := newRegistry(t, registry.WithObserver(func(typ string, clients int) {
		mu.Lock()
		changes = append(changes, change{typ, clients})
		mu.Unlock()
	}))

	_, err := r.Acquire("standard", "")
	require.NoError(t, err)
	_, err = r.Acquire("standard", "")
	require.NoError(t, err)
	r.Release("standard")
	r.Release("standard")

	assert.Equal(t, []change{{"standard", 1}, {"standard", 2}, {"standard", 1}, {"standard", 0}}, changes)
}

func TestConcurrentAcquireRelease(t *testing.T) {
	r, f := newRegistry(t)

	const workers = 64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := r.Acquire("standard", "")
			if !assert.NoError(t, err) {
				return
			}
			_ = d.SetButton("a", true)
			r.Release("standard")
		}()
	}
	wg.Wait()

	_, ok := r.Get("standard")
	assert.False(t, ok)
	built := f.Built("standard")
	require.NotEmpty(t, built)
	for _, d := range built {
		assert.Equal(t, 1, d.Closed(), "every instance is closed exactly once")
	}
}

func TestGetDoesNotWaitForConstruction(t *testing.T) {
	r, f := newRegistry(t)
	release := f.Hold()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Acquire("standard", "")
	}()

	got := make(chan bool, 1)
	go func() {
		_, ok := r.Get("standard")
		got <- ok
	}()

	select {
	case ok := <-got:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Get blocked while a device was being constructed")
	}

	release()
	<-done
	assert.Equal(t, 1, r.Clients("standard"))
}
