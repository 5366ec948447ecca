package provider_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmined/syftsync/internal/provider"
	"github.com/openmined/syftsync/internal/provider/localdir"
	"github.com/openmined/syftsync/internal/provider/providertest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHTTPStatus(t *testing.T) {
	cases := map[int]error{
		401: provider.ErrAuth,
		403: provider.ErrAuth,
		404: provider.ErrNotFound,
		405: provider.ErrAlreadyExists,
		409: provider.ErrAlreadyExists,
		423: provider.ErrTransient,
		429: provider.ErrTransient,
		503: provider.ErrTransient,
		507: provider.ErrQuota,
		501: provider.ErrNotSupported,
		504: provider.ErrTimeout,
	}
	for status, want := range cases {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			err := provider.FromHTTPStatus("put", "a.md", status, "")
			assert.ErrorIs(t, err, want)
		})
	}
	assert.NoError(t, provider.FromHTTPStatus("put", "a.md", 201, ""))
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("pass: %w", provider.NewError(provider.KindAuth, "list", "", errors.New("expired")))
	assert.True(t, provider.IsAuth(err))
	assert.False(t, provider.IsTransient(err))
	assert.Contains(t, provider.Describe(err), "credentials")
	assert.Equal(t, provider.KindTimeout, provider.KindOf(context.DeadlineExceeded))
	assert.Equal(t, provider.KindUnknown, provider.KindOf(errors.New("boom")))
}

func TestRetryTransient(t *testing.T) {
	clock := clockwork.NewFakeClock()
	policy := provider.RetryPolicy{Attempts: 3, Base: time.Second, Clock: clock}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- provider.Retry(t.Context(), policy, func(context.Context) error {
			calls++
			if calls < 3 {
				return provider.ErrTransient
			}
			return nil
		})
	}()

	for range 2 {
		require.NoError(t, clock.BlockUntilContext(t.Context(), 1))
		clock.Advance(10 * time.Second)
	}
	require.NoError(t, <-done)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := provider.Retry(t.Context(), provider.DefaultRetry, func(context.Context) error {
		calls++
		return provider.ErrAuth
	})
	assert.ErrorIs(t, err, provider.ErrAuth)
	assert.Equal(t, 1, calls)
}

func TestChain(t *testing.T) {
	ctx := t.Context()
	fail := func(context.Context) error { return provider.ErrNotSupported }
	ok := func(context.Context) error { return nil }

	used, err := provider.Chain{Name: "c", Steps: []provider.Step{
		{Name: "a", Run: fail},
		{Name: "b", Run: ok},
	}}.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", used)

	used, err = provider.Chain{Name: "c", Steps: []provider.Step{
		{Name: "a", Run: fail, OnError: func(error) provider.Action { return provider.Succeed }},
		{Name: "b", Run: fail},
	}}.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", used)

	_, err = provider.Chain{Name: "c", Steps: []provider.Step{
		{Name: "a", Run: fail, OnError: func(error) provider.Action { return provider.Abort }},
		{Name: "b", Run: ok},
	}}.Run(ctx)
	assert.ErrorIs(t, err, provider.ErrNotSupported)

	_, err = provider.Chain{Name: "c", Steps: []provider.Step{{Name: "a", Run: fail}}}.Run(ctx)
	assert.ErrorIs(t, err, provider.ErrChainExhausted)
}

func TestAtomicUploadThroughMover(t *testing.T) {
	ctx := t.Context()
	fsys := afero.NewMemMapFs()
	p := localdir.NewWithFs("disk", fsys)
	require.NoError(t, p.Connect(ctx))
	require.NoError(t, fsys.MkdirAll("/vault", 0o755))

	entry, err := provider.Upload(ctx, p, "vault/a.md", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "vault/a.md", entry.Path)
	assert.EqualValues(t, 2, entry.Size)

	entries, err := p.ListFiles(ctx, "vault")
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary upload name must not remain")
}

func TestDownloadWithoutCapability(t *testing.T) {
	_, err := provider.Download(t.Context(), bare{providertest.New("x")}, "a")
	assert.ErrorIs(t, err, provider.ErrNotSupported)
}

func TestDeleteToleratesMissing(t *testing.T) {
	fake := providertest.New("x")
	fake.FailOn("delete", "gone.md", provider.NewError(provider.KindNotFound, "delete", "gone.md", nil))
	assert.NoError(t, provider.DeleteFile(t.Context(), fake, "gone.md"))

	fake.FailOn("delete", "*", provider.ErrQuota)
	assert.ErrorIs(t, provider.DeleteFile(t.Context(), fake, "other.md"), provider.ErrQuota)
}

// bare hides every optional capability.
type bare struct{ provider.Provider }
