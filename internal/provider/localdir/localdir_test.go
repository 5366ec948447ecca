package localdir

import (
	"testing"

	"github.com/openmined/syftsync/internal/provider"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderContract(t *testing.T) {
	ctx := t.Context()
	p := NewWithFs("disk", afero.NewMemMapFs())
	require.NoError(t, p.Connect(ctx))
	assert.True(t, p.IsConnected())

	entries, err := p.ListFiles(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, p.CreateFolder(ctx, "vault"))
	require.NoError(t, p.CreateFolder(ctx, "vault"), "existing folder is success")

	err = p.CreateFolder(ctx, "a/b")
	assert.ErrorIs(t, err, provider.ErrAlreadyExists, "missing parent is a conflict")

	_, err = p.UploadFile(ctx, "nope/x.md", []byte("x"))
	assert.ErrorIs(t, err, provider.ErrNotFound)

	e, err := p.UploadFile(ctx, "vault/x.md", []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "x.md", e.Name)
	assert.False(t, e.ModifiedTime.IsZero())

	ok, err := p.FolderExists(ctx, "vault")
	require.NoError(t, err)
	assert.True(t, ok)

	entries, err = p.ListFiles(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	content, err := p.DownloadFileContent(ctx, "vault/x.md")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(content))

	require.NoError(t, p.DeleteFile(ctx, "vault/x.md"))
	require.NoError(t, p.DeleteFile(ctx, "vault/x.md"), "deleting a missing file succeeds")

	require.NoError(t, p.DeleteFolder(ctx, "vault"))
	ok, err = p.FolderExists(ctx, "vault")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, p.DeleteFolder(ctx, ""), provider.ErrNotSupported)
}
