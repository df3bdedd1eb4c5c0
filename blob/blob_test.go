package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/brokerage-engine/commission"
)

func TestLocal_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	key := UploadKey("org-1", "up-1", "agents.csv")
	require.NoError(t, store.Put(ctx, key, strings.NewReader("id,name\n"), "text/csv"))

	// Overwrite replaces content.
	require.NoError(t, store.Put(ctx, key, strings.NewReader("id,name\na1,Asha\n"), "text/csv"))

	rc, err := store.Get(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "id,name\na1,Asha\n", string(body))

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key))

	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, commission.IsNotFound(err))
}

func TestLocal_RejectsEscapingKeys(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	err = store.Put(context.Background(), "../outside.txt", strings.NewReader("x"), "")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "uploads/org-1/up-1/grid.xlsx", UploadKey("org-1", "up-1", "grid.xlsx"))
	assert.Equal(t, "uploads/org-1/up-1/passwd", UploadKey("org-1", "up-1", "../../etc/passwd"))
	assert.Equal(t, "uploads/a_b/up-1/x.csv", UploadKey("a/b", "up-1", "x.csv"))
	assert.Equal(t, "errors/up-1.csv", ErrorReportKey("up-1"))
}
