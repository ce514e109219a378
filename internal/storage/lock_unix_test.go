//go:build unix

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileLockHonorsContext(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "reminders.json.lock")
	unlock, err := lockFile(context.Background(), path)
	require.NoError(t, err)
	defer func() { require.NoError(t, unlock()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = lockFile(ctx, path)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
