//go:build !unix

package storage

import (
	"context"
	"sync"
)

var pathLocks sync.Map // path -> *sync.Mutex

// lockFile without flock only excludes callers inside this process.
func lockFile(ctx context.Context, path string) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, _ := pathLocks.LoadOrStore(path, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return func() error {
		mu.Unlock()
		return nil
	}, nil
}
