//go:build !unix

package registry

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

type fileLock struct{}

func acquireLock(ctx context.Context, path string, exclusive bool, timeout time.Duration) (*fileLock, error) {
	return nil, fmt.Errorf("%w: file locking is not supported on %s", ErrStorage, runtime.GOOS)
}

func (l *fileLock) release() {}
