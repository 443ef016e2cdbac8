package server

import (
	"context"

	"github.com/pabridge-dev/pabridge/internal/devserver"
)

// DevServerController is the slice of the dev-process runner the server
// needs: status for the status endpoint and restart for the full-restart
// path. nil means the bridge manages no dev process.
type DevServerController interface {
	Status() devserver.Status
	Restart(ctx context.Context) error
}

// ShutdownFunc stops the whole bridge process. The serve command injects
// one so POST /bridge/shutdown can tear down everything the command owns,
// not just the HTTP listener.
type ShutdownFunc func(ctx context.Context) error
