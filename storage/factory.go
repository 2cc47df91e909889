package storage

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"
)

const (
	DriverOSS   = "oss"
	DriverLocal = "local"
)

type Config struct {
	Driver string
	// StagingRoot is the only directory Upload reads staged files from.
	StagingRoot string
	OSS         OSSConfig
	Local       LocalConfig
}

// New builds the backend named by cfg.Driver.
func New(ctx context.Context, cfg Config, log logr.Logger) (s Storage, err error) {
	if cfg.Driver != "" && cfg.Driver != DriverOSS && cfg.Driver != DriverLocal {
		err = fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
		return
	}
	var staging afero.Fs
	if staging, err = NewStagingFs(cfg.StagingRoot); err != nil {
		return
	}

	if cfg.Driver == DriverLocal {
		s, err = NewLocalFile(ctx, staging, afero.NewOsFs(), cfg.Local, log.WithValues("driver", DriverLocal))
		return
	}
	s, err = NewOSS(ctx, staging, cfg.OSS, log.WithValues("driver", DriverOSS))
	return
}
