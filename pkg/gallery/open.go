package gallery

import (
	"context"
	"fmt"
)

// Storage drivers.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// Options selects and configures a Store.
type Options struct {
	Driver            string
	DataDir           string
	EncryptionEnabled bool
	PostgresDSN       string
	// ByteLen is the expected embedding size in bytes.
	ByteLen int
}

// Open returns the Store for the configured driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverFile:
		return NewFileStore(opts.DataDir, opts.EncryptionEnabled, opts.ByteLen)
	case DriverPostgres:
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres driver requires a DSN")
		}
		return NewPostgresStore(ctx, opts.PostgresDSN, opts.ByteLen)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", opts.Driver)
	}
}
