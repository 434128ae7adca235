// Package upload delivers captured sessions to the collection backend.
//
// Each client makes exactly one attempt per call; retry policy belongs to the
// caller. The payload data aliases the shared capture buffer and is only read
// during the call.
package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/oszuidwest/zwfm-soundgate/internal/config"
	"github.com/oszuidwest/zwfm-soundgate/internal/types"
)

// Client uploads one captured session.
type Client interface {
	Upload(ctx context.Context, p *types.Payload) (types.UploadResult, error)
}

var (
	// ErrUnexpectedStatus is returned when the server answers outside 2xx.
	ErrUnexpectedStatus = errors.New("unexpected upload status")
	// ErrEmptyPayload is returned for a payload without samples.
	ErrEmptyPayload = errors.New("empty upload payload")
)

// New returns the client selected by the upload mode.
func New(cfg *config.Config) (Client, error) {
	switch cfg.Upload.Mode {
	case config.UploadModeHTTP:
		c, err := NewHTTPClient(cfg.Upload.Endpoint, cfg.UploadTimeout(), cfg.Upload.OAuth)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.UploadModeS3:
		c, err := NewS3Client(cfg.Upload.S3)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown upload mode %q", cfg.Upload.Mode)
	}
}

func checkPayload(p *types.Payload) error {
	if p == nil || p.Samples <= 0 || len(p.Data) == 0 {
		return ErrEmptyPayload
	}
	return nil
}
