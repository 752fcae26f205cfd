//go:build !gcp

package audit

import (
	"context"
	"fmt"
)

func newGCSRemoteFromEnv(ctx context.Context) (RemoteStore, error) {
	return nil, fmt.Errorf("GCS backup storage is not enabled in this build (use -tags gcp)")
}
