package pipeline

import (
	"context"
	"os"

	"github.com/rodrigolearns/CitationFidelitySignal/internal/analytics"
	"github.com/rodrigolearns/CitationFidelitySignal/internal/config"
	"github.com/rotisserie/eris"
)

// Publishers returns the report publishers enabled in cfg: always the
// local report directory, plus the MinIO bucket when enabled.
func Publishers(ctx context.Context, cfg *config.Config) (analytics.Publisher, error) {
	pubs := analytics.MultiPublisher{&analytics.DirPublisher{Dir: cfg.GetReportDir()}}

	m := cfg.Analytics.Minio
	if m.Enabled {
		access, secret := os.Getenv(m.AccessKeyEnv), os.Getenv(m.SecretKeyEnv)
		if access == "" || secret == "" {
			return nil, eris.Errorf("minio credentials missing: set $%s and $%s", m.AccessKeyEnv, m.SecretKeyEnv)
		}
		mp, err := analytics.NewMinioPublisher(ctx, m.Endpoint, access, secret, m.Bucket, m.UseSSL)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, mp)
	}
	return pubs, nil
}
