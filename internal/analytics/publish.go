package analytics

import (
	"bytes"
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Publisher stores rendered report artifacts somewhere durable.
type Publisher interface {
	Publish(ctx context.Context, r *Report) ([]string, error)
}

type artifact struct {
	name        string
	contentType string
	data        []byte
}

// artifacts renders the report in every published format.
func artifacts(r *Report) ([]artifact, error) {
	js, err := r.JSON()
	if err != nil {
		return nil, err
	}
	html, err := RenderHTML(r)
	if err != nil {
		return nil, err
	}
	return []artifact{
		{name: "report.json", contentType: "application/json", data: js},
		{name: "report.md", contentType: "text/markdown; charset=utf-8", data: []byte(RenderMarkdown(r))},
		{name: "report.html", contentType: "text/html; charset=utf-8", data: html},
	}, nil
}

// stamp names a report run; reports generated in the same second overwrite
// each other.
func stamp(r *Report) string {
	return r.GeneratedAt.UTC().Format("20060102T150405Z")
}

// DirPublisher writes reports to <dir>/<timestamp>/ and <dir>/latest/.
type DirPublisher struct {
	Dir string
}

// Publish writes every artifact and returns the written paths.
func (p *DirPublisher) Publish(_ context.Context, r *Report) ([]string, error) {
	files, err := artifacts(r)
	if err != nil {
		return nil, err
	}
	var written []string
	for _, sub := range []string{stamp(r), "latest"} {
		dir := filepath.Join(p.Dir, sub)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return written, eris.Wrapf(err, "creating %s", dir)
		}
		for _, f := range files {
			target := filepath.Join(dir, f.name)
			if err := os.WriteFile(target, f.data, 0o644); err != nil {
				return written, eris.Wrapf(err, "writing %s", target)
			}
			written = append(written, target)
		}
	}
	return written, nil
}

// MinioPublisher uploads reports to an S3-compatible bucket.
type MinioPublisher struct {
	client *minio.Client
	bucket string
}

// NewMinioPublisher connects to endpoint and creates bucket if missing.
func NewMinioPublisher(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioPublisher, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "creating minio client")
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, eris.Wrapf(err, "checking bucket %s", bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, eris.Wrapf(err, "creating bucket %s", bucket)
		}
		zap.L().Info("created report bucket", zap.String("bucket", bucket))
	}
	return &MinioPublisher{client: client, bucket: bucket}, nil
}

// Publish uploads every artifact and returns the object keys.
func (p *MinioPublisher) Publish(ctx context.Context, r *Report) ([]string, error) {
	files, err := artifacts(r)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, prefix := range []string{path.Join("reports", stamp(r)), path.Join("reports", "latest")} {
		for _, f := range files {
			key := path.Join(prefix, f.name)
			_, err := p.client.PutObject(ctx, p.bucket, key, bytes.NewReader(f.data), int64(len(f.data)),
				minio.PutObjectOptions{ContentType: f.contentType})
			if err != nil {
				return keys, eris.Wrapf(err, "uploading %s", key)
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// MultiPublisher publishes to each publisher in turn and stops at the
// first failure.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, r *Report) ([]string, error) {
	var all []string
	for _, p := range m {
		out, err := p.Publish(ctx, r)
		all = append(all, out...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}
