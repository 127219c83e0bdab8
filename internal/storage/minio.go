// Package storage archives snapshots of published documents in MinIO.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/config"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document"
)

// MinIOStorage is a thin wrapper around the minio client used by services.
type MinIOStorage struct {
	client *minio.Client
	bucket string
}

// NewMinIOStorage creates a new MinIO storage client and ensures the bucket exists.
func NewMinIOStorage(ctx context.Context, cfg config.MinIOConfig) (*MinIOStorage, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio config missing")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket missing")
	}
	mc, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	s := &MinIOStorage{client: mc, bucket: cfg.Bucket}
	// ensure bucket exists (idempotent)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		// ignore "already exists" style errors
		exist, xerr := mc.BucketExists(ctx, s.bucket)
		if xerr != nil || !exist {
			return nil, fmt.Errorf("minio bucket ensure: %w", err)
		}
	}
	return s, nil
}

// newClient builds the minio client. A fixed region keeps presigning local.
func newClient(cfg config.MinIOConfig) (*minio.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}
	return mc, nil
}

// Snapshot is the archived form of a published document.
type Snapshot struct {
	DocumentID  string    `json:"documentId"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	CreatorID   string    `json:"creatorId"`
	Version     int64     `json:"version"`
	PublishedAt time.Time `json:"publishedAt"`
}

// SnapshotKey is the object key of the snapshot of d at its current version.
func SnapshotKey(d *document.Document) string {
	return fmt.Sprintf("documents/%s/v%d.json", d.ID, d.Version)
}

func encodeSnapshot(d *document.Document) ([]byte, error) {
	s := Snapshot{
		DocumentID: d.ID,
		Title:      d.Title,
		Content:    d.Content,
		CreatorID:  d.CreatorID,
		Version:    d.Version,
	}
	if d.PublishedAt != nil {
		s.PublishedAt = *d.PublishedAt
	}
	return json.Marshal(s)
}

// ArchivePublished uploads a snapshot of d and returns its key.
func (s *MinIOStorage) ArchivePublished(ctx context.Context, d *document.Document) (string, error) {
	body, err := encodeSnapshot(d)
	if err != nil {
		return "", fmt.Errorf("encode snapshot of %s: %w", d.ID, err)
	}
	key := SnapshotKey(d)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("upload snapshot %s: %w", key, err)
	}
	return key, nil
}

// SnapshotURL returns a presigned GET URL for the snapshot of d.
func (s *MinIOStorage) SnapshotURL(ctx context.Context, d *document.Document, expires time.Duration) (string, error) {
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, SnapshotKey(d), expires, make(url.Values))
	if err != nil {
		return "", err
	}
	return presigned.String(), nil
}
