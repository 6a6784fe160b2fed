package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewS3Storage(t *testing.T) {
	tests := []struct {
		name      string
		opts      S3Options
		wantError bool
	}{
		{name: "valid bucket and region", opts: S3Options{Bucket: "medguard-photos", Region: "ap-southeast-3"}},
		{name: "custom endpoint", opts: S3Options{Bucket: "medguard-photos", Region: "us-east-1", Endpoint: "http://localhost:9000"}},
		{name: "empty bucket", opts: S3Options{Region: "us-east-1"}, wantError: true},
		{name: "empty region", opts: S3Options{Bucket: "medguard-photos"}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewS3Storage(context.Background(), tt.opts)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.opts.Bucket, s.bucket)
			assert.Equal(t, 15*time.Minute, s.presignExpiration)
		})
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantError bool
	}{
		{name: "simple path", path: "front.png"},
		{name: "nested path", path: "scans/abc/front.png"},
		{name: "cleaned to valid", path: "scans/../front.png"},
		{name: "leading dot segment", path: "./front.png"},
		{name: "hidden file", path: ".catalog.json"},
		{name: "empty path", path: "", wantError: true},
		{name: "parent traversal", path: "../outside.txt", wantError: true},
		{name: "traversal after clean", path: "scans/../../outside.txt", wantError: true},
		{name: "absolute path", path: "/etc/passwd", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePath(tt.path)
			if tt.wantError {
				assert.ErrorIs(t, err, ErrInvalidPath)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestS3Storage_Key(t *testing.T) {
	s, err := NewS3Storage(context.Background(), S3Options{Bucket: "b", Region: "us-east-1", Prefix: "/medguard/"})
	require.NoError(t, err)

	key, err := s.key("scans/abc/front.png")
	require.NoError(t, err)
	assert.Equal(t, "medguard/scans/abc/front.png", key)

	_, err = s.key("../x")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestS3Storage_RejectsInvalidPathsBeforeNetwork(t *testing.T) {
	s, err := NewS3Storage(context.Background(), S3Options{Bucket: "b", Region: "us-east-1"})
	require.NoError(t, err)
	ctx := context.Background()

	for _, p := range []string{"", "../../etc/passwd", "/absolute/path.txt"} {
		_, err := s.Download(ctx, p)
		assert.ErrorIs(t, err, ErrInvalidPath, p)
		_, err = s.Exists(ctx, p)
		assert.ErrorIs(t, err, ErrInvalidPath, p)
		assert.ErrorIs(t, s.Delete(ctx, p), ErrInvalidPath, p)
	}
}
