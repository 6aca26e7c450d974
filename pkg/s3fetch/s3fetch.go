// Package s3fetch spools remote log sources to local files. The pipeline
// needs a byte-addressable, offset-resumable handle, so an s3:// source is
// downloaded once to a spool file and analyzed from disk.
package s3fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// IsS3URI reports whether path names an S3 object.
func IsS3URI(path string) bool {
	return strings.HasPrefix(path, "s3://")
}

// ParseS3URI splits an s3://bucket/key URI.
func ParseS3URI(uri string) (bucket, key string, err error) {
	if !IsS3URI(uri) {
		return "", "", errors.New("invalid S3 URI: must start with s3://")
	}

	path := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(path, "/", 2)
	if parts[0] == "" {
		return "", "", errors.New("invalid S3 URI: missing bucket name")
	}
	if len(parts) < 2 || parts[1] == "" {
		return "", "", errors.New("invalid S3 URI: missing object key")
	}
	return parts[0], parts[1], nil
}

// Config configures the spool download.
type Config struct {
	// Concurrency is the number of parallel range-download parts.
	// Default: NumCPU clamped to [4, 16].
	Concurrency int

	// PartSize is the range size per part. Default: 16MB.
	PartSize int64

	// TempDir is where spool files are created. Default: os.TempDir().
	TempDir string
}

// DefaultConfig returns spool settings sized for the current machine.
func DefaultConfig() Config {
	concurrency := runtime.NumCPU()
	if concurrency < 4 {
		concurrency = 4
	}
	if concurrency > 16 {
		concurrency = 16
	}
	return Config{
		Concurrency: concurrency,
		PartSize:    16 * 1024 * 1024,
	}
}

// Spooler downloads S3 objects to local spool files using the AWS download
// manager for parallel range fetches.
type Spooler struct {
	manager *manager.Downloader
	cfg     Config
}

// NewSpooler creates a Spooler using default AWS configuration.
func NewSpooler(ctx context.Context, cfg Config) (*Spooler, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewSpoolerWithClient(s3.NewFromConfig(awsCfg), cfg), nil
}

// NewSpoolerWithClient creates a Spooler over an existing S3 client.
func NewSpoolerWithClient(client *s3.Client, cfg Config) *Spooler {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = def.PartSize
	}

	mgr := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.Concurrency = cfg.Concurrency
		d.PartSize = cfg.PartSize
		d.BufferProvider = manager.NewPooledBufferedWriterReadFromProvider(int(cfg.PartSize))
	})
	return &Spooler{manager: mgr, cfg: cfg}
}

// SpoolResult describes a completed spool download.
type SpoolResult struct {
	Path            string
	BytesDownloaded int64
	Duration        time.Duration
}

// Spool downloads the object named by uri to a temp file and returns its
// path. The caller owns the file and removes it when the run finishes.
func (sp *Spooler) Spool(ctx context.Context, uri string) (*SpoolResult, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}

	tempDir := sp.cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	file, err := os.CreateTemp(tempDir, "logspool-*.log")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}

	start := time.Now()
	n, err := sp.manager.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if cerr := file.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close spool file: %w", cerr)
	}
	if err != nil {
		os.Remove(file.Name())
		return nil, fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}

	return &SpoolResult{
		Path:            file.Name(),
		BytesDownloaded: n,
		Duration:        time.Since(start),
	}, nil
}

// Stream returns a sequential reader for an S3 object without spooling.
// Used for prefix sampling when only a bounded number of bytes is needed.
func Stream(ctx context.Context, client *s3.Client, uri string) (io.ReadCloser, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object s3://%s/%s: %w", bucket, key, err)
	}
	return resp.Body, nil
}
