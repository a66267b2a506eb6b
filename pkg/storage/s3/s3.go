// Package s3 provides an AWS S3 object storage for export artifacts.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/interfaces"
)

// Config holds S3 client configuration.
type Config struct {
	// Region is the AWS region (e.g., "us-east-1")
	Region string

	// Bucket receives all artifacts.
	Bucket string

	// Prefix is prepended to every object key.
	Prefix string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// Timeouts
	OperationTimeout time.Duration
	UploadTimeout    time.Duration

	// PartSize is the multipart threshold and part size (default: 5MB).
	PartSize int64

	// SpoolDir holds pending objects until commit (default: os.TempDir()).
	SpoolDir string
}

// DefaultConfig returns sensible defaults for S3 configuration.
func DefaultConfig(bucket, region string) Config {
	return Config{
		Bucket:           bucket,
		Region:           region,
		OperationTimeout: 30 * time.Second,
		UploadTimeout:    5 * time.Minute,
		PartSize:         5 * 1024 * 1024, // 5MB
	}
}

// api is the subset of the S3 client the storage uses.
type api interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Client implements interfaces.ObjectStorage on S3. Pending objects are
// spooled to local disk and uploaded on commit, so nothing is visible in the
// bucket until a run's files are committed.
type Client struct {
	cfg    Config
	client api
}

// NewClient creates a new S3 client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, exerrors.New(exerrors.CodeInvalidConfig, "s3 bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	// Use explicit credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return newClient(cfg, s3.NewFromConfig(awsCfg, s3Opts...)), nil
}

func newClient(cfg Config, client api) *Client {
	defaults := DefaultConfig(cfg.Bucket, cfg.Region)
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaults.UploadTimeout
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = defaults.PartSize
	}
	return &Client{cfg: cfg, client: client}
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.cfg.Bucket
}

// Scheme returns "s3".
func (c *Client) Scheme() string {
	return "s3"
}

// Key maps a relative artifact path to its object key.
func (c *Client) Key(p string) string {
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if c.cfg.Prefix == "" {
		return p
	}
	return path.Join(strings.Trim(c.cfg.Prefix, "/"), p)
}

// Location returns the s3:// URL of an artifact.
func (c *Client) Location(p string) string {
	return "s3://" + c.cfg.Bucket + "/" + c.Key(p)
}

// Exists checks if an object exists.
func (c *Client) Exists(ctx context.Context, p string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()

	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(c.Key(p)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to head object %s: %w", c.Location(p), err)
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nk *types.NoSuchKey
	return errors.As(err, &nk)
}

// Create spools a pending object to a local temp file.
func (c *Client) Create(ctx context.Context, p string, opts interfaces.CreateOptions) (interfaces.ObjectWriter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	spool, err := os.CreateTemp(c.cfg.SpoolDir, "docexport-s3-*")
	if err != nil {
		return nil, exerrors.FileWrite(err, c.Location(p))
	}
	return &spoolWriter{client: c, ctx: ctx, path: p, opts: opts, spool: spool}, nil
}

// spoolWriter implements interfaces.ObjectWriter for S3 uploads.
type spoolWriter struct {
	client *Client
	ctx    context.Context
	path   string
	opts   interfaces.CreateOptions
	spool  *os.File
	size   int64
	done   bool
}

func (w *spoolWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, os.ErrClosed
	}
	n, err := w.spool.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *spoolWriter) Commit() error {
	if w.done {
		return os.ErrClosed
	}
	w.done = true
	defer w.cleanup()

	c := w.client
	location := c.Location(w.path)
	if !w.opts.Overwrite {
		exists, err := c.Exists(w.ctx, w.path)
		if err != nil {
			return exerrors.FileWrite(err, location)
		}
		if exists {
			return exerrors.New(exerrors.CodePathExists, "output object already exists").
				WithContext("path", location)
		}
	}

	if _, err := w.spool.Seek(0, io.SeekStart); err != nil {
		return exerrors.FileWrite(err, location)
	}

	ctx, cancel := context.WithTimeout(w.ctx, c.cfg.UploadTimeout)
	defer cancel()

	var err error
	if w.size <= c.cfg.PartSize {
		err = w.putObject(ctx)
	} else {
		err = w.multipart(ctx)
	}
	if err != nil {
		return exerrors.FileWrite(err, location)
	}
	return nil
}

func (w *spoolWriter) putObject(ctx context.Context) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(w.client.cfg.Bucket),
		Key:           aws.String(w.client.Key(w.path)),
		Body:          w.spool,
		ContentLength: aws.Int64(w.size),
	}
	if w.opts.ContentType != "" {
		input.ContentType = aws.String(w.opts.ContentType)
	}
	if len(w.opts.Metadata) > 0 {
		input.Metadata = w.opts.Metadata
	}
	_, err := w.client.client.PutObject(ctx, input)
	return err
}

func (w *spoolWriter) multipart(ctx context.Context) error {
	c := w.client
	key := c.Key(w.path)

	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	}
	if w.opts.ContentType != "" {
		input.ContentType = aws.String(w.opts.ContentType)
	}
	if len(w.opts.Metadata) > 0 {
		input.Metadata = w.opts.Metadata
	}
	created, err := c.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to create multipart upload: %w", err)
	}
	uploadID := created.UploadId

	abort := func(cause error) error {
		c.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(c.cfg.Bucket),
			Key:      aws.String(key),
			UploadId: uploadID,
		})
		return cause
	}

	var parts []types.CompletedPart
	buf := make([]byte, c.cfg.PartSize)
	for partNum := int32(1); ; partNum++ {
		n, readErr := io.ReadFull(w.spool, buf)
		if n > 0 {
			out, err := c.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(c.cfg.Bucket),
				Key:        aws.String(key),
				UploadId:   uploadID,
				PartNumber: aws.Int32(partNum),
				Body:       bytes.NewReader(buf[:n]),
			})
			if err != nil {
				return abort(fmt.Errorf("failed to upload part %d: %w", partNum, err))
			}
			parts = append(parts, types.CompletedPart{
				ETag:       out.ETag,
				PartNumber: aws.Int32(partNum),
			})
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return abort(readErr)
		}
	}

	_, err = c.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.cfg.Bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return abort(fmt.Errorf("failed to complete multipart upload: %w", err))
	}
	return nil
}

func (w *spoolWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.cleanup()
}

func (w *spoolWriter) cleanup() error {
	w.spool.Close()
	if err := os.Remove(w.spool.Name()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
