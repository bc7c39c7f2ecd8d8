package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/asakaida/stepscope/internal/infrastructure/config"
)

// Scheme prefixes every object URI
const Scheme = "s3://"

var (
	// ErrNotFound is returned when the bucket has no object under the key
	ErrNotFound = errors.New("object not found")

	// ErrTooLarge is returned when an object exceeds the configured limit
	ErrTooLarge = errors.New("object exceeds size limit")
)

// API is the subset of the S3 client used here
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Client reads input files from and writes exports to S3-compatible storage
type Client struct {
	api     API
	maxSize int64
	logger  *zap.Logger
}

// NewClient creates a client from configuration. Static credentials are used
// when an access key is configured, the default AWS chain otherwise. A
// custom endpoint switches to path-style addressing for MinIO compatibility.
func NewClient(cfg config.ObjectStoreConfig, logger *zap.Logger) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := cfg.Endpoint
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint == "" {
			return
		}
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			if cfg.UseSSL {
				endpoint = "https://" + endpoint
			} else {
				endpoint = "http://" + endpoint
			}
		}
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return New(api, cfg.MaxObjectBytes, logger), nil
}

// New wraps an S3 API. maxSize bounds Get; zero disables the bound.
func New(api API, maxSize int64, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, maxSize: maxSize, logger: logger}
}

// IsURI reports whether s names an object rather than a local path
func IsURI(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// ParseURI splits s3://bucket/key
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, Scheme)
	if !ok {
		return "", "", fmt.Errorf("not an object URI: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("object URI needs a bucket and a key: %q", uri)
	}
	return bucket, key, nil
}

// Get reads a whole object
func (c *Client) Get(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		return nil, fmt.Errorf("failed to get %s: %w", uri, err)
	}
	defer out.Body.Close()

	if c.maxSize > 0 && out.ContentLength != nil && *out.ContentLength > c.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, uri, *out.ContentLength)
	}

	body := io.Reader(out.Body)
	if c.maxSize > 0 {
		// One extra byte detects bodies longer than the declared length
		body = io.LimitReader(out.Body, c.maxSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	if c.maxSize > 0 && int64(len(data)) > c.maxSize {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, uri)
	}

	c.logger.Debug("object read", zap.String("uri", uri), zap.Int("bytes", len(data)))
	return data, nil
}

// Put writes body as one object
func (c *Client) Put(ctx context.Context, uri string, body []byte, contentType string) error {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := c.api.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put %s: %w", uri, err)
	}

	c.logger.Debug("object written", zap.String("uri", uri), zap.Int("bytes", len(body)))
	return nil
}
