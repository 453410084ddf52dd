// Package s3backend stores table documents as S3 objects. It registers
// the "s3" URL scheme.
package s3backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"golang.org/x/time/rate"

	"github.com/relibdb/relib"
)

func init() {
	// s3://bucket/prefix?region=eu-west-1&endpoint=...&profile=...&rps=50
	relib.RegisterBackend("s3", func(u *url.URL) (relib.Backend, error) {
		return New(u)
	})
}

// api is the slice of the S3 client the backend calls; tests substitute a
// fake.
type api interface {
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
}

// Backend maps document names to objects under bucket/prefix. Writes made
// inside a batch are buffered in memory and flushed on CommitBatch, so a
// failed save never leaves a half-written store behind.
type Backend struct {
	bucket  string
	prefix  string
	client  api
	limiter *rate.Limiter
	staged  map[string][]byte
}

// New builds a backend from an s3:// URL. The host is the bucket and the
// path the object prefix. Query parameters: region, profile, endpoint
// (forces path-style addressing, for S3-compatible services), and rps to
// cap request throughput.
func New(u *url.URL) (*Backend, error) {
	q := u.Query()
	cfg := aws.NewConfig().WithCredentialsChainVerboseErrors(true)
	if region := q.Get("region"); region != "" {
		cfg = cfg.WithRegion(region)
	}
	if endpoint := q.Get("endpoint"); endpoint != "" {
		// Bucket-named virtual hosts don't work with explicit endpoints.
		cfg = cfg.WithEndpoint(endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *cfg,
		Profile:           q.Get("profile"),
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	b := NewWithClient(u.Host, strings.Trim(u.Path, "/"), s3.New(sess))
	if rps := q.Get("rps"); rps != "" {
		n, err := strconv.Atoi(rps)
		if err != nil || n <= 0 {
			return nil, relib.NewConfigurationError("invalid rps value %q", rps)
		}
		b.limiter = rate.NewLimiter(rate.Limit(n), n)
	}
	return b, nil
}

// NewWithClient returns a backend over an existing client. An empty prefix
// stores objects at the bucket root.
func NewWithClient(bucket, prefix string, client api) *Backend {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Backend{bucket: bucket, prefix: prefix, client: client}
}

func (b *Backend) String() string {
	return "s3://" + b.bucket + "/" + b.prefix
}

func (b *Backend) BeginBatch(ctx context.Context) error {
	b.staged = make(map[string][]byte)
	return nil
}

func (b *Backend) Persist(ctx context.Context, name string, data []byte) error {
	if b.staged != nil {
		b.staged[name] = bytes.Clone(data)
		return nil
	}
	return b.put(ctx, name, data)
}

// Retrieve prefers staged content, so a store re-reading inside its own
// batch sees its own writes.
func (b *Backend) Retrieve(ctx context.Context, name string) ([]byte, error) {
	if b.staged != nil {
		if data, ok := b.staged[name]; ok {
			return bytes.Clone(data), nil
		}
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.prefix + name),
	})
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return nil, relib.NewNotFoundError("no document %q in %s", name, b)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s%s: %w", b.bucket, b.prefix, name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}

// CommitBatch uploads the staged documents in name order.
func (b *Backend) CommitBatch(ctx context.Context) error {
	names := make([]string, 0, len(b.staged))
	for name := range b.staged {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := b.put(ctx, name, b.staged[name]); err != nil {
			return err
		}
	}
	b.staged = nil
	return nil
}

func (b *Backend) put(ctx context.Context, name string, data []byte) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.prefix + name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s%s: %w", b.bucket, b.prefix, name, err)
	}
	return nil
}

func (b *Backend) wait(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}
