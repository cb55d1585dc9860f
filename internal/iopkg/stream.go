// Package iopkg opens record sources and result sinks by URI. file:// (or a
// bare path) and s3://bucket/key are supported.
package iopkg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported uri scheme")
	ErrInvalidS3URI      = errors.New("invalid s3 uri")
)

// s3iface is the subset of the s3 client we use; tests swap in a fake.
type s3iface interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// newS3Client builds a client from the default AWS chain. AWS_ENDPOINT_URL_S3
// and AWS_S3_FORCE_PATH_STYLE=true point it at MinIO and friends.
var newS3Client = func(ctx context.Context) (s3iface, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if ep := os.Getenv("AWS_ENDPOINT_URL_S3"); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
		if strings.EqualFold(os.Getenv("AWS_S3_FORCE_PATH_STYLE"), "true") {
			o.UsePathStyle = true
		}
	}), nil
}

// Location is a parsed URI.
type Location struct {
	Scheme string // "file" or "s3"
	Path   string // local path
	Bucket string
	Key    string
}

// Ext returns the lower-case extension of the file or object name.
func (l Location) Ext() string {
	name := l.Path
	if l.Scheme == "s3" {
		name = path.Base(l.Key)
	}
	return strings.ToLower(filepath.Ext(name))
}

// Parse splits uri into a Location.
func Parse(uri string) (Location, error) {
	if !strings.Contains(uri, "://") {
		return Location{Scheme: "file", Path: uri}, nil
	}
	if strings.HasPrefix(uri, "file://") {
		return Location{Scheme: "file", Path: strings.TrimPrefix(uri, "file://")}, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("parse %q: %w", uri, err)
	}
	if u.Scheme != "s3" {
		return Location{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	loc := Location{Scheme: "s3", Bucket: u.Host, Key: strings.TrimPrefix(u.Path, "/")}
	if loc.Bucket == "" || loc.Key == "" {
		return Location{}, fmt.Errorf("%w: %q", ErrInvalidS3URI, uri)
	}
	return loc, nil
}

// Open returns a reader and, when known, the size of the object at uri.
func Open(ctx context.Context, uri string) (io.ReadCloser, int64, error) {
	loc, err := Parse(uri)
	if err != nil {
		return nil, 0, err
	}
	if loc.Scheme == "file" {
		f, err := os.Open(loc.Path)
		if err != nil {
			return nil, 0, err
		}
		var size int64
		if st, err := f.Stat(); err == nil {
			size = st.Size()
		}
		return f, size, nil
	}

	cl, err := newS3Client(ctx)
	if err != nil {
		return nil, 0, err
	}
	resp, err := cl.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(loc.Bucket), Key: aws.String(loc.Key)})
	if err != nil {
		return nil, 0, fmt.Errorf("get s3://%s/%s: %w", loc.Bucket, loc.Key, err)
	}
	var size int64
	if resp.ContentLength != nil {
		size = *resp.ContentLength
	}
	return resp.Body, size, nil
}

// ReadAll reads the whole object at uri.
func ReadAll(ctx context.Context, uri string) ([]byte, error) {
	rc, _, err := Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// CreateWriter returns a writer for uri. Local parent directories are
// created; s3 objects are buffered and uploaded on Close, in parts once
// they outgrow a single request.
func CreateWriter(ctx context.Context, uri string) (io.WriteCloser, error) {
	loc, err := Parse(uri)
	if err != nil {
		return nil, err
	}
	if loc.Scheme == "file" {
		if err := os.MkdirAll(filepath.Dir(loc.Path), 0o755); err != nil {
			return nil, err
		}
		f, err := os.Create(loc.Path)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return &s3Writer{ctx: ctx, loc: loc}, nil
}

type s3Writer struct {
	ctx  context.Context
	loc  Location
	buf  bytes.Buffer
	done bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	if w.done {
		return 0, os.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	cl, err := newS3Client(w.ctx)
	if err != nil {
		return err
	}
	_, err = manager.NewUploader(cl).Upload(w.ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.loc.Bucket),
		Key:    aws.String(w.loc.Key),
		Body:   bytes.NewReader(w.buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", w.loc.Bucket, w.loc.Key, err)
	}
	return nil
}
