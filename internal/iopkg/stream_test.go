package iopkg

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves single-part uploads only; the multipart calls stay nil.
type fakeS3 struct {
	manager.UploadAPIClient

	getBody    []byte
	getErr     error
	lastBucket string
	lastKey    string
	putBody    []byte
	puts       int
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.lastBucket, f.lastKey = aws.ToString(in.Bucket), aws.ToString(in.Key)
	n := int64(len(f.getBody))
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.getBody)), ContentLength: &n}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts++
	f.lastBucket, f.lastKey = aws.ToString(in.Bucket), aws.ToString(in.Key)
	f.putBody, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func withFakeS3(t *testing.T, f *fakeS3) {
	old := newS3Client
	newS3Client = func(context.Context) (s3iface, error) { return f, nil }
	t.Cleanup(func() { newS3Client = old })
}

func TestParse(t *testing.T) {
	loc, err := Parse("s3://bucket/runs/in.XLSX")
	require.NoError(t, err)
	assert.Equal(t, Location{Scheme: "s3", Bucket: "bucket", Key: "runs/in.XLSX"}, loc)
	assert.Equal(t, ".xlsx", loc.Ext())

	loc, err = Parse("/tmp/records.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "file", loc.Scheme)
	assert.Equal(t, ".jsonl", loc.Ext())

	_, err = Parse("s3://bucket-only")
	assert.ErrorIs(t, err, ErrInvalidS3URI)
	_, err = Parse("ftp://host/x")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestOpenAndCreateFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "out.json")
	w, err := CreateWriter(context.Background(), "file://"+p)
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rc, size, err := Open(context.Background(), p)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int64(3), size)
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "abc", string(b))

	_, _, err = Open(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestS3ReadAndWrite(t *testing.T) {
	f := &fakeS3{getBody: []byte("data-from-s3")}
	withFakeS3(t, f)

	b, err := ReadAll(context.Background(), "s3://bucket/key/path.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "data-from-s3", string(b))
	assert.Equal(t, "key/path.jsonl", f.lastKey)

	w, err := CreateWriter(context.Background(), "s3://results/run-1/result.json")
	require.NoError(t, err)
	_, _ = w.Write([]byte("pay"))
	_, _ = w.Write([]byte("load"))
	assert.Equal(t, 0, f.puts, "upload happens on close")
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, 1, f.puts)
	assert.Equal(t, "results", f.lastBucket)
	assert.Equal(t, "run-1/result.json", f.lastKey)
	assert.Equal(t, "payload", string(f.putBody))

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestS3GetError(t *testing.T) {
	withFakeS3(t, &fakeS3{getErr: errors.New("access denied")})
	_, _, err := Open(context.Background(), "s3://b/k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://b/k")
}
