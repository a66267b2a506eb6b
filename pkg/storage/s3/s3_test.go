package s3

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	exerrors "github.com/logflow/docexport/pkg/errors"
	"github.com/logflow/docexport/pkg/interfaces"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	parts   map[int32][]byte
	aborted int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, parts: map[int32][]byte{}}
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.parts[aws.ToInt32(in.PartNumber)] = data
	f.mu.Unlock()
	return &s3.UploadPartOutput{ETag: aws.String("etag")}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []byte
	for _, p := range in.MultipartUpload.Parts {
		all = append(all, f.parts[aws.ToInt32(p.PartNumber)]...)
	}
	f.objects[aws.ToString(in.Key)] = all
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	f.aborted++
	f.mu.Unlock()
	return &s3.AbortMultipartUploadOutput{}, nil
}

var _ interfaces.ObjectStorage = (*Client)(nil)

func TestKeyAndLocation(t *testing.T) {
	c := newClient(Config{Bucket: "beamline", Prefix: "/exports/"}, newFakeS3())
	tests := []struct {
		in   string
		want string
	}{
		{"run/primary.csv", "exports/run/primary.csv"},
		{"/abs.csv", "exports/abs.csv"},
		{"../up.csv", "exports/up.csv"},
	}
	for _, tt := range tests {
		if got := c.Key(tt.in); got != tt.want {
			t.Errorf("Key(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := c.Location("a.csv"); got != "s3://beamline/exports/a.csv" {
		t.Errorf("Location() = %q", got)
	}
}

func TestCommit_SmallObject(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	c := newClient(Config{Bucket: "b", SpoolDir: t.TempDir()}, fake)

	w, err := c.Create(ctx, "a.jsonl", interfaces.CreateOptions{ContentType: "application/x-ndjson"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	w.Write([]byte("{}\n"))
	if ok, _ := c.Exists(ctx, "a.jsonl"); ok {
		t.Fatal("object visible before Commit")
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if string(fake.objects["a.jsonl"]) != "{}\n" {
		t.Errorf("object = %q", fake.objects["a.jsonl"])
	}

	w, _ = c.Create(ctx, "a.jsonl", interfaces.CreateOptions{})
	if err := w.Commit(); !errors.Is(err, exerrors.ErrPathExists) {
		t.Errorf("Commit() error = %v, want PathExists", err)
	}
}

func TestCommit_Multipart(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	c := newClient(Config{Bucket: "b", PartSize: 4, SpoolDir: t.TempDir()}, fake)

	w, _ := c.Create(ctx, "big.csv", interfaces.CreateOptions{})
	w.Write([]byte("0123456789"))
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if string(fake.objects["big.csv"]) != "0123456789" {
		t.Errorf("object = %q", fake.objects["big.csv"])
	}
	if len(fake.parts) != 3 {
		t.Errorf("uploaded %d parts, want 3", len(fake.parts))
	}
}

func TestAbort(t *testing.T) {
	fake := newFakeS3()
	c := newClient(Config{Bucket: "b", SpoolDir: t.TempDir()}, fake)
	w, _ := c.Create(context.Background(), "x.csv", interfaces.CreateOptions{})
	w.Write([]byte("partial"))
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort() error: %v", err)
	}
	if len(fake.objects) != 0 {
		t.Errorf("aborted object was uploaded")
	}
}
