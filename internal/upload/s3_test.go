package upload

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestKey(t *testing.T) {
	assert.Equal(t, "mut-hologram/final.mp4", Key("mut-hologram", "/tmp/s/final.mp4"))
	assert.Equal(t, "a/b/final.mp4", Key("/a/b/", "final.mp4"))
	assert.Equal(t, "final.mp4", Key("", "/x/final.mp4"))
}

func TestPublicURL(t *testing.T) {
	assert.Equal(t,
		"https://mut-demo-2025.s3.ap-northeast-2.amazonaws.com/mut-hologram/final.mp4",
		PublicURL("mut-demo-2025", "ap-northeast-2", "mut-hologram/final.mp4"))
}

func TestUpload(t *testing.T) {
	file := filepath.Join(t.TempDir(), "final.mp4")
	require.NoError(t, os.WriteFile(file, []byte("video-bytes"), 0644))

	client := &fakeS3{}
	u, err := New(zerolog.Nop(), client, Options{Bucket: "mut-demo-2025", Region: "ap-northeast-2", ACL: "public-read"})
	require.NoError(t, err)

	res, err := u.Upload(context.Background(), file, "mut-hologram")
	require.NoError(t, err)

	assert.Equal(t, "mut-hologram/final.mp4", res.Key)
	assert.Equal(t, "https://mut-demo-2025.s3.ap-northeast-2.amazonaws.com/mut-hologram/final.mp4", res.URL)
	assert.Equal(t, "mut-demo-2025", aws.ToString(client.input.Bucket))
	assert.Equal(t, "video/mp4", aws.ToString(client.input.ContentType))
	assert.Equal(t, types.ObjectCannedACLPublicRead, client.input.ACL)
	assert.Equal(t, []byte("video-bytes"), client.body)
}

func TestUploadFailure(t *testing.T) {
	file := filepath.Join(t.TempDir(), "final.mp4")
	require.NoError(t, os.WriteFile(file, []byte("v"), 0644))

	u, err := New(zerolog.Nop(), &fakeS3{err: errors.New("AccessDenied")}, Options{Bucket: "b", Region: "r"})
	require.NoError(t, err)

	_, err = u.Upload(context.Background(), file, "f")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://b/f/final.mp4")
	assert.Contains(t, err.Error(), "AccessDenied")

	_, err = u.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), "f")
	assert.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	_, err := New(zerolog.Nop(), &fakeS3{}, Options{Region: "r"})
	assert.Error(t, err)
	_, err = New(zerolog.Nop(), &fakeS3{}, Options{Bucket: "b"})
	assert.Error(t, err)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", contentType("frame_5s.JPG"))
	assert.Equal(t, "application/octet-stream", contentType("x.bin"))
}
