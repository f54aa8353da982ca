// Package upload publishes the finished video to S3.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/8bitGames/creative-mut-app/internal/logging"
)

// PutObjectAPI is the part of the S3 client the uploader needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options names the destination.
type Options struct {
	Bucket string
	Region string
	// ACL is a canned ACL; empty leaves the bucket default.
	ACL string
}

// Result is a completed upload.
type Result struct {
	Key string
	URL string
}

// Uploader puts files into one bucket.
type Uploader struct {
	client PutObjectAPI
	opts   Options
	logger zerolog.Logger
}

// New creates an Uploader around client.
func New(logger zerolog.Logger, client PutObjectAPI, opts Options) (*Uploader, error) {
	if opts.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if opts.Region == "" {
		return nil, errors.New("region is required")
	}
	return &Uploader{
		client: client,
		opts:   opts,
		logger: logging.Component(logger, "upload"),
	}, nil
}

// NewFromEnv builds an S3 client from the default AWS credential chain.
func NewFromEnv(ctx context.Context, logger zerolog.Logger, opts Options) (*Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return New(logger, s3.NewFromConfig(cfg), opts)
}

// Key returns the object key for file under folder.
func Key(folder, file string) string {
	base := filepath.Base(file)
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return base
	}
	return path.Join(folder, base)
}

// PublicURL returns the virtual-hosted URL of key.
func PublicURL(bucket, region, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}

// Upload puts file under folder and returns its key and public URL.
func (u *Uploader) Upload(ctx context.Context, file, folder string) (*Result, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	key := Key(folder, file)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.opts.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(file)),
	}
	if u.opts.ACL != "" {
		input.ACL = types.ObjectCannedACL(u.opts.ACL)
	}

	u.logger.Info().Str("bucket", u.opts.Bucket).Str("key", key).Msg("uploading")
	if _, err := u.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("put s3://%s/%s: %w", u.opts.Bucket, key, err)
	}

	res := &Result{Key: key, URL: PublicURL(u.opts.Bucket, u.opts.Region, key)}
	u.logger.Info().Str("url", res.URL).Msg("upload complete")
	return res, nil
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}
