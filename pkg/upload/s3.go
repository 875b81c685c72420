package upload

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/go-hclog"
)

type putter interface {
	PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads files as objects under a bucket prefix.
type S3 struct {
	l      hclog.Logger
	client putter
	bucket string
	prefix string
}

// NewS3 returns an s3 uploader using the default credential chain.
func NewS3(ctx context.Context, l hclog.Logger, s S3Settings) (*S3, error) {
	if s.Bucket == "" {
		return nil, errors.New("s3 bucket is not set")
	}
	var opts []func(*config.LoadOptions) error
	if s.Region != "" {
		opts = append(opts, config.WithRegion(s.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3{l: l.Named("s3"), client: client, bucket: s.Bucket, prefix: s.Prefix}, nil
}

// Name implements Uploader.
func (u *S3) Name() string { return "s3" }

// Sync implements Uploader.
func (u *S3) Sync(ctx context.Context, dir string, files []string) error {
	rel, err := relative(dir, files)
	if err != nil {
		return err
	}
	for _, key := range rel {
		if err := u.put(ctx, filepath.Join(dir, filepath.FromSlash(key)), path.Join(u.prefix, key)); err != nil {
			return err
		}
	}
	return nil
}

func (u *S3) put(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return err
	}
	u.l.Trace("Uploaded object", "bucket", u.bucket, "key", key)
	return nil
}
