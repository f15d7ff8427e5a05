package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/format"
)

// S3API is the part of the S3 client the store needs
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps tiles in a bucket under prefix/layer/z/x/y.ext
type S3Store struct {
	Client S3API
	Bucket string
	Prefix string
}

func (s S3Store) key(layer string, f format.Format, c coord.Coord) string {
	return path.Join(s.Prefix, TilePath(layer, f, c))
}

func (s S3Store) WriteTile(ctx context.Context, layer string, f format.Format, c coord.Coord, data []byte) error {
	key := s.key(layer, f, c)
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(f.MimeType),
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", s.Bucket, key, err)
	}
	return nil
}

func (s S3Store) ReadTile(ctx context.Context, layer string, f format.Format, c coord.Coord) ([]byte, error) {
	key := s.key(layer, f, c)
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", s.Bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", s.Bucket, key, err)
	}
	return data, nil
}
