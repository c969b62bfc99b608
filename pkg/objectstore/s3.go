package objectstore

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	metaHash     = "hash"
	metaRevision = "revision"
	metaSize     = "size"
)

// S3Store implements Store on AWS S3.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates an object store rooted at bucket.
func NewS3Store(client *s3.Client, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, meta Metadata) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		Metadata: map[string]string{
			metaHash:     meta.Hash,
			metaRevision: strconv.FormatInt(meta.Revision, 10),
			metaSize:     strconv.FormatInt(meta.Size, 10),
		},
	})
	if err != nil {
		return fmt.Errorf("uploading snapshot %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, Metadata, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("fetching snapshot %s: %w", key, err)
	}
	return out.Body, metadataFrom(out.Metadata), nil
}

func (s *S3Store) Latest(ctx context.Context, clusterPrefix string) (*Object, error) {
	var latest *Object
	var continuationToken *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(clusterPrefix + "/"),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("listing snapshots under %s: %w", clusterPrefix, err)
		}
		for _, obj := range out.Contents {
			if latest == nil || obj.LastModified.After(latest.LastModified) {
				latest = &Object{
					Key:          aws.ToString(obj.Key),
					LastModified: aws.ToTime(obj.LastModified),
				}
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuationToken = out.NextContinuationToken
	}
	if latest == nil {
		return nil, nil
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(latest.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("heading latest snapshot %s: %w", latest.Key, err)
	}
	latest.Metadata = metadataFrom(head.Metadata)
	return latest, nil
}

func metadataFrom(m map[string]string) Metadata {
	rev, _ := strconv.ParseInt(m[metaRevision], 10, 64)
	size, _ := strconv.ParseInt(m[metaSize], 10, 64)
	return Metadata{Hash: m[metaHash], Revision: rev, Size: size}
}

var _ Store = (*S3Store)(nil)
