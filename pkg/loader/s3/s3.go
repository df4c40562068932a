package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/meridian-hq/atlas/backend/pkg/loader"
)

// S3GraphFileLoader fetches file content from an S3 bucket. It is the base
// loader in deployments where uploaded documents live in object storage;
// format-specific loaders wrap it to parse what it returns.
type S3GraphFileLoader struct {
	bucket string
	client *s3.Client
	cache  *loader.ContentCache
}

// NewS3GraphFileLoaderWithClient wraps an existing s3.Client, for callers
// that already carry a configured client.
func NewS3GraphFileLoaderWithClient(bucket string, client *s3.Client) *S3GraphFileLoader {
	return &S3GraphFileLoader{
		bucket: bucket,
		client: client,
		cache:  loader.NewContentCache(),
	}
}

// NewS3GraphFileLoaderParams configures a fresh S3 client. Endpoint may
// point at any S3-compatible store, such as MinIO.
type NewS3GraphFileLoaderParams struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3GraphFileLoader builds a loader with its own S3 client using static
// credentials and the given endpoint and region.
func NewS3GraphFileLoader(ctx context.Context, params NewS3GraphFileLoaderParams) (*S3GraphFileLoader, error) {
	creds := credentials.NewStaticCredentialsProvider(params.AccessKey, params.SecretKey, "")
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(params.Region),
		config.WithBaseEndpoint(params.Endpoint),
		config.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewS3GraphFileLoaderWithClient(params.Bucket, s3.NewFromConfig(cfg)), nil
}

// GetFileText downloads the object at the file's path. Downloads are cached
// per file.
func (l *S3GraphFileLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	return l.cache.GetOrFill(loader.CacheKey(file), func() ([]byte, error) {
		out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(l.bucket),
			Key:    aws.String(file.FilePath),
		})
		if err != nil {
			return nil, err
		}
		defer out.Body.Close()

		return io.ReadAll(out.Body)
	})
}
