package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/meridian-hq/atlas/backend/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// downloadLinkTTL bounds how long a presigned download URL stays valid.
const downloadLinkTTL = 15 * time.Minute

// NewS3Client builds an S3 client from S3_REGION, S3_ENDPOINT, S3_ACCESS_KEY
// and S3_SECRET_KEY. Path-style addressing is forced so MinIO and other
// S3-compatible stores work without wildcard DNS.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(util.GetEnv("S3_REGION")),
		config.WithBaseEndpoint(util.GetEnv("S3_ENDPOINT")),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			util.GetEnv("S3_ACCESS_KEY"), util.GetEnv("S3_SECRET_KEY"), "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

func bucket() string {
	return util.GetEnv("S3_BUCKET")
}

// PutFile stores a file under <tenant>/<key><ext>, where ext is taken from
// the original filename, and returns the stored key.
func PutFile(ctx context.Context, client *s3.Client, tenantID, filename, key string, file io.ReadSeeker) (string, error) {
	ext := strings.ToLower(path.Ext(filename))
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	fileKey := fmt.Sprintf("%s/%s%s", tenantID, key, ext)
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket()),
		Key:         aws.String(fileKey),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file to S3: %w", err)
	}

	return fileKey, nil
}

func GetFile(ctx context.Context, client *s3.Client, key string) ([]byte, error) {
	obj, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket()),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get file from S3: %w", err)
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file contents: %w", err)
	}
	return data, nil
}

func DeleteFile(ctx context.Context, client *s3.Client, key string) error {
	_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket()),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete file from S3: %w", err)
	}

	return nil
}

// DeleteFolder removes every object under prefix, page by page.
func DeleteFolder(ctx context.Context, client *s3.Client, prefix string) error {
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket()),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects under %s: %w", prefix, err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		objects := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}

		_, err = client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket()),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects under %s: %w", prefix, err)
		}
	}

	return nil
}

func ListFilesWithPrefix(ctx context.Context, client *s3.Client, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket()),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	return keys, nil
}

// publicBase splits S3_PUBLIC_ENDPOINT into the scheme://host base that
// download links are signed against and an optional path prefix to graft
// onto signed paths.
func publicBase() (string, string, error) {
	endpoint := util.GetEnv("S3_PUBLIC_ENDPOINT")
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", "", fmt.Errorf("invalid S3_PUBLIC_ENDPOINT: %s", endpoint)
	}
	return parsed.Scheme + "://" + parsed.Host, strings.TrimSuffix(parsed.Path, "/"), nil
}

// GetDownloadLink presigns a GET for key. The URL is signed against
// S3_PUBLIC_ENDPOINT so the Host header matches what browsers send.
func GetDownloadLink(ctx context.Context, baseClient *s3.Client, key string) (string, error) {
	base, prefix, err := publicBase()
	if err != nil {
		return "", err
	}

	// The presigner reuses the base client's credentials but signs for the
	// public endpoint, since signatures cover the host.
	baseOpts := baseClient.Options()
	presigner := s3.NewPresignClient(s3.NewFromConfig(aws.Config{
		Region:      baseOpts.Region,
		Credentials: baseOpts.Credentials,
		HTTPClient:  baseOpts.HTTPClient,
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(base)
		o.UsePathStyle = true
	}))

	out, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket()),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(downloadLinkTTL))
	if err != nil {
		return "", fmt.Errorf("failed to generate download link: %w", err)
	}
	if prefix == "" {
		return out.URL, nil
	}

	signed, err := url.Parse(out.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse presigned url: %w", err)
	}
	signed.Path = prefix + signed.Path
	return signed.String(), nil
}
