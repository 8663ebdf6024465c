package covers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jmoiron/sqlx"

	"github.com/erazemk/knjiznica/internal/model"
	"github.com/erazemk/knjiznica/internal/store"
)

// S3Config configures an S3Store. Empty credentials fall back to the default
// AWS credential chain.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	// HTTPClient replaces the SDK transport.
	HTTPClient *http.Client
}

// S3Store keeps cover bytes in a bucket under covers/<book id>. The book
// row still records the cover type so listings know a cover exists.
type S3Store struct {
	client *s3.Client
	bucket string
	db     *sqlx.DB
}

// NewS3Store creates an S3Store.
func NewS3Store(ctx context.Context, cfg S3Config, db *sqlx.DB) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		}
	})
	return &S3Store{client: client, bucket: cfg.Bucket, db: db}, nil
}

func objectKey(bookID int64) string {
	return fmt.Sprintf("covers/%d", bookID)
}

func (s *S3Store) Put(ctx context.Context, bookID int64, data []byte, mime string) error {
	ok, err := store.BookExists(ctx, s.db, bookID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: book %d", model.ErrNotFound, bookID)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey(bookID)),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(mime),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("uploading cover: %w", err)
	}
	return store.SetBookCoverMime(ctx, s.db, bookID, mime)
}

func (s *S3Store) Get(ctx context.Context, bookID int64) ([]byte, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(bookID)),
	})
	if isNotFound(err) {
		return nil, "", fmt.Errorf("%w: cover of book %d", model.ErrNotFound, bookID)
	}
	if err != nil {
		return nil, "", fmt.Errorf("downloading cover: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading cover: %w", err)
	}
	return data, aws.ToString(out.ContentType), nil
}

func (s *S3Store) Delete(ctx context.Context, bookID int64) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(bookID)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting cover: %w", err)
	}
	return store.SetBookCoverMime(ctx, s.db, bookID, "")
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
