package watermark

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"detectedits-go/internal/detect"
)

// S3Options configures an S3Store.
type S3Options struct {
	Bucket string
	Key    string
	Region string

	// Endpoint, if set, targets an S3-compatible service with path-style
	// addressing.
	Endpoint string

	// Static credentials. When empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store keeps the watermark document as a single S3 object. An object
// replacement is atomic, so readers see either the old or new document.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	key      string
	mu       sync.Mutex
}

// NewS3Store creates a store from opts, loading the AWS configuration.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" || opts.Key == "" {
		return nil, fmt.Errorf("s3 watermark store requires s3_bucket and s3_key to be set")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StoreFromClient(client, opts.Bucket, opts.Key), nil
}

// NewS3StoreFromClient creates a store using an existing client.
func NewS3StoreFromClient(client *s3.Client, bucket, key string) *S3Store {
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		key:      key,
	}
}

func (s *S3Store) Read(ctx context.Context, layerID int) (detect.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return detect.Watermark{}, err
	}
	w, ok := doc.Lookup(layerID)
	if !ok {
		return detect.Watermark{}, detect.ErrWatermarkNotFound
	}
	return w, nil
}

func (s *S3Store) Write(ctx context.Context, layerID int, w detect.Watermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	doc.Set(layerID, w)
	return s.save(ctx, doc)
}

func (s *S3Store) Delete(ctx context.Context, layerID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	if !doc.Delete(layerID) {
		return nil
	}
	return s.save(ctx, doc)
}

func (s *S3Store) Close() error {
	return nil
}

// load fetches the document. A missing object is an empty document.
func (s *S3Store) load(ctx context.Context) (*Document, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return &Document{}, nil
		}
		return nil, fmt.Errorf("getting s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()

	doc, err := DecodeDocument(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return doc, nil
}

func (s *S3Store) save(ctx context.Context, doc *Document) error {
	data, err := doc.Encode()
	if err != nil {
		return err
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

var _ Store = (*S3Store)(nil)
