// Package attachments uploads attachment blobs to object storage.
// Blob content goes up in the clear: in the current design only the
// text caption passes through the crypto pipeline, and the blob URL
// travels inside the envelope metadata. That asymmetry is preserved
// deliberately; see the design notes.
package attachments

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"time"

	"cipherchat/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

type S3Config struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	PublicBase string
	UploadTTL  time.Duration
}

type Uploader struct {
	cfg S3Config
	s3  *s3.Client
}

func NewUploader(ctx context.Context, cfg S3Config) (*Uploader, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 region and bucket are required")
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if parsed, err := url.Parse(endpoint); err == nil {
			endpoint = parsed.String()
		}
		opts = append(opts, config.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				if service == s3.ServiceID {
					return aws.Endpoint{URL: endpoint, SigningRegion: cfg.Region}, nil
				}
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			}),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	return &Uploader{cfg: cfg, s3: s3Client}, nil
}

// Upload stores one blob and returns the attachment reference that
// rides along with the encrypted caption.
func (u *Uploader) Upload(ctx context.Context, fileName, contentType string, size int64, body io.Reader) (domain.Attachment, error) {
	if fileName == "" {
		return domain.Attachment{}, errors.New("file name is required")
	}

	key := path.Join("attachments", uuid.New().String()+path.Ext(fileName))
	input := &s3.PutObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := u.s3.PutObject(ctx, input); err != nil {
		return domain.Attachment{}, err
	}

	return domain.Attachment{
		URL:         u.FileURL(key),
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   size,
	}, nil
}

func (u *Uploader) FileURL(key string) string {
	if u == nil || key == "" {
		return ""
	}
	if u.cfg.PublicBase != "" {
		return u.cfg.PublicBase + "/" + key
	}
	if u.cfg.Endpoint != "" {
		return u.cfg.Endpoint + "/" + u.cfg.Bucket + "/" + key
	}
	return "https://" + u.cfg.Bucket + ".s3." + u.cfg.Region + ".amazonaws.com/" + key
}
