package upload

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/zwfm-soundgate/internal/config"
	"github.com/oszuidwest/zwfm-soundgate/internal/types"
	"github.com/oszuidwest/zwfm-soundgate/internal/util"
)

// putObjectAPI is the subset of the S3 client used for uploads.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Client stores each session as one object.
type S3Client struct {
	api    putObjectAPI
	bucket string
	prefix string
}

// NewS3Client creates a client for an S3-compatible bucket.
func NewS3Client(cfg config.S3Config) (*S3Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket not configured")
	}
	return &S3Client{
		api:    createS3Client(&cfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// createS3Client creates an S3 client with the given configuration.
func createS3Client(cfg *config.S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = cfg.Region
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// ObjectKey returns the key for a session: <prefix>/<YYYY-MM-DD>/<device>-<session>.pcm.
func (c *S3Client) ObjectKey(p *types.Payload) string {
	day := p.StartedAt.UTC().Format("2006-01-02")
	return path.Join(c.prefix, day, p.DeviceID+"-"+p.SessionID+".pcm")
}

// Upload implements Client.
func (c *S3Client) Upload(ctx context.Context, p *types.Payload) (types.UploadResult, error) {
	if err := checkPayload(p); err != nil {
		return types.UploadResult{}, err
	}

	key := c.ObjectKey(p)
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(p.Data),
		ContentLength: aws.Int64(int64(len(p.Data))),
		ContentType:   aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"device-id":   p.DeviceID,
			"sample-rate": strconv.Itoa(p.SampleRate),
			"format":      types.SampleFormat,
			"channels":    strconv.Itoa(types.Channels),
		},
	})
	if err != nil {
		return types.UploadResult{}, util.WrapError("upload "+key, err)
	}
	return types.UploadResult{StatusCode: http.StatusOK, BytesSent: int64(len(p.Data))}, nil
}
