package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	// minPartSize is the S3 floor for multipart parts.
	minPartSize int64 = 5 << 20
	jsonlType         = "application/x-ndjson"
)

// Writer uploads archive files to the client's bucket.
type Writer struct {
	api    *s3.Client
	bucket string
}

func NewWriter(c *Client) *Writer {
	return &Writer{api: c.api, bucket: c.bucket}
}

func (w *Writer) input(key string, body io.Reader, contentType string) *s3.PutObjectInput {
	return &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
}

// Put stores data with a single PutObject.
func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	if _, err := w.api.PutObject(ctx, w.input(key, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

// PutMultipart streams JSONL data through the upload manager. partSize is
// raised to the 5 MiB minimum.
func (w *Writer) PutMultipart(ctx context.Context, key string, data io.Reader, partSize int64) error {
	uploader := manager.NewUploader(w.api, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	if _, err := uploader.Upload(ctx, w.input(key, data, jsonlType)); err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", key, err)
	}
	return nil
}
