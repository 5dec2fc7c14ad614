package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// multipartThreshold is the body size above which Put switches to the
// multipart uploader. It is also S3's minimum part size.
const multipartThreshold = 5 * 1024 * 1024

// Writer implements domain.BlobWriter.
type Writer struct {
	client   *Client
	uploader *manager.Uploader
}

// NewWriter creates a Writer for c's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c,
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) {
			u.PartSize = multipartThreshold
		}),
	}
}

// sized is implemented by bytes.Reader and strings.Reader.
type sized interface {
	Len() int
}

// Put uploads data under the client's prefix. Bodies of unknown size or
// larger than the multipart threshold go through the multipart uploader.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	key := w.client.Key(path)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.client.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	}

	if s, ok := data.(sized); ok && s.Len() <= multipartThreshold {
		if _, err := w.client.s3.PutObject(ctx, input); err != nil {
			return fmt.Errorf("s3blob: put object %s: %w", key, err)
		}
		return nil
	}
	if _, err := w.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
