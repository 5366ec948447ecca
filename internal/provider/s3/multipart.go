package s3

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"
	"github.com/openmined/syftsync/internal/utils"
	"golang.org/x/sync/errgroup"
)

func (p *Provider) uploadMultipart(ctx context.Context, key string, content []byte) error {
	created, err := p.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      &p.bucket,
		Key:         &key,
		ContentType: aws.String(utils.DetectContentType(key)),
	})
	if err != nil {
		return classify("upload", key, err)
	}
	uploadID := created.UploadId

	size := int64(len(content))
	numParts := int((size + p.partSize - 1) / p.partSize)
	parts := make([]types.CompletedPart, numParts)

	slog.Debug("s3 multipart upload", "key", key, "size", humanize.Bytes(uint64(size)), "parts", numParts)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.partConcurrency)
	for i := range numParts {
		start := int64(i) * p.partSize
		end := min(start+p.partSize, size)
		partNumber := aws.Int32(int32(i + 1))
		g.Go(func() error {
			out, err := p.client.UploadPart(gctx, &s3.UploadPartInput{
				Bucket:        &p.bucket,
				Key:           &key,
				UploadId:      uploadID,
				PartNumber:    partNumber,
				Body:          bytes.NewReader(content[start:end]),
				ContentLength: aws.Int64(end - start),
			})
			if err != nil {
				return err
			}
			parts[i] = types.CompletedPart{ETag: out.ETag, PartNumber: partNumber}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.abortMultipart(key, uploadID)
		return classify("upload", key, err)
	}

	_, err = p.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          &p.bucket,
		Key:             &key,
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		p.abortMultipart(key, uploadID)
		return classify("upload", key, err)
	}
	return nil
}

func (p *Provider) abortMultipart(key string, uploadID *string) {
	// the pass context may already be cancelled
	_, err := p.client.AbortMultipartUpload(context.Background(), &s3.AbortMultipartUploadInput{
		Bucket:   &p.bucket,
		Key:      &key,
		UploadId: uploadID,
	})
	if err != nil {
		slog.Warn("s3 abort multipart upload", "key", key, "error", err)
	}
}
