package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/openmined/syftsync/internal/provider"
	"github.com/openmined/syftsync/internal/utils"
)

const deleteBatch = 1000

func prefixOf(dir string) string {
	if dir == "" {
		return ""
	}
	return strings.TrimSuffix(dir, "/") + "/"
}

func cleanETag(etag *string) string {
	return strings.ReplaceAll(aws.ToString(etag), "\"", "")
}

// ListFiles lists every object under dir. Folders come from "dir/" marker
// objects and from the parents of object keys.
func (p *Provider) ListFiles(ctx context.Context, dir string) ([]provider.Entry, error) {
	prefix := prefixOf(dir)
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: &p.bucket,
		Prefix: aws.String(prefix),
	})

	var objects []types.Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("list", dir, err)
		}
		objects = append(objects, page.Contents...)
	}
	return entriesFromObjects(dir, objects), nil
}

func entriesFromObjects(dir string, objects []types.Object) []provider.Entry {
	prefix := prefixOf(dir)
	folders := make(map[string]provider.Entry)
	entries := make([]provider.Entry, 0, len(objects))

	addParents := func(key string) {
		for parent := path.Dir(key); parent != "." && parent != "/" && strings.HasPrefix(parent+"/", prefix) && parent+"/" != prefix; parent = path.Dir(parent) {
			if _, ok := folders[parent]; !ok {
				folders[parent] = provider.Entry{Path: parent, Name: path.Base(parent), IsFolder: true}
			}
		}
	}

	for _, obj := range objects {
		key := aws.ToString(obj.Key)
		if key == prefix || key == "" {
			continue
		}
		if strings.HasSuffix(key, "/") {
			folder := strings.TrimSuffix(key, "/")
			folders[folder] = provider.Entry{
				Path:         folder,
				Name:         path.Base(folder),
				IsFolder:     true,
				ModifiedTime: aws.ToTime(obj.LastModified),
			}
			addParents(folder)
			continue
		}
		entries = append(entries, provider.Entry{
			Path:         key,
			Name:         path.Base(key),
			Size:         aws.ToInt64(obj.Size),
			ModifiedTime: aws.ToTime(obj.LastModified),
			ETag:         cleanETag(obj.ETag),
		})
		addParents(key)
	}

	for _, f := range folders {
		entries = append(entries, f)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

func (p *Provider) UploadFile(ctx context.Context, key string, content []byte) (*provider.Entry, error) {
	if int64(len(content)) >= p.multipartThreshold {
		if err := p.uploadMultipart(ctx, key, content); err != nil {
			return nil, err
		}
	} else {
		_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        &p.bucket,
			Key:           &key,
			Body:          bytes.NewReader(content),
			ContentLength: aws.Int64(int64(len(content))),
			ContentType:   aws.String(utils.DetectContentType(key)),
		})
		if err != nil {
			return nil, classify("upload", key, err)
		}
	}
	// PutObject has no LastModified, ask for the stored one
	return p.Stat(ctx, key)
}

func (p *Provider) Stat(ctx context.Context, key string) (*provider.Entry, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &p.bucket, Key: &key})
	if err != nil {
		return nil, classify("stat", key, err)
	}
	return &provider.Entry{
		Path:         key,
		Name:         path.Base(key),
		Size:         aws.ToInt64(out.ContentLength),
		ModifiedTime: aws.ToTime(out.LastModified),
		ETag:         cleanETag(out.ETag),
	}, nil
}

func (p *Provider) OpenFile(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket:       &p.bucket,
		Key:          &key,
		ChecksumMode: types.ChecksumModeEnabled,
	})
	if err != nil {
		return nil, classify("download", key, err)
	}
	return out.Body, nil
}

func (p *Provider) DownloadFileContent(ctx context.Context, key string) ([]byte, error) {
	body, err := p.OpenFile(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	content, err := io.ReadAll(body)
	if err != nil {
		return nil, classify("download", key, err)
	}
	return content, nil
}

// DeleteFile is idempotent, S3 does not fail on missing keys.
func (p *Provider) DeleteFile(ctx context.Context, key string) error {
	if _, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &p.bucket, Key: &key}); err != nil {
		return classify("delete", key, err)
	}
	return nil
}

// DeleteFolder removes every key under dir, including its marker.
func (p *Provider) DeleteFolder(ctx context.Context, dir string) error {
	if dir == "" {
		return provider.NewError(provider.KindNotSupported, "delete folder", dir, fmt.Errorf("refusing to empty bucket %s", p.bucket))
	}
	prefix := prefixOf(dir)
	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: &p.bucket,
		Prefix: aws.String(prefix),
	})

	var ids []types.ObjectIdentifier
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return classify("delete folder", dir, err)
		}
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
	}

	for start := 0; start < len(ids); start += deleteBatch {
		end := min(start+deleteBatch, len(ids))
		out, err := p.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: &p.bucket,
			Delete: &types.Delete{Objects: ids[start:end], Quiet: aws.Bool(true)},
		})
		if err != nil {
			return classify("delete folder", dir, err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return provider.NewError(provider.KindUnknown, "delete folder", aws.ToString(e.Key),
				fmt.Errorf("%s: %s (%d failed)", aws.ToString(e.Code), aws.ToString(e.Message), len(out.Errors)))
		}
	}
	return nil
}

// CreateFolder is unsupported, buckets have no folders. Callers fall back to a marker file.
func (p *Provider) CreateFolder(ctx context.Context, dir string) error {
	return provider.NewError(provider.KindNotSupported, "create folder", dir, nil)
}

func (p *Provider) FolderExists(ctx context.Context, dir string) (bool, error) {
	if dir == "" {
		return true, nil
	}
	out, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  &p.bucket,
		Prefix:  aws.String(prefixOf(dir)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, classify("folder exists", dir, err)
	}
	return aws.ToInt32(out.KeyCount) > 0 || len(out.Contents) > 0, nil
}
