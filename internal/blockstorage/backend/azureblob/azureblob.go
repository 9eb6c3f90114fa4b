// Package azureblob implements the object-storage backend.ReadWriter
// contract against Azure Blob Storage, completing the set of "module
// variants (AWS/Azure/GCP)" called out in spec.md §2's implementation
// budget, alongside the s3 and gcs backends in this tree.
package azureblob

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/testprobe/testprobe/internal/blockstorage/backend"
)

// Config configures the Azure-backed object-storage client. Bucket names
// passed to Fetch/Get/Put are treated as Azure container names.
type Config struct {
	ServiceURL string `yaml:"service_url,omitempty"`
}

type readerWriter struct {
	client *azblob.Client
}

// New builds an Azure Blob client using the default Azure credential
// chain (environment, managed identity, CLI login — whichever resolves
// in the running environment).
func New(cfg Config, cred azcore.TokenCredential) (backend.ReadWriter, error) {
	client, err := azblob.NewClient(cfg.ServiceURL, cred, nil)
	if err != nil {
		return nil, err
	}
	return &readerWriter{client: client}, nil
}

func (rw *readerWriter) Fetch(ctx context.Context, bucket, prefix string) ([]backend.Object, error) {
	var objs []backend.Object

	pager := rw.client.NewListBlobsFlatPager(bucket, &azblob.ListBlobsFlatOptions{Prefix: to.Ptr(prefix)})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Segment.BlobItems {
			name := *item.Name
			data, err := rw.Get(ctx, bucket, name)
			if err != nil {
				return nil, err
			}
			objs = append(objs, backend.Object{
				Path: strings.TrimPrefix(name, prefix+"/"),
				Data: data,
			})
		}
	}
	return objs, nil
}

func (rw *readerWriter) Get(ctx context.Context, bucket, path string) ([]byte, error) {
	out, err := rw.client.DownloadStream(ctx, bucket, path, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil, backend.ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	buf := bytes.Buffer{}
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (rw *readerWriter) Put(ctx context.Context, bucket, path string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	_, err = rw.client.UploadBuffer(ctx, bucket, path, data, nil)
	return err
}

func (rw *readerWriter) Shutdown() {}
