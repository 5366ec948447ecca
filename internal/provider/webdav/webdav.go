// Package webdav is the backend for WebDAV servers such as Nextcloud or
// Apache mod_dav.
package webdav

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/provider"
	"github.com/openmined/syftsync/internal/version"
)

const maxErrorBody = 256

type Provider struct {
	name      string
	base      *url.URL
	client    *req.Client
	connected atomic.Bool
}

var (
	_ provider.Provider          = (*Provider)(nil)
	_ provider.ContentDownloader = (*Provider)(nil)
	_ provider.StreamDownloader  = (*Provider)(nil)
	_ provider.Mover             = (*Provider)(nil)
	_ provider.Statter           = (*Provider)(nil)
)

func New(name string, cfg config.WebDAVConfig) (*Provider, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("webdav: invalid url %q: %w", cfg.URL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("webdav: unsupported url scheme %q", base.Scheme)
	}

	// no client-level retries: provider.Retry owns them
	client := req.C().
		SetTimeout(2*time.Minute).
		SetUserAgent(fmt.Sprintf("%s/%s", version.AppName, version.Version))
	if cfg.Username != "" {
		client.SetCommonBasicAuth(cfg.Username, cfg.Password)
	}

	return &Provider{name: name, base: base, client: client}, nil
}

func (p *Provider) Name() string      { return p.name }
func (p *Provider) IsConnected() bool { return p.connected.Load() }

func (p *Provider) urlFor(rel string, folder bool) string {
	u := *p.base
	u.Path = path.Join("/", p.base.Path, rel)
	if (folder || rel == "") && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String()
}

func statusErr(op, rel string, resp *req.Response) error {
	body := resp.String()
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	if err := provider.FromHTTPStatus(op, rel, resp.StatusCode, strings.TrimSpace(body)); err != nil {
		return err
	}
	return provider.NewError(provider.KindUnknown, op, rel, fmt.Errorf("unexpected status %s", resp.Status))
}

func (p *Provider) propfind(ctx context.Context, rel string, depth string) ([]resource, *req.Response, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Depth", depth).
		SetHeader("Content-Type", "application/xml; charset=utf-8").
		SetBodyString(propfindBody).
		Send("PROPFIND", p.urlFor(rel, false))
	if err != nil {
		return nil, nil, provider.NewError(provider.KindOf(err), "propfind", rel, err)
	}
	if resp.StatusCode != http.StatusMultiStatus {
		return nil, resp, statusErr("propfind", rel, resp)
	}
	resources, err := parseMultistatus(resp.Bytes(), p.base.Path)
	if err != nil {
		return nil, resp, provider.NewError(provider.KindUnknown, "propfind", rel, err)
	}
	return resources, resp, nil
}

func (p *Provider) Connect(ctx context.Context) error {
	if _, _, err := p.propfind(ctx, "", "0"); err != nil {
		p.connected.Store(false)
		return err
	}
	p.connected.Store(true)
	return nil
}

// ListFiles walks the tree one Depth: 1 request per folder, since many
// servers refuse Depth: infinity.
func (p *Provider) ListFiles(ctx context.Context, dir string) ([]provider.Entry, error) {
	entries := make([]provider.Entry, 0)
	queue := []string{dir}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		resources, _, err := p.propfind(ctx, current, "1")
		if err != nil {
			if provider.IsNotFound(err) && current == dir {
				return entries, nil
			}
			return nil, err
		}
		for _, r := range resources {
			if r.path == current || r.path == "" {
				continue
			}
			entries = append(entries, toEntry(r))
			if r.isFolder {
				queue = append(queue, r.path)
			}
		}
	}
	return entries, nil
}

func toEntry(r resource) provider.Entry {
	return provider.Entry{
		Path:         r.path,
		Name:         path.Base(r.path),
		IsFolder:     r.isFolder,
		Size:         r.size,
		ModifiedTime: r.modified,
		ETag:         r.etag,
	}
}

func (p *Provider) Stat(ctx context.Context, rel string) (*provider.Entry, error) {
	resources, _, err := p.propfind(ctx, rel, "0")
	if err != nil {
		return nil, err
	}
	if len(resources) == 0 {
		return nil, provider.NewError(provider.KindNotFound, "stat", rel, nil)
	}
	e := toEntry(resources[0])
	e.Path = rel
	e.Name = path.Base(rel)
	return &e, nil
}

func (p *Provider) UploadFile(ctx context.Context, rel string, content []byte) (*provider.Entry, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBodyBytes(content).
		Put(p.urlFor(rel, false))
	if err != nil {
		return nil, provider.NewError(provider.KindOf(err), "upload", rel, err)
	}
	if !resp.IsSuccessState() {
		return nil, statusErr("upload", rel, resp)
	}
	return p.Stat(ctx, rel)
}

func (p *Provider) OpenFile(ctx context.Context, rel string) (io.ReadCloser, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		DisableAutoReadResponse().
		Get(p.urlFor(rel, false))
	if err != nil {
		return nil, provider.NewError(provider.KindOf(err), "download", rel, err)
	}
	if !resp.IsSuccessState() {
		defer resp.Body.Close()
		return nil, statusErr("download", rel, resp)
	}
	return resp.Body, nil
}

func (p *Provider) DownloadFileContent(ctx context.Context, rel string) ([]byte, error) {
	resp, err := p.client.R().SetContext(ctx).Get(p.urlFor(rel, false))
	if err != nil {
		return nil, provider.NewError(provider.KindOf(err), "download", rel, err)
	}
	if !resp.IsSuccessState() {
		return nil, statusErr("download", rel, resp)
	}
	return resp.Bytes(), nil
}

func (p *Provider) delete(ctx context.Context, op, rel string, folder bool) error {
	resp, err := p.client.R().SetContext(ctx).Delete(p.urlFor(rel, folder))
	if err != nil {
		return provider.NewError(provider.KindOf(err), op, rel, err)
	}
	if resp.StatusCode == http.StatusNotFound || resp.IsSuccessState() {
		return nil
	}
	return statusErr(op, rel, resp)
}

func (p *Provider) DeleteFile(ctx context.Context, rel string) error {
	return p.delete(ctx, "delete", rel, false)
}

func (p *Provider) DeleteFolder(ctx context.Context, rel string) error {
	if rel == "" {
		return provider.NewError(provider.KindNotSupported, "delete folder", rel, fmt.Errorf("refusing to delete the collection root"))
	}
	return p.delete(ctx, "delete folder", rel, true)
}

// CreateFolder issues MKCOL. 405 means the collection exists, 409 a missing parent;
// both surface as conflicts.
func (p *Provider) CreateFolder(ctx context.Context, rel string) error {
	resp, err := p.client.R().SetContext(ctx).Send("MKCOL", p.urlFor(rel, true))
	if err != nil {
		return provider.NewError(provider.KindOf(err), "create folder", rel, err)
	}
	if resp.IsSuccessState() {
		return nil
	}
	return statusErr("create folder", rel, resp)
}

func (p *Provider) FolderExists(ctx context.Context, rel string) (bool, error) {
	resources, _, err := p.propfind(ctx, rel, "0")
	if provider.IsNotFound(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return len(resources) > 0 && resources[0].isFolder, nil
}

func (p *Provider) Move(ctx context.Context, from, to string) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Destination", p.urlFor(to, false)).
		SetHeader("Overwrite", "T").
		Send("MOVE", p.urlFor(from, false))
	if err != nil {
		return provider.NewError(provider.KindOf(err), "move", from, err)
	}
	if !resp.IsSuccessState() {
		return statusErr("move", from, resp)
	}
	return nil
}
