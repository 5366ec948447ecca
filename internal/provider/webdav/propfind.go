package webdav

import (
	"encoding/xml"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:"><d:prop>
<d:resourcetype/><d:getcontentlength/><d:getlastmodified/><d:getetag/>
</d:prop></d:propfind>`

type multistatus struct {
	Responses []davResponse `xml:"DAV: response"`
}

type davResponse struct {
	Href      string     `xml:"DAV: href"`
	Propstats []propstat `xml:"DAV: propstat"`
}

type propstat struct {
	Prop   davProp `xml:"DAV: prop"`
	Status string  `xml:"DAV: status"`
}

type davProp struct {
	ResourceType  resourceType `xml:"DAV: resourcetype"`
	ContentLength string       `xml:"DAV: getcontentlength"`
	LastModified  string       `xml:"DAV: getlastmodified"`
	ETag          string       `xml:"DAV: getetag"`
}

type resourceType struct {
	Collection *struct{} `xml:"DAV: collection"`
}

// resource is one parsed response, with its href reduced to a path.
type resource struct {
	path     string
	isFolder bool
	size     int64
	modified time.Time
	etag     string
}

func parseMultistatus(body []byte, basePath string) ([]resource, error) {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, err
	}

	out := make([]resource, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		res := resource{path: hrefToPath(r.Href, basePath)}
		for _, ps := range r.Propstats {
			if ps.Status != "" && !strings.Contains(ps.Status, " 200") {
				continue
			}
			p := ps.Prop
			if p.ResourceType.Collection != nil {
				res.isFolder = true
			}
			if n, err := strconv.ParseInt(strings.TrimSpace(p.ContentLength), 10, 64); err == nil {
				res.size = n
			}
			if t, err := http.ParseTime(strings.TrimSpace(p.LastModified)); err == nil {
				res.modified = t
			}
			if p.ETag != "" {
				res.etag = strings.Trim(p.ETag, `"`)
			}
		}
		out = append(out, res)
	}
	return out, nil
}

// hrefToPath turns "/dav/vault/My%20Note.md" into "vault/My Note.md" for base "/dav".
func hrefToPath(href, basePath string) string {
	p := href
	if u, err := url.Parse(href); err == nil {
		p = u.Path
	}
	base := strings.TrimSuffix(basePath, "/")
	p = strings.TrimPrefix(p, base)
	return strings.Trim(p, "/")
}
