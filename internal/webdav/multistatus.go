package webdav

import (
	"encoding/xml"
	"net/http"
	"net/url"
	gopath "path"
	"strconv"
	"strings"

	"github.com/JunerLee/new-tab/internal/engine"
)

// The multistatus structs match DAV elements by local name only, so servers
// prefixing with D:, d: or a default namespace all parse the same.
type multistatus struct {
	XMLName   xml.Name      `xml:"multistatus"`
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href      string     `xml:"href"`
	Propstats []propstat `xml:"propstat"`
}

type propstat struct {
	Status string   `xml:"status"`
	Prop   davProps `xml:"prop"`
}

type davProps struct {
	DisplayName   string       `xml:"displayname"`
	ResourceType  resourceType `xml:"resourcetype"`
	ContentLength string       `xml:"getcontentlength"`
	LastModified  string       `xml:"getlastmodified"`
	ETag          string       `xml:"getetag"`
	ContentType   string       `xml:"getcontenttype"`
}

type resourceType struct {
	Collection *struct{} `xml:"collection"`
}

// parseMultistatus turns a 207 PROPFIND body into file infos, one per
// response entry that carries a 200-status propstat.
func parseMultistatus(body []byte) ([]engine.RemoteFileInfo, error) {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, engine.NewError(engine.KindSerialization, "parsing directory listing", err)
	}

	infos := make([]engine.RemoteFileInfo, 0, len(ms.Responses))
	for _, resp := range ms.Responses {
		props, ok := okProps(resp.Propstats)
		if !ok {
			continue
		}
		hrefPath := hrefToPath(resp.Href)
		info := engine.RemoteFileInfo{
			Path:        hrefPath,
			Name:        props.DisplayName,
			IsDirectory: props.ResourceType.Collection != nil || strings.HasSuffix(resp.Href, "/"),
			ETag:        strings.Trim(props.ETag, `"`),
			ContentType: props.ContentType,
		}
		if info.Name == "" {
			info.Name = gopath.Base(strings.TrimRight(hrefPath, "/"))
		}
		if props.ContentLength != "" {
			if n, err := strconv.ParseInt(strings.TrimSpace(props.ContentLength), 10, 64); err == nil {
				info.Size = n
			}
		}
		if props.LastModified != "" {
			if t, err := http.ParseTime(props.LastModified); err == nil {
				info.LastModified = t
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// okProps picks the propstat whose status line reports 200; absent statuses
// count as ok because some servers omit them on success.
func okProps(stats []propstat) (davProps, bool) {
	for _, ps := range stats {
		status := strings.TrimSpace(ps.Status)
		if status == "" || strings.Contains(status, " 200 ") || strings.HasSuffix(status, " 200") {
			return ps.Prop, true
		}
	}
	return davProps{}, false
}

// hrefToPath normalizes a response href to a server-absolute, unescaped
// path. Hrefs may arrive as absolute URLs or as escaped absolute paths.
func hrefToPath(href string) string {
	href = strings.TrimSpace(href)
	if u, err := url.Parse(href); err == nil {
		if p := u.EscapedPath(); p != "" {
			if unescaped, err := url.PathUnescape(p); err == nil {
				return unescaped
			}
			return p
		}
	}
	return href
}
