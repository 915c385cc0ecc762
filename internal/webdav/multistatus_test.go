package webdav

import (
	"testing"
	"time"

	"github.com/JunerLee/new-tab/internal/engine"
)

func TestParseMultistatus(t *testing.T) {
	t.Parallel()

	t.Run("prefixed namespace", func(t *testing.T) {
		body := []byte(`<?xml version="1.0"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/files/a.json</D:href>
    <D:propstat>
      <D:status>HTTP/1.1 200 OK</D:status>
      <D:prop>
        <D:displayname>a.json</D:displayname>
        <D:getcontentlength>10</D:getcontentlength>
        <D:getetag>"e1"</D:getetag>
        <D:getlastmodified>Wed, 15 Nov 2023 10:00:00 GMT</D:getlastmodified>
      </D:prop>
    </D:propstat>
  </D:response>
</D:multistatus>`)
		infos, err := parseMultistatus(body)
		if err != nil {
			t.Fatalf("parseMultistatus() error = %v", err)
		}
		if len(infos) != 1 {
			t.Fatalf("parsed %d entries, want 1", len(infos))
		}
		info := infos[0]
		if info.Path != "/files/a.json" || info.Name != "a.json" || info.Size != 10 {
			t.Errorf("entry = %+v, want href, name and size parsed", info)
		}
		if info.ETag != "e1" {
			t.Errorf("etag = %q, want the quotes stripped", info.ETag)
		}
		want := time.Date(2023, 11, 15, 10, 0, 0, 0, time.UTC)
		if !info.LastModified.Equal(want) {
			t.Errorf("lastModified = %v, want %v", info.LastModified, want)
		}
	})

	t.Run("default namespace", func(t *testing.T) {
		body := []byte(`<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response>
    <href>/files/b.json</href>
    <propstat>
      <status>HTTP/1.1 200 OK</status>
      <prop><displayname>b.json</displayname></prop>
    </propstat>
  </response>
</multistatus>`)
		infos, err := parseMultistatus(body)
		if err != nil {
			t.Fatalf("parseMultistatus() error = %v", err)
		}
		if len(infos) != 1 || infos[0].Name != "b.json" {
			t.Errorf("entries = %+v, want the default-namespace body parsed the same", infos)
		}
	})

	t.Run("collection detection", func(t *testing.T) {
		body := []byte(`<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response>
    <href>/files/dir/</href>
    <propstat>
      <status>HTTP/1.1 200 OK</status>
      <prop><resourcetype><collection/></resourcetype></prop>
    </propstat>
  </response>
  <response>
    <href>/files/plain.json</href>
    <propstat>
      <status>HTTP/1.1 200 OK</status>
      <prop><resourcetype/></prop>
    </propstat>
  </response>
</multistatus>`)
		infos, err := parseMultistatus(body)
		if err != nil {
			t.Fatalf("parseMultistatus() error = %v", err)
		}
		if len(infos) != 2 {
			t.Fatalf("parsed %d entries, want 2", len(infos))
		}
		if !infos[0].IsDirectory {
			t.Error("collection entry not recognized as a directory")
		}
		if infos[1].IsDirectory {
			t.Error("plain file recognized as a directory")
		}
	})

	t.Run("name falls back to the href base", func(t *testing.T) {
		body := []byte(`<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response>
    <href>/files/unnamed.json</href>
    <propstat>
      <status>HTTP/1.1 200 OK</status>
      <prop/>
    </propstat>
  </response>
</multistatus>`)
		infos, err := parseMultistatus(body)
		if err != nil {
			t.Fatalf("parseMultistatus() error = %v", err)
		}
		if len(infos) != 1 || infos[0].Name != "unnamed.json" {
			t.Errorf("entries = %+v, want the name derived from the href", infos)
		}
	})

	t.Run("entries without a 200 propstat are skipped", func(t *testing.T) {
		body := []byte(`<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response>
    <href>/files/ghost.json</href>
    <propstat>
      <status>HTTP/1.1 404 Not Found</status>
      <prop/>
    </propstat>
  </response>
</multistatus>`)
		infos, err := parseMultistatus(body)
		if err != nil {
			t.Fatalf("parseMultistatus() error = %v", err)
		}
		if len(infos) != 0 {
			t.Errorf("entries = %+v, want the 404 propstat skipped", infos)
		}
	})

	t.Run("malformed body is a serialization failure", func(t *testing.T) {
		_, err := parseMultistatus([]byte("<not-xml"))
		if engine.KindOf(err) != engine.KindSerialization {
			t.Errorf("parseMultistatus() error = %v, want a serialization failure", err)
		}
	})
}

func TestOkProps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status string
		want   bool
	}{
		{"explicit 200", "HTTP/1.1 200 OK", true},
		{"bare 200 suffix", "HTTP/1.1 200", true},
		{"missing status counts as ok", "", true},
		{"not found", "HTTP/1.1 404 Not Found", false},
		{"server error", "HTTP/1.1 500 Internal Server Error", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := okProps([]propstat{{Status: tt.status}})
			if ok != tt.want {
				t.Errorf("okProps(%q) = %v, want %v", tt.status, ok, tt.want)
			}
		})
	}

	t.Run("picks the 200 propstat among several", func(t *testing.T) {
		props, ok := okProps([]propstat{
			{Status: "HTTP/1.1 404 Not Found", Prop: davProps{DisplayName: "wrong"}},
			{Status: "HTTP/1.1 200 OK", Prop: davProps{DisplayName: "right"}},
		})
		if !ok || props.DisplayName != "right" {
			t.Errorf("okProps() = %+v, %v, want the 200 propstat", props, ok)
		}
	})
}

func TestHrefToPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		href string
		want string
	}{
		{"plain path", "/files/a.json", "/files/a.json"},
		{"absolute URL", "https://dav.example.com/files/a.json", "/files/a.json"},
		{"escaped path", "/files/with%20space.json", "/files/with space.json"},
		{"surrounding whitespace", "  /files/a.json\n", "/files/a.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hrefToPath(tt.href); got != tt.want {
				t.Errorf("hrefToPath(%q) = %q, want %q", tt.href, got, tt.want)
			}
		})
	}
}
