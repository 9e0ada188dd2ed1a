package s3

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"entityfiler/internal/blob/core"
)

// fakeBucket answers the handful of S3 REST calls the store makes.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	// conflict makes HEAD miss but PUT fail the If-None-Match precondition.
	conflict map[string]bool
	puts     []*http.Request
}

type fakeObject struct {
	body        []byte
	contentType string
	meta        map[string]string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string]fakeObject), conflict: make(map[string]bool)}
}

func respond(status int, header http.Header, body string) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: header, Body: io.NopCloser(strings.NewReader(body))}
}

func (f *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Path style: /<bucket>/<key>
	_, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return f.list(req.URL.Query().Get("prefix")), nil
	}
	switch req.Method {
	case http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, nil, ""), nil
		}
		return respond(http.StatusOK, f.headers(obj), ""), nil
	case http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, http.Header{"Content-Type": {"application/xml"}},
				`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`), nil
		}
		return respond(http.StatusOK, f.headers(obj), string(obj.body)), nil
	case http.MethodPut:
		f.puts = append(f.puts, req)
		if _, ok := f.objects[key]; ok || f.conflict[key] {
			return respond(http.StatusPreconditionFailed, http.Header{"Content-Type": {"application/xml"}},
				`<?xml version="1.0" encoding="UTF-8"?><Error><Code>PreconditionFailed</Code><Message>exists</Message></Error>`), nil
		}
		body, _ := io.ReadAll(req.Body)
		if req.Header.Get("X-Amz-Decoded-Content-Length") != "" || strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			body = decodeAWSChunked(body)
		}
		meta := map[string]string{}
		for name, values := range req.Header {
			if strings.HasPrefix(strings.ToLower(name), "x-amz-meta-") {
				meta[strings.ToLower(strings.TrimPrefix(strings.ToLower(name), "x-amz-meta-"))] = values[0]
			}
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type"), meta: meta}
		return respond(http.StatusOK, http.Header{"ETag": {`"etag"`}}, ""), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return respond(http.StatusNoContent, nil, ""), nil
	}
	return respond(http.StatusNotImplemented, nil, ""), nil
}

func (f *fakeBucket) headers(obj fakeObject) http.Header {
	h := http.Header{
		"Content-Length": {strconv.Itoa(len(obj.body))},
		"Content-Type":   {obj.contentType},
		"Etag":           {`"abc123"`},
		"Last-Modified":  {time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat)},
	}
	for k, v := range obj.meta {
		h.Set("X-Amz-Meta-"+k, v)
	}
	return h
}

func (f *fakeBucket) list(prefix string) *http.Response {
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-05-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, b.String())
}

// decodeAWSChunked strips aws-chunked framing: "<hex>[;ext]\r\n<data>\r\n" repeated
// until a zero-length chunk, optionally followed by trailers.
func decodeAWSChunked(raw []byte) []byte {
	r := bufio.NewReader(bytes.NewReader(raw))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return raw
		}
		sizeField, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		n, err := strconv.ParseInt(sizeField, 16, 64)
		if err != nil {
			return raw
		}
		if n == 0 {
			return out.Bytes()
		}
		if _, err := io.CopyN(&out, r, n); err != nil {
			return raw
		}
		_, _ = r.ReadString('\n')
	}
}

func newTestStore(t *testing.T, bucket *fakeBucket, prefix string) *Store {
	t.Helper()
	s, err := New(context.Background(), Config{
		Bucket:          "filer-documents",
		Region:          "ca-central-1",
		Endpoint:        "https://s3.test.local",
		Prefix:          prefix,
		AccessKeyID:     "AKIATEST",
		SecretAccessKey: "secret",
		PathStyle:       true,
	}, func(o *awss3.Options) { o.HTTPClient = &http.Client{Transport: bucket} })
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestS3PutHeadGetList(t *testing.T) {
	bucket := newFakeBucket()
	s := newTestStore(t, bucket, "registry")
	ctx := context.Background()
	key := core.FilingKey("CP0000001", 44, "rules.pdf")
	info, err := s.Put(ctx, key, strings.NewReader("%PDF-rules"), core.PutOptions{ContentType: "application/pdf", Metadata: map[string]string{"kind": "rules"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != key || info.Size != 10 || info.Checksum != "abc123" || info.ContentType != "application/pdf" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, ok := bucket.objects["registry/"+key]; !ok {
		t.Fatalf("expected object under prefix, have %v", bucket.objects)
	}
	if got := bucket.puts[0].Header.Get("If-None-Match"); got != "*" {
		t.Fatalf("expected conditional put, got If-None-Match=%q", got)
	}
	_, rc, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "%PDF-rules" {
		t.Fatalf("unexpected body %q", body)
	}
	list, err := s.List(ctx, "filings/CP0000001/")
	if err != nil || len(list) != 1 || list[0].Key != key {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
}

func TestS3MissingAndExisting(t *testing.T) {
	bucket := newFakeBucket()
	s := newTestStore(t, bucket, "")
	ctx := context.Background()
	if _, err := s.Head(ctx, "missing.pdf"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected head ErrNotFound, got %v", err)
	}
	if _, _, err := s.Get(ctx, "missing.pdf"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected get ErrNotFound, got %v", err)
	}
	if _, err := s.Put(ctx, "doc.json", strings.NewReader("{}"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Put(ctx, "doc.json", strings.NewReader("{}"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	bucket.conflict["race.json"] = true
	if _, err := s.Put(ctx, "race.json", strings.NewReader("{}"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists from precondition failure, got %v", err)
	}
}

func TestS3Delete(t *testing.T) {
	bucket := newFakeBucket()
	s := newTestStore(t, bucket, "")
	ctx := context.Background()
	_, _ = s.Put(ctx, "a.txt", strings.NewReader("a"), core.PutOptions{})
	if existed, err := s.Delete(ctx, "a.txt"); err != nil || !existed {
		t.Fatalf("expected delete, got %v %v", existed, err)
	}
	if existed, err := s.Delete(ctx, "a.txt"); err != nil || existed {
		t.Fatalf("expected missing on second delete, got %v %v", existed, err)
	}
}

func TestS3NewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
	if _, err := newTestStore(t, newFakeBucket(), "").Put(context.Background(), "../x", strings.NewReader(""), core.PutOptions{}); err == nil {
		t.Fatalf("expected key validation error")
	}
}

func TestDecodeAWSChunked(t *testing.T) {
	framed := []byte("5;chunk-signature=abc\r\nhello\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n")
	if got := decodeAWSChunked(framed); string(got) != "hello" {
		t.Fatalf("unexpected decode %q", got)
	}
	if got := decodeAWSChunked([]byte("plain")); string(got) != "plain" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}
