package archive

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/JonMunkholm/pemtool/internal/config"
)

// fakeS3 answers the PutObject, GetObject and ListObjectsV2 calls of a
// path-style client from memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Path style: /bucket/key
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	switch {
	case req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2":
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(f.objects[k]))
		}
		b.WriteString("</ListBucketResult>")
		return respond(http.StatusOK, []byte(b.String()), "application/xml"), nil

	case req.Method == http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if req.Header.Get("X-Amz-Decoded-Content-Length") != "" {
			body = decodeAWSChunked(body)
		}
		f.objects[key] = body
		f.types[key] = req.Header.Get("Content-Type")
		return respond(http.StatusOK, nil, ""), nil

	case req.Method == http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, []byte("<Error><Code>NoSuchKey</Code></Error>"), "application/xml"), nil
		}
		return respond(http.StatusOK, body, f.types[key]), nil
	}
	return respond(http.StatusNotImplemented, nil, ""), nil
}

func respond(status int, body []byte, ct string) *http.Response {
	h := http.Header{"Content-Length": {strconv.Itoa(len(body))}}
	if ct != "" {
		h.Set("Content-Type", ct)
	}
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(bytes.NewReader(body))}
}

// decodeAWSChunked strips aws-chunked framing: hex size lines, each followed
// by that many bytes, ending with a zero chunk and optional trailers.
func decodeAWSChunked(b []byte) []byte {
	r := bufio.NewReader(bytes.NewReader(b))
	var out []byte
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return out
		}
		sizeHex := strings.TrimSpace(strings.SplitN(line, ";", 2)[0])
		n, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil || n == 0 {
			return out
		}
		chunk := make([]byte, n)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return out
		}
		out = append(out, chunk...)
		_, _ = r.ReadString('\n')
	}
}

func newTestArchive(t *testing.T) (*S3, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	if err != nil {
		t.Fatalf("aws config: %v", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.HTTPClient = &http.Client{Transport: fake}
		o.UsePathStyle = true
	})
	return NewWithClient(client, "surveys", "pem/"), fake
}

func TestKey(t *testing.T) {
	a := &S3{bucket: "surveys", prefix: "pem/"}
	tests := []struct {
		name string
		want string
	}{
		{"line200e.pem", "pem/abc/r2/line200e.pem"},
		{"C:\\data\\line200e.pem", "pem/abc/r2/line200e.pem"},
		{"../../etc/passwd", "pem/abc/r2/passwd"},
		{"", "pem/abc/r2/file.pem"},
	}
	for _, tt := range tests {
		if got := a.Key("abc", 2, tt.name); got != tt.want {
			t.Errorf("Key(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestArchiveFetchList(t *testing.T) {
	a, fake := newTestArchive(t)
	ctx := context.Background()
	content := []byte("<FMT> 210\n<UNI> nanoTesla/sec\n")

	loc, err := a.Archive(ctx, a.Key("abc", 1, "line.pem"), content)
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if want := "s3://surveys/pem/abc/r1/line.pem"; loc != want {
		t.Errorf("location = %q, want %q", loc, want)
	}
	if ct := fake.types["pem/abc/r1/line.pem"]; ct != contentType {
		t.Errorf("content type = %q, want %q", ct, contentType)
	}

	got, err := a.Fetch(ctx, "pem/abc/r1/line.pem")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Fetch() = %q, want %q", got, content)
	}

	if _, err := a.Archive(ctx, a.Key("abc", 2, "line.pem"), content); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if _, err := a.Archive(ctx, a.Key("other", 0, "x.pem"), content); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	keys, err := a.List(ctx, "abc")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"pem/abc/r1/line.pem", "pem/abc/r2/line.pem"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("List() = %v, want %v", keys, want)
	}
}

func TestFetchMissing(t *testing.T) {
	a, _ := newTestArchive(t)
	if _, err := a.Fetch(context.Background(), "pem/none"); err == nil {
		t.Fatal("Fetch() of a missing key succeeded")
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), config.ArchiveConfig{Region: "us-east-1"}); err == nil {
		t.Fatal("New() without bucket succeeded")
	}
}
