package core

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestReadUpload(t *testing.T) {
	tests := []struct {
		name          string
		input         []byte
		limit         int64
		want          string
		wantSanitized bool
		wantErr       string
	}{
		{
			name:  "plain file",
			input: []byte("<FMT> 210\n<UNI> picoTesla\n"),
			limit: 100,
			want:  "<FMT> 210\n<UNI> picoTesla\n",
		},
		{
			name:  "BOM is dropped",
			input: append([]byte{0xEF, 0xBB, 0xBF}, []byte("<FMT> 210\n")...),
			limit: 100,
			want:  "<FMT> 210\n",
		},
		{
			name:  "leading blank lines allowed",
			input: []byte("\r\n\n<FMT> 210\n"),
			limit: 100,
			want:  "\r\n\n<FMT> 210\n",
		},
		{
			name:          "invalid UTF-8 replaced",
			input:         []byte("<FMT> 210\n<OPR> Jos\xe9\n"),
			limit:         100,
			want:          "<FMT> 210\n<OPR> Jos?\n",
			wantSanitized: true,
		},
		{
			name:  "exactly at limit",
			input: []byte("<FMT> 210\n"),
			limit: 10,
			want:  "<FMT> 210\n",
		},
		{
			name:    "over limit",
			input:   []byte("<FMT> 210\n"),
			limit:   9,
			wantErr: "file too large",
		},
		{
			name:    "empty",
			input:   nil,
			limit:   100,
			wantErr: "empty file",
		},
		{
			name:    "only BOM and whitespace",
			input:   []byte{0xEF, 0xBB, 0xBF, '\n', ' '},
			limit:   100,
			wantErr: "empty file",
		},
		{
			name:    "csv upload",
			input:   []byte("station,component\n0N,Z\n"),
			limit:   100,
			wantErr: "not a pem file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up, err := ReadUpload(bytes.NewReader(tt.input), tt.limit)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("ReadUpload() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadUpload() error = %v", err)
			}
			if got := string(up.Data); got != tt.want {
				t.Errorf("Data = %q, want %q", got, tt.want)
			}
			if up.Sanitized != tt.wantSanitized {
				t.Errorf("Sanitized = %v, want %v", up.Sanitized, tt.wantSanitized)
			}
			if up.BytesRead != int64(len(tt.input)) {
				t.Errorf("BytesRead = %d, want %d", up.BytesRead, len(tt.input))
			}
		})
	}
}

func TestReadUpload_StopsAtLimit(t *testing.T) {
	src := &countingReader{r: strings.NewReader(strings.Repeat("x", 1<<20))}
	_, err := ReadUpload(src, 1024)
	if err == nil {
		t.Fatal("ReadUpload() expected size error")
	}
	if src.n > 1025 {
		t.Errorf("read %d bytes, want at most 1025", src.n)
	}
}

func TestReadUpload_MapsToUserMessage(t *testing.T) {
	_, err := ReadUpload(strings.NewReader("hello"), 100)
	if !errors.Is(err, ErrNotPEM) {
		t.Fatalf("error = %v, want ErrNotPEM", err)
	}
	if got := MapError(err).Code; got != "FILE002" {
		t.Errorf("MapError code = %q, want FILE002", got)
	}
}
