package zip

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestWriteArchive(t *testing.T) {
	var buf bytes.Buffer
	err := WriteArchive(&buf, []Entry{
		{Filename: "dream.json", Data: []byte(`{"id":1}`)},
		{Filename: "model.glb", Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("glTF")), nil
		}},
	})
	if err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	want := map[string]string{"dream.json": `{"id":1}`, "model.glb": "glTF"}
	if len(zr.File) != len(want) {
		t.Fatalf("files = %d, want %d", len(zr.File), len(want))
	}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		if string(body) != want[f.Name] {
			t.Fatalf("%s = %q, want %q", f.Name, body, want[f.Name])
		}
	}
}

func TestWriteArchiveOpenError(t *testing.T) {
	boom := errors.New("boom")
	err := WriteArchive(io.Discard, []Entry{{Filename: "model.glb", Open: func() (io.ReadCloser, error) {
		return nil, boom
	}}})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if !strings.Contains(err.Error(), "model.glb") {
		t.Fatalf("err should name the entry: %v", err)
	}
}
