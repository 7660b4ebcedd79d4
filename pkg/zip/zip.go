// Package zip bundles dream artifacts into a single downloadable archive.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"time"
)

// Entry is one file in an archive. Exactly one of Data or Open is used.
type Entry struct {
	Filename string
	Modified time.Time
	Data     []byte
	Open     func() (io.ReadCloser, error)
}

// WriteArchive streams entries into w as a zip file. The first failing entry
// aborts the archive.
func WriteArchive(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	for _, entry := range entries {
		if err := writeEntry(zw, entry); err != nil {
			_ = zw.Close()
			return fmt.Errorf("archive %s: %w", entry.Filename, err)
		}
	}
	return zw.Close()
}

func writeEntry(zw *zip.Writer, entry Entry) error {
	header := &zip.FileHeader{Name: entry.Filename, Method: zip.Deflate, Modified: entry.Modified}
	fw, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	if entry.Open == nil {
		_, err = fw.Write(entry.Data)
		return err
	}
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(fw, rc)
	return err
}
