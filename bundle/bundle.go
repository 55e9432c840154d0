// Package bundle turns a finished task's files into one downloadable file.
package bundle

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// ArchiveName is the download name of multi-file results.
const ArchiveName = "download.zip"

var ErrNoFiles = errors.New("no files to deliver")

// Bundle is a file ready to be streamed under Name.
type Bundle struct {
	Path string
	Name string

	temporary bool
}

// Close removes the bundle's backing file if it was built for this request.
func (b *Bundle) Close() error {
	if !b.temporary {
		return nil
	}
	return os.Remove(b.Path)
}

// Build returns the single file itself, or a freshly built deflate archive of
// all files when there are several. Archives are rebuilt on every call.
func Build(dir string, files []string) (*Bundle, error) {
	switch len(files) {
	case 0:
		return nil, ErrNoFiles
	case 1:
		name := filepath.Base(files[0])
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("result file unavailable: %w", err)
		}
		return &Bundle{Path: path, Name: name}, nil
	}

	tmp, err := os.CreateTemp("", "webdl-bundle-*.zip")
	if err != nil {
		return nil, fmt.Errorf("could not create archive: %w", err)
	}
	if err := writeArchive(tmp, dir, files); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("could not finish archive: %w", err)
	}
	return &Bundle{Path: tmp.Name(), Name: ArchiveName, temporary: true}, nil
}

func writeArchive(w io.Writer, dir string, files []string) error {
	zw := zip.NewWriter(w)
	written := 0
	for _, f := range files {
		name := filepath.Base(f)
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			log.Printf("Skipping missing file %s while archiving", path)
			continue
		}
		if err := addFile(zw, path, name); err != nil {
			zw.Close()
			return err
		}
		written++
	}
	if written == 0 {
		zw.Close()
		return ErrNoFiles
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("could not finish archive: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", name, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("could not add %s to archive: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("could not compress %s: %w", name, err)
	}
	return nil
}
