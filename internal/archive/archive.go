// Package archive writes compressed archives to a stream.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Format is an archive container plus compression.
type Format string

const (
	FormatTarGz  Format = "tar.gz"
	FormatTarZst Format = "tar.zst"
	FormatZip    Format = "zip"
)

// ParseFormat accepts a format name, with or without a leading dot.
// An empty name selects tar.gz.
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(s), ".") {
	case "", "tar.gz", "tgz", "gzip":
		return FormatTarGz, nil
	case "tar.zst", "zst", "zstd":
		return FormatTarZst, nil
	case "zip":
		return FormatZip, nil
	}
	return "", fmt.Errorf("unknown archive format %q", s)
}

// Extension returns the file name suffix, including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// ContentType returns the MIME type of the archive.
func (f Format) ContentType() string {
	switch f {
	case FormatTarZst:
		return "application/zstd"
	case FormatZip:
		return "application/zip"
	default:
		return "application/gzip"
	}
}

// Writer adds members to an archive. Names use forward slashes.
type Writer interface {
	AddFile(name string, fi fs.FileInfo, r io.Reader) error
	AddDir(name string, fi fs.FileInfo) error
	Close() error
}

// NewWriter starts an archive of the given format on w. level is the
// compression level; zero means the library default.
func NewWriter(w io.Writer, f Format, level int) (Writer, error) {
	switch f {
	case FormatTarGz:
		if level == 0 {
			level = gzip.DefaultCompression
		}
		gz, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, fmt.Errorf("gzip writer: %w", err)
		}
		return &tarWriter{tw: tar.NewWriter(gz), cw: gz}, nil
	case FormatTarZst:
		opts := []zstd.EOption{}
		if level != 0 {
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		}
		zw, err := zstd.NewWriter(w, opts...)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return &tarWriter{tw: tar.NewWriter(zw), cw: zw}, nil
	case FormatZip:
		zw := zip.NewWriter(w)
		if level != 0 {
			zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
				return flate.NewWriter(out, level)
			})
		}
		return &zipWriter{zw: zw}, nil
	}
	return nil, fmt.Errorf("unknown archive format %q", f)
}

type tarWriter struct {
	tw *tar.Writer
	cw io.WriteCloser
}

func (t *tarWriter) AddFile(name string, fi fs.FileInfo, r io.Reader) error {
	hdr, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return fmt.Errorf("header %s: %w", name, err)
	}
	hdr.Name = name
	hdr.Format = tar.FormatPAX
	if err := t.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	if _, err := io.Copy(t.tw, r); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (t *tarWriter) AddDir(name string, fi fs.FileInfo) error {
	hdr, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return fmt.Errorf("header %s: %w", name, err)
	}
	hdr.Name = strings.TrimSuffix(name, "/") + "/"
	hdr.Format = tar.FormatPAX
	if err := t.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	return nil
}

func (t *tarWriter) Close() error {
	if err := t.tw.Close(); err != nil {
		t.cw.Close()
		return fmt.Errorf("close tar: %w", err)
	}
	return t.cw.Close()
}

type zipWriter struct {
	zw *zip.Writer
}

func (z *zipWriter) AddFile(name string, fi fs.FileInfo, r io.Reader) error {
	hdr, err := zip.FileInfoHeader(fi)
	if err != nil {
		return fmt.Errorf("header %s: %w", name, err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	w, err := z.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (z *zipWriter) AddDir(name string, fi fs.FileInfo) error {
	hdr, err := zip.FileInfoHeader(fi)
	if err != nil {
		return fmt.Errorf("header %s: %w", name, err)
	}
	hdr.Name = strings.TrimSuffix(name, "/") + "/"
	hdr.Method = zip.Store
	if _, err := z.zw.CreateHeader(hdr); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	return nil
}

func (z *zipWriter) Close() error {
	return z.zw.Close()
}
