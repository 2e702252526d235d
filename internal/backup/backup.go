// Package backup archives a store's data directory as a zstd-compressed tar
// stream and restores it into an empty root.
//
// Partitions are append-only and artifacts are published by rename, so an
// archive taken while writers are active holds every file as of some moment
// during the walk: a partition may miss its newest lines, but never holds a
// torn artifact.
package backup

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// archivePrefix is the top-level directory inside every archive.
const archivePrefix = "store"

// Manifest summarises an archive.
type Manifest struct {
	Files []string `json:"files"`
	Bytes int64    `json:"bytes"`
}

// Write archives every regular file under dataDir to w. In-flight publish
// temp files are skipped. Entries are written in lexical path order.
func Write(w io.Writer, dataDir string) (Manifest, error) {
	var m Manifest

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return m, fmt.Errorf("zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	walkErr := filepath.WalkDir(dataDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() || isTempFile(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(dataDir, p)
		if err != nil {
			return err
		}
		name := path.Join(archivePrefix, filepath.ToSlash(rel))

		n, err := addFile(tw, p, name)
		if err != nil {
			return fmt.Errorf("archive %s: %w", rel, err)
		}
		m.Files = append(m.Files, name)
		m.Bytes += n
		return nil
	})
	if walkErr != nil {
		tw.Close()
		zw.Close()
		return m, walkErr
	}

	if err := tw.Close(); err != nil {
		zw.Close()
		return m, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return m, fmt.Errorf("close zstd: %w", err)
	}
	return m, nil
}

func addFile(tw *tar.Writer, src, name string) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	// The header records the size seen now; a partition that grows during
	// the copy is cut at that size, which always falls on a line boundary
	// or inside a trailing fragment readers already ignore.
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     0o644,
		Size:     info.Size(),
		ModTime:  info.ModTime().UTC().Truncate(time.Second),
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return 0, err
	}
	return io.CopyN(tw, f, info.Size())
}

func isTempFile(name string) bool {
	return strings.HasPrefix(name, ".publish-") && strings.HasSuffix(name, ".tmp")
}

// Restore extracts an archive produced by Write into dataDir. Existing files
// are never overwritten: restoring over live data is an error. A failed
// restore removes the files it extracted, so it can be retried.
func Restore(r io.Reader, dataDir string) (m Manifest, err error) {
	var created []string
	defer func() {
		if err == nil {
			return
		}
		for _, p := range created {
			os.Remove(p)
		}
		m = Manifest{}
	}()

	zr, err := zstd.NewReader(r)
	if err != nil {
		return m, fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return m, nil
		}
		if err != nil {
			return m, fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		dst, err := destination(dataDir, hdr.Name)
		if err != nil {
			return m, err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return m, fmt.Errorf("restore %s: %w", hdr.Name, err)
		}
		n, err := extractFile(tr, dst)
		if err != nil {
			return m, fmt.Errorf("restore %s: %w", hdr.Name, err)
		}
		created = append(created, dst)
		m.Files = append(m.Files, hdr.Name)
		m.Bytes += n
	}
}

// destination maps an archive entry to a path under dataDir, rejecting
// entries outside the archive prefix.
func destination(dataDir, name string) (string, error) {
	clean := path.Clean(name)
	rel, ok := strings.CutPrefix(clean, archivePrefix+"/")
	if !ok || rel == "" || strings.HasPrefix(rel, "../") || path.IsAbs(rel) {
		return "", fmt.Errorf("archive entry %q is outside %s/", name, archivePrefix)
	}
	return filepath.Join(dataDir, filepath.FromSlash(rel)), nil
}

func extractFile(r io.Reader, dst string) (int64, error) {
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
	}
	return n, err
}
