package wasmbuild

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
	"golang.org/x/term"
)

const runtimeArchiveBase = "wasm-node-build"

// packageRuntimeFiles archives the interpreter's library tree and the node
// cross-build output into a single archive at the source root. Entry paths
// are stored relative to sourceRoot, never absolute, and deduplicated by
// relative path (last walk wins). Returns the archive path.
func packageRuntimeFiles(sourceRoot, wasmBuildDir, format string) (string, error) {
	libDir := filepath.Join(sourceRoot, "Lib")

	// Collect first so the duplicate-path rule and the progress total are
	// both straightforward.
	var order []string
	files := make(map[string]string) // rel path -> abs path
	for _, root := range []string{libDir, wasmBuildDir} {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(sourceRoot, path)
			if err != nil {
				return err
			}
			if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
				return fmt.Errorf("%s is outside the source root %s", path, sourceRoot)
			}
			rel = filepath.ToSlash(rel)
			if _, seen := files[rel]; !seen {
				order = append(order, rel)
			}
			files[rel] = path
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	archivePath := filepath.Join(sourceRoot, runtimeArchiveBase+"."+format)
	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("cannot create archive: %w", err)
	}
	defer out.Close()

	var bar *progressbar.ProgressBar
	if term.IsTerminal(int(os.Stderr.Fd())) {
		bar = progressbar.Default(int64(len(order)), "packaging")
	}
	tick := func() {
		if bar != nil {
			bar.Add(1)
		}
	}

	if format == "zip" {
		zw := zip.NewWriter(out)
		for _, rel := range order {
			w, err := zw.Create(rel)
			if err != nil {
				return "", err
			}
			if err := copyInto(w, files[rel]); err != nil {
				return "", err
			}
			tick()
		}
		if err := zw.Close(); err != nil {
			return "", fmt.Errorf("failed to finalize archive: %w", err)
		}
	} else {
		var cw io.WriteCloser
		switch format {
		case "tar.gz":
			cw = pgzip.NewWriter(out)
		case "tar.xz":
			cw, err = xz.NewWriter(out)
		case "tar.zst":
			cw, err = zstd.NewWriter(out)
		default:
			return "", fmt.Errorf("unsupported archive format %q", format)
		}
		if err != nil {
			return "", fmt.Errorf("cannot create %s writer: %w", format, err)
		}

		tw := tar.NewWriter(cw)
		for _, rel := range order {
			info, err := os.Stat(files[rel])
			if err != nil {
				return "", err
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return "", err
			}
			hdr.Name = rel
			if err := tw.WriteHeader(hdr); err != nil {
				return "", err
			}
			if err := copyInto(tw, files[rel]); err != nil {
				return "", err
			}
			tick()
		}
		if err := tw.Close(); err != nil {
			return "", fmt.Errorf("failed to finalize archive: %w", err)
		}
		if err := cw.Close(); err != nil {
			return "", fmt.Errorf("failed to finalize %s stream: %w", format, err)
		}
	}

	if bar != nil {
		bar.Finish()
	}
	step("Runtime archive written: %s (%d files)", archivePath, len(order))
	return archivePath, nil
}

func copyInto(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to archive %s: %w", path, err)
	}
	return nil
}
