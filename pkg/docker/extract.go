package docker

import (
	"archive/tar"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// extract unpacks a container archive into dst. The archive root folder
// (the copied directory itself) is stripped so its contents land directly in
// dst. Only directories and regular files are written.
// nolint: gocyclo
func extract(r io.Reader, dst string) error {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}

	tarReader := tar.NewReader(r)
	root := ""

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		name := path.Clean(strings.TrimPrefix(header.Name, "./"))
		parts := strings.SplitN(name, "/", 2)

		if root == "" {
			root = parts[0]
		}
		if parts[0] != root {
			return ErrUnsafePath
		}

		// The root folder itself
		if len(parts) == 1 {
			if header.Typeflag != tar.TypeDir {
				return ErrNotDirectory
			}
			continue
		}

		if !filepath.IsLocal(filepath.FromSlash(parts[1])) {
			return ErrUnsafePath
		}
		target := filepath.Join(dst, filepath.FromSlash(parts[1]))

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tarReader, header.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			// Links and devices are never published
			continue
		}
	}

	if root == "" {
		return ErrEmptyArchive
	}

	return nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close() // nolint: errcheck
		return err
	}

	return f.Close()
}
