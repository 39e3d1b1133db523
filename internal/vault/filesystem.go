package vault

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"simjur/internal/simjur"
)

// FileSystemVault is a filesystem-based implementation of the Vault interface.
// Each blob is one file named by its key:
//
//	<root>/
//	  documents/
//	    file-TOR-42
//	    file-LPJ-42
type FileSystemVault struct {
	name   string
	root   string
	docDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	docDir := filepath.Join(root, "documents")
	if err := os.MkdirAll(docDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create documents directory: %w", err)
	}

	return &FileSystemVault{
		name:   name,
		root:   root,
		docDir: docDir,
	}, nil
}

// Put writes the blob atomically (temp file + rename), so a reader never
// sees a partially uploaded document.
func (v *FileSystemVault) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := validateKey(key); err != nil {
		return err
	}
	destPath := filepath.Join(v.docDir, key)

	tmpFile, err := os.CreateTemp(v.docDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

func (v *FileSystemVault) Get(ctx context.Context, key string, w io.Writer) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	f, err := os.Open(filepath.Join(v.docDir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to open blob: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return true, fmt.Errorf("failed to read blob: %w", err)
	}
	return true, nil
}

func (v *FileSystemVault) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(v.docDir, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup(ctx context.Context) error {
	for _, dir := range []string{v.root, v.docDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

var _ simjur.Vault = (*FileSystemVault)(nil)
