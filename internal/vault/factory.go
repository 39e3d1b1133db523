package vault

import (
	"context"
	"fmt"

	"simjur/internal/config"
	"simjur/internal/simjur"
)

// NewVaultFromConfig creates a Vault implementation based on the vault config type.
// Encryption is layered on by the caller, which owns the key material.
func NewVaultFromConfig(ctx context.Context, cfg config.VaultConfig) (simjur.Vault, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryVault(cfg.Name), nil
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
		v, err := NewFileSystemVault(cfg.Name, cfg.FSVaultRoot)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "s3":
		v, err := NewS3Vault(ctx, cfg.Name, S3Config{
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			return nil, err
		}
		return v, nil
	case "gcs":
		v, err := NewGCSVault(ctx, cfg.Name, cfg.GCSBucket, cfg.GCSPrefix)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}
