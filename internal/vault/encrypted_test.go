package vault

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"simjur/internal/encryption"
)

func newTestEncryptedVault(t *testing.T) (*EncryptedVault, *MemoryVault) {
	t.Helper()

	inner := NewMemoryVault("inner")
	enc := encryption.NewPlainEncryptor()
	dec, err := enc.Unlock("")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	v := NewEncryptedVault(inner, enc, dec)
	v.tmpDir = t.TempDir()
	return v, inner
}

func TestEncryptedVault_Contract(t *testing.T) {
	v, _ := newTestEncryptedVault(t)
	testVaultContract(t, v)
}

func TestEncryptedVault_StoresCiphertext(t *testing.T) {
	v, inner := newTestEncryptedVault(t)
	ctx := context.Background()

	plain := "rincian anggaran kegiatan"
	if err := v.Put(ctx, "file-TOR-1", strings.NewReader(plain), int64(len(plain))); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	var raw bytes.Buffer
	if _, err := inner.Get(ctx, "file-TOR-1", &raw); err != nil {
		t.Fatalf("inner Get() error = %v", err)
	}
	if raw.String() == plain {
		t.Error("inner vault holds plaintext")
	}
	if !strings.Contains(raw.String(), plain) || raw.Len() <= len(plain) {
		t.Errorf("inner blob = %q, want sealed form of plaintext", raw.String())
	}
}

func TestEncryptedVault_Locked(t *testing.T) {
	inner := NewMemoryVault("inner")
	v := NewEncryptedVault(inner, encryption.NewPlainEncryptor(), nil)
	ctx := context.Background()

	if err := v.Put(ctx, "file-LPJ-1", strings.NewReader("abc"), 3); err != nil {
		t.Fatalf("Put() on locked vault error = %v", err)
	}
	if _, err := v.Get(ctx, "file-LPJ-1", &bytes.Buffer{}); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("Get() error = %v, want ErrVaultLocked", err)
	}
}

func TestEncryptedVault_CorruptBlob(t *testing.T) {
	v, inner := newTestEncryptedVault(t)
	ctx := context.Background()

	junk := "not sealed at all"
	if err := inner.Put(ctx, "file-TOR-9", strings.NewReader(junk), int64(len(junk))); err != nil {
		t.Fatalf("inner Put() error = %v", err)
	}

	found, err := v.Get(ctx, "file-TOR-9", &bytes.Buffer{})
	if err == nil {
		t.Error("Get() expected decryption error for corrupt blob")
	}
	if !found {
		t.Error("Get() found = false, want true for present but corrupt blob")
	}
}
