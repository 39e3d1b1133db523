package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"simjur/internal/simjur"
)

// ErrVaultLocked is returned by EncryptedVault.Get when no decryption
// context has been unlocked.
var ErrVaultLocked = errors.New("vault is locked: private key not unlocked")

// EncryptedVault seals payloads with an Encryptor before handing them to
// the wrapped vault. Writing needs only the public key; reading needs a
// DecryptionContext.
type EncryptedVault struct {
	inner     simjur.Vault
	encryptor simjur.Encryptor
	dec       simjur.DecryptionContext
	tmpDir    string
}

// NewEncryptedVault wraps inner. dec may be nil for write-only use.
func NewEncryptedVault(inner simjur.Vault, encryptor simjur.Encryptor, dec simjur.DecryptionContext) *EncryptedVault {
	return &EncryptedVault{
		inner:     inner,
		encryptor: encryptor,
		dec:       dec,
	}
}

// Put encrypts into a spool file first, since the ciphertext size is only
// known once the whole payload has been sealed.
func (v *EncryptedVault) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	spool, err := os.CreateTemp(v.tmpDir, "simjur-seal-*")
	if err != nil {
		return fmt.Errorf("creating spool file: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	plain := &countingReader{r: r}
	if err := v.encryptor.Encrypt(plain, spool); err != nil {
		return fmt.Errorf("encrypting %s: %w", key, err)
	}
	if plain.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, plain.n)
	}

	sealed, err := spool.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("sizing spool file: %w", err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding spool file: %w", err)
	}

	return v.inner.Put(ctx, key, spool, sealed)
}

type getResult struct {
	found bool
	err   error
}

// Get streams ciphertext from the wrapped vault through the decryptor.
func (v *EncryptedVault) Get(ctx context.Context, key string, w io.Writer) (bool, error) {
	if v.dec == nil {
		return false, ErrVaultLocked
	}

	pr, pw := io.Pipe()
	done := make(chan getResult, 1)
	go func() {
		found, err := v.inner.Get(ctx, key, pw)
		pw.CloseWithError(err)
		done <- getResult{found: found, err: err}
	}()

	decErr := v.dec.Decrypt(pr, w)
	// unblock the producer if decryption stopped early
	pr.Close()
	res := <-done

	if res.err != nil && !errors.Is(res.err, io.ErrClosedPipe) {
		return res.found, res.err
	}
	if !res.found {
		return false, nil
	}
	if decErr != nil {
		return true, fmt.Errorf("decrypting %s: %w", key, decErr)
	}
	return true, nil
}

func (v *EncryptedVault) Delete(ctx context.Context, key string) error {
	return v.inner.Delete(ctx, key)
}

func (v *EncryptedVault) ValidateSetup(ctx context.Context) error {
	if !v.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys not configured (run `simjur vault keygen`)")
	}
	return v.inner.ValidateSetup(ctx)
}

var _ simjur.Vault = (*EncryptedVault)(nil)
