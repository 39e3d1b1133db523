package encryption

import (
	"fmt"
	"os"

	"simjur/internal/config"
	"simjur/internal/simjur"
)

// PassphraseEnv names the variable Unlock reads in non-interactive runs.
const PassphraseEnv = "SIMJUR_VAULT_PASSPHRASE"

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (simjur.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "plain", "test":
		return NewPlainEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// UnlockFromEnv unlocks enc with the passphrase in SIMJUR_VAULT_PASSPHRASE.
func UnlockFromEnv(enc simjur.Encryptor) (simjur.DecryptionContext, error) {
	passphrase, ok := os.LookupEnv(PassphraseEnv)
	if !ok {
		return nil, fmt.Errorf("%s is not set", PassphraseEnv)
	}
	return enc.Unlock(passphrase)
}
