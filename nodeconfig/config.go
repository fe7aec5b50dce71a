// Package nodeconfig implements the Configuration & persistence glue
// (§4.13): the WalletConfig file, its keystore-vs-environment root-key
// precedence, and secret redaction before any outward serialization.
package nodeconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	clawcrypto "github.com/BSVanon/ClawSats-sub000/crypto"
)

// CapabilityDescriptor mirrors a paid capability's public shape for
// /discovery and config listing.
type CapabilityDescriptor struct {
	Name      string `json:"name"`
	PriceSats int64  `json:"priceSats"`
	Tag       string `json:"tag,omitempty"`
}

// WalletConfig is the node's persisted configuration (§6 "config/wallet-config.json").
type WalletConfig struct {
	IdentityKey        string                 `json:"identityKey"`
	ClawID              string                 `json:"clawId"`
	Chain               string                 `json:"chain"`
	StorageDescriptor   string                 `json:"storageDescriptor"`
	Endpoints           map[string]string      `json:"endpoints"`
	Capabilities        []CapabilityDescriptor `json:"capabilities"`
	BindAddr            string                 `json:"bindAddr"`
	DirectoryURL        string                 `json:"directoryUrl,omitempty"`
	DirectoryRegisterURL string                `json:"directoryRegisterUrl,omitempty"`

	// EncryptedRootKey is a slot for keystore-wrapped root key material.
	// ResolveRootKey does not read it (the keystore lives in its own file)
	// and nothing in this package fills it. Never serialized outward.
	EncryptedRootKey json.RawMessage `json:"encryptedRootKey,omitempty"`
}

// Redacted returns a copy of cfg with secret fields stripped, safe to
// serve over /discovery, GET /config, or any RPC response (§4.13).
func (c WalletConfig) Redacted() WalletConfig {
	out := c
	out.EncryptedRootKey = nil
	return out
}

// DefaultConfigPath is used when CLAWSATS_CONFIG_PATH is unset.
const DefaultConfigPath = "config/wallet-config.json"

// ConfigPath resolves CLAWSATS_CONFIG_PATH, falling back to DefaultConfigPath.
func ConfigPath() string {
	if v := os.Getenv("CLAWSATS_CONFIG_PATH"); v != "" {
		return v
	}
	return DefaultConfigPath
}

// Load reads the config file at path. A missing file is not an error;
// the caller is expected to fill in a fresh WalletConfig and Save it.
func Load(path string) (WalletConfig, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return WalletConfig{}, false, nil
		}
		return WalletConfig{}, false, err
	}
	var cfg WalletConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return WalletConfig{}, false, fmt.Errorf("parse wallet config: %w", err)
	}
	return cfg, true, nil
}

// Save persists cfg at path with file mode 0600 (§4.13), creating parent
// directories as needed. Callers must log a warning on save per §4.13;
// Save itself only returns the error for the caller to log.
func Save(path string, cfg WalletConfig) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ResolveRootKey implements the keystore-vs-env-var precedence: an
// explicit CLAWSATS_ROOT_KEY_HEX always wins (it is the documented,
// required mechanism per §6); if unset, the keystore file at keystorePath
// is decrypted with passphrase. If keystorePath is set but no keystore
// file exists there yet, a fresh root key is generated and persisted to
// it, so a node's
// first run self-provisions an identity instead of requiring one to be
// supplied out of band. Returns an error if neither source yields a key.
func ResolveRootKey(keystorePath, passphrase string) (*clawcrypto.PrivateKey, error) {
	if hexKey := os.Getenv("CLAWSATS_ROOT_KEY_HEX"); hexKey != "" {
		return clawcrypto.PrivateKeyFromHex(hexKey)
	}
	if keystorePath == "" {
		return nil, fmt.Errorf("nodeconfig: no CLAWSATS_ROOT_KEY_HEX set and no keystore path configured")
	}
	if _, err := os.Stat(keystorePath); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		key, genErr := clawcrypto.GeneratePrivateKey()
		if genErr != nil {
			return nil, fmt.Errorf("nodeconfig: generate root key: %w", genErr)
		}
		if saveErr := clawcrypto.SaveToKeystore(keystorePath, key, passphrase); saveErr != nil {
			return nil, fmt.Errorf("nodeconfig: persist generated root key: %w", saveErr)
		}
		return key, nil
	}
	return clawcrypto.LoadFromKeystore(keystorePath, passphrase)
}
