package infra

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tastamat/fandomon/internal/domain"
)

const (
	storeKeyFile   = "store.key"
	adminTokenFile = "admin.token"
	storeKeyLen    = 32

	// StoreKeyEnv carries a provisioned store key as hex.
	StoreKeyEnv = "FANDOMON_STORE_KEY"
)

var errReadOnlyKey = errors.New("key source is read-only")

func decodeStoreKey(raw, origin string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: not hex: %w", origin, err)
	}
	if len(key) != storeKeyLen {
		return nil, fmt.Errorf("%s: key is %d bytes, need %d", origin, len(key), storeKeyLen)
	}
	return key, nil
}

// KeyFile keeps the store key next to the database, readable by owner only.
type KeyFile struct {
	path string
}

func NewKeyFile(dataDir string) *KeyFile {
	return &KeyFile{path: filepath.Join(dataDir, storeKeyFile)}
}

func (f *KeyFile) Key() ([]byte, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read store key: %w", err)
	}
	return decodeStoreKey(string(raw), f.path)
}

func (f *KeyFile) Save(key []byte) error {
	if len(key) != storeKeyLen {
		return fmt.Errorf("store key is %d bytes, need %d", len(key), storeKeyLen)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(f.path, []byte(hex.EncodeToString(key)+"\n"), 0o600); err != nil {
		return fmt.Errorf("write store key: %w", err)
	}
	return nil
}

func (f *KeyFile) Present() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// KeyEnv reads a provisioned key from an environment variable.
type KeyEnv string

func (e KeyEnv) Key() ([]byte, error) {
	return decodeStoreKey(os.Getenv(string(e)), string(e))
}

func (e KeyEnv) Save([]byte) error {
	return fmt.Errorf("%s: %w", string(e), errReadOnlyKey)
}

func (e KeyEnv) Present() bool {
	return strings.TrimSpace(os.Getenv(string(e))) != ""
}

// GenerateKey returns a random store key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, storeKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate store key: %w", err)
	}
	return key, nil
}

// loadOrCreateKey returns the key in src, generating and saving one on first use.
func loadOrCreateKey(src domain.KeySource) ([]byte, error) {
	if src.Present() {
		return src.Key()
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := src.Save(key); err != nil {
		return nil, err
	}
	return key, nil
}

// ResolveStoreKey prefers a provisioned environment key over the key file in
// dataDir, which is created on first start.
func ResolveStoreKey(dataDir string) ([]byte, error) {
	if env := KeyEnv(StoreKeyEnv); env.Present() {
		return env.Key()
	}
	return loadOrCreateKey(NewKeyFile(dataDir))
}

// ResolveAdminToken returns the bearer token guarding the admin API, creating
// it in dataDir on first use. Only the owner of dataDir can read it.
func ResolveAdminToken(dataDir string) (string, error) {
	token, err := loadOrCreateKey(&KeyFile{path: filepath.Join(dataDir, adminTokenFile)})
	if err != nil {
		return "", fmt.Errorf("admin token: %w", err)
	}
	return hex.EncodeToString(token), nil
}

var (
	_ domain.KeySource = (*KeyFile)(nil)
	_ domain.KeySource = KeyEnv("")
)
