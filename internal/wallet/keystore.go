package wallet

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/99designs/keyring"
)

const keychainService = "w3permit"

// KeyEnvVar, when set, supplies the signing key for every wallet. It is meant
// for CI and scripted permit signing where no keychain exists.
const KeyEnvVar = "W3PERMIT_KEY"

// ErrKeystoreUnavailable is returned when no keychain backend could be opened.
var ErrKeystoreUnavailable = errors.New("keystore not available")

// KeystoreBackend stores and retrieves hex private keys by reference.
type KeystoreBackend interface {
	Store(name, hexKey string) (string, error)
	Retrieve(ref string) (string, error)
	Delete(ref string) error
}

// sessionCache holds keys retrieved in this process so a command that signs
// several times touches the keychain once.
var sessionCache sync.Map

// Keystore wraps OS keychain access.
type Keystore struct {
	ring    keyring.Keyring
	session *Session
}

// DefaultKeystore returns a keystore backed by the OS keychain.
func DefaultKeystore() *Keystore {
	cfg := keyring.Config{
		ServiceName:              keychainService,
		KeychainTrustApplication: true,
	}

	// Headless Linux has no secret service; fall back to the file backend.
	if runtime.GOOS == "linux" {
		cfg.AllowedBackends = []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.FileBackend,
		}
	}

	ring, err := keyring.Open(cfg)
	if err != nil {
		ring, _ = keyring.Open(keyring.Config{
			ServiceName:     keychainService,
			AllowedBackends: []keyring.BackendType{keyring.FileBackend},
		})
	}

	return &Keystore{ring: ring, session: DefaultSession()}
}

// NewFileKeystore opens an encrypted file keyring in dir.
func NewFileKeystore(dir string, password string, session *Session) (*Keystore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:      keychainService,
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          dir,
		FilePasswordFunc: keyring.FixedStringPrompt(password),
	})
	if err != nil {
		return nil, fmt.Errorf("opening file keyring: %w", err)
	}
	return &Keystore{ring: ring, session: session}, nil
}

// Store saves a private key for a wallet name and returns a reference key.
func (k *Keystore) Store(name, hexKey string) (string, error) {
	if k.ring == nil {
		return "", ErrKeystoreUnavailable
	}
	ref := keyRef(name)
	err := k.ring.Set(keyring.Item{
		Key:   ref,
		Data:  []byte(normaliseHexKey(hexKey)),
		Label: "w3permit wallet " + name,
	})
	if err != nil {
		return "", fmt.Errorf("keychain store: %w", err)
	}
	return ref, nil
}

// Retrieve fetches a private key by its reference. Lookup order is the
// KeyEnvVar override, the in-process cache, the unlocked session file and
// finally the keychain.
func (k *Keystore) Retrieve(ref string) (string, error) {
	if v := os.Getenv(KeyEnvVar); v != "" {
		return normaliseHexKey(v), nil
	}
	if v, ok := sessionCache.Load(ref); ok {
		return v.(string), nil
	}
	if k.session != nil {
		if v, ok := k.session.Get(ref); ok {
			sessionCache.Store(ref, v)
			return v, nil
		}
	}
	if k.ring == nil {
		return "", ErrKeystoreUnavailable
	}
	item, err := k.ring.Get(ref)
	if err != nil {
		return "", fmt.Errorf("keychain retrieve: %w", err)
	}
	key := string(item.Data)
	sessionCache.Store(ref, key)
	return key, nil
}

// Delete removes a stored key from the keychain and every cache.
func (k *Keystore) Delete(ref string) error {
	sessionCache.Delete(ref)
	if k.session != nil {
		if err := k.session.Remove(ref); err != nil {
			return err
		}
	}
	if k.ring == nil {
		return nil
	}
	if err := k.ring.Remove(ref); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

// InMemoryKeystore keeps keys in a map (for tests).
type InMemoryKeystore struct {
	mu   sync.Mutex
	data map[string]string
}

// NewInMemoryKeystore creates an in-memory keystore.
func NewInMemoryKeystore() *InMemoryKeystore {
	return &InMemoryKeystore{data: make(map[string]string)}
}

func (k *InMemoryKeystore) Store(name, hexKey string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	ref := keyRef(name)
	k.data[ref] = normaliseHexKey(hexKey)
	return ref, nil
}

func (k *InMemoryKeystore) Retrieve(ref string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.data[ref]
	if !ok {
		return "", fmt.Errorf("key not found: %s", ref)
	}
	return v, nil
}

func (k *InMemoryKeystore) Delete(ref string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.data, ref)
	return nil
}

func keyRef(name string) string { return keychainService + "." + name }

// normaliseHexKey trims whitespace and any 0x prefix.
func normaliseHexKey(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
