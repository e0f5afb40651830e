// Package vault implements the encrypted credential store. Credentials are
// encrypted twice: username and password are sealed individually before the
// document is serialized, and the serialized document is sealed again as the
// file payload. A disk scan never sees plaintext, and a JSON-level leak still
// only exposes field ciphertexts.
//
// The vault is a single file, mode 0600, written atomically. Writes are
// serialized by an in-process mutex; two processes writing the same vault
// file is unsupported.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vya-io/vya/internal/crypto"
)

// Version is the on-disk document version. Future versions must keep the
// document shape and add fields additively.
const Version = "1.0.0"

// DefaultPath is the conventional vault location relative to the working
// directory.
const DefaultPath = ".secrets/vault.json.enc"

var (
	// ErrNotFound is returned by Get and Metadata for unknown credential ids.
	ErrNotFound = errors.New("vault: credential not found")

	// ErrCorrupt is returned by Load when the file exists but cannot be
	// decrypted or parsed. The in-memory vault is reset to empty in that case.
	ErrCorrupt = errors.New("vault: vault file corrupt")
)

// Credential is a decrypted (username, password) pair.
type Credential struct {
	Username string
	Password string
}

// Metadata carries the non-secret attributes of a stored credential.
type Metadata struct {
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Description string
}

// Info summarizes the vault state for display.
type Info struct {
	Version        string
	Path           string
	Count          int
	SizeBytes      int64
	CacheSize      int
	KeyFingerprint string
}

// document is the serialized vault layout. Username and Password hold
// encrypted tokens, never plaintext.
type document struct {
	Version     string           `json:"version"`
	Credentials map[string]entry `json:"credentials"`
}

type entry struct {
	Username string        `json:"username"`
	Password string        `json:"password"`
	Metadata entryMetadata `json:"metadata"`
}

type entryMetadata struct {
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	Description string `json:"description"`
}

// Vault is the credential store. Create instances with New or Open.
// All methods are safe for concurrent use within one process.
type Vault struct {
	mu     sync.Mutex
	path   string
	enc    *crypto.Encryptor
	doc    document
	cache  map[string]Credential
	logger *zap.Logger
}

// New creates a Vault bound to path using the given encryptor. The file is
// not touched until Load or Save is called.
func New(path string, enc *crypto.Encryptor, logger *zap.Logger) *Vault {
	return &Vault{
		path:   path,
		enc:    enc,
		doc:    emptyDocument(),
		cache:  make(map[string]Credential),
		logger: logger.Named("vault"),
	}
}

// Open is New followed by Load. A missing file yields an empty vault.
func Open(path string, enc *crypto.Encryptor, logger *zap.Logger) (*Vault, error) {
	v := New(path, enc, logger)
	if _, err := v.Load(); err != nil {
		return nil, err
	}
	return v, nil
}

func emptyDocument() document {
	return document{Version: Version, Credentials: make(map[string]entry)}
}

// Load reads and decrypts the vault file, replacing the in-memory state and
// clearing the decrypted cache. A missing file is not an error: Load returns
// found=false and leaves an empty vault. A corrupt file resets the vault to
// empty and returns ErrCorrupt, never partial state.
func (v *Vault) Load() (found bool, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.doc = emptyDocument()
	v.cache = make(map[string]Credential)

	raw, err := os.ReadFile(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("vault: failed to read %s: %w", v.path, err)
	}

	plaintext, err := v.enc.Decrypt(string(raw))
	if err != nil {
		v.logger.Warn("vault file failed to decrypt, resetting to empty",
			zap.String("path", v.path), zap.Error(err))
		return false, fmt.Errorf("%w: %s", ErrCorrupt, err)
	}

	var doc document
	if err := json.Unmarshal([]byte(plaintext), &doc); err != nil {
		v.logger.Warn("vault file is not valid JSON, resetting to empty",
			zap.String("path", v.path), zap.Error(err))
		return false, fmt.Errorf("%w: %s", ErrCorrupt, err)
	}
	if doc.Version == "" || doc.Credentials == nil {
		v.logger.Warn("vault file missing required keys, resetting to empty",
			zap.String("path", v.path))
		return false, fmt.Errorf("%w: missing version or credentials", ErrCorrupt)
	}

	v.doc = doc
	return true, nil
}

// Save encrypts and writes the vault file with mode 0600, creating parent
// directories as needed. The write is atomic (temp file then rename) so a
// crash never leaves a torn vault on disk.
func (v *Vault) Save() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	raw, err := json.Marshal(v.doc)
	if err != nil {
		return fmt.Errorf("vault: failed to serialize document: %w", err)
	}

	sealed, err := v.enc.Encrypt(string(raw))
	if err != nil {
		return fmt.Errorf("vault: failed to encrypt document: %w", err)
	}

	dir := filepath.Dir(v.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("vault: failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".vault-*")
	if err != nil {
		return fmt.Errorf("vault: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: failed to set file mode: %w", err)
	}
	if _, err := tmp.WriteString(sealed); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vault: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, v.path); err != nil {
		return fmt.Errorf("vault: failed to replace %s: %w", v.path, err)
	}
	return nil
}

// Set stores or updates a credential. On update created_at is preserved and
// updated_at refreshed. The decrypted cache entry for id is invalidated.
func (v *Vault) Set(id, username, password, description string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	userToken, err := v.enc.Encrypt(username)
	if err != nil {
		return fmt.Errorf("vault: failed to encrypt username for %q: %w", id, err)
	}
	passToken, err := v.enc.Encrypt(password)
	if err != nil {
		return fmt.Errorf("vault: failed to encrypt password for %q: %w", id, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	createdAt := now
	if existing, ok := v.doc.Credentials[id]; ok && existing.Metadata.CreatedAt != "" {
		createdAt = existing.Metadata.CreatedAt
	}

	v.doc.Credentials[id] = entry{
		Username: userToken,
		Password: passToken,
		Metadata: entryMetadata{
			CreatedAt:   createdAt,
			UpdatedAt:   now,
			Description: description,
		},
	}
	delete(v.cache, id)
	return nil
}

// Get returns the decrypted credential for id, or ErrNotFound.
// Decrypted values are cached until the id is changed or the vault reloaded.
func (v *Vault) Get(id string) (Credential, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if cred, ok := v.cache[id]; ok {
		return cred, nil
	}

	e, ok := v.doc.Credentials[id]
	if !ok {
		return Credential{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	username, err := v.enc.Decrypt(e.Username)
	if err != nil {
		return Credential{}, fmt.Errorf("vault: failed to decrypt username for %q: %w", id, err)
	}
	password, err := v.enc.Decrypt(e.Password)
	if err != nil {
		return Credential{}, fmt.Errorf("vault: failed to decrypt password for %q: %w", id, err)
	}

	cred := Credential{Username: username, Password: password}
	v.cache[id] = cred
	return cred, nil
}

// Remove deletes a credential. Returns ErrNotFound for unknown ids.
func (v *Vault) Remove(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.doc.Credentials[id]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	delete(v.doc.Credentials, id)
	delete(v.cache, id)
	return nil
}

// List returns all credential ids in lexicographic order.
func (v *Vault) List() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	ids := make([]string, 0, len(v.doc.Credentials))
	for id := range v.doc.Credentials {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Exists reports whether a credential id is present.
func (v *Vault) Exists(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.doc.Credentials[id]
	return ok
}

// Metadata returns the non-secret attributes of a credential.
// Unparseable timestamps come back as zero times rather than errors.
func (v *Vault) Metadata(id string) (Metadata, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, ok := v.doc.Credentials[id]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	created, _ := time.Parse(time.RFC3339, e.Metadata.CreatedAt)
	updated, _ := time.Parse(time.RFC3339, e.Metadata.UpdatedAt)
	return Metadata{
		CreatedAt:   created,
		UpdatedAt:   updated,
		Description: e.Metadata.Description,
	}, nil
}

// Info reports the vault version, path, credential count, on-disk size,
// decrypted cache size, and the key fingerprint.
func (v *Vault) Info() Info {
	v.mu.Lock()
	defer v.mu.Unlock()

	var size int64
	if st, err := os.Stat(v.path); err == nil {
		size = st.Size()
	}
	return Info{
		Version:        v.doc.Version,
		Path:           v.path,
		Count:          len(v.doc.Credentials),
		SizeBytes:      size,
		CacheSize:      len(v.cache),
		KeyFingerprint: v.enc.KeyFingerprint(),
	}
}
