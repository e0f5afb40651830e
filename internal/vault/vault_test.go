package vault

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/vya-io/vya/internal/crypto"
)

func newTestVault(t *testing.T) (*Vault, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets", "vault.json.enc")
	enc := crypto.NewEncryptor(crypto.DeriveKey("vault-test-host"))
	return New(path, enc, zap.NewNop()), path
}

func TestRoundTripThroughFreshInstance(t *testing.T) {
	g := NewWithT(t)
	v, path := newTestVault(t)

	g.Expect(v.Set("mysql-prod", "root", "hunter2", "Prod MySQL")).To(Succeed())
	g.Expect(v.Save()).To(Succeed())

	// Re-open with a fresh vault instance over the same file.
	enc := crypto.NewEncryptor(crypto.DeriveKey("vault-test-host"))
	fresh, err := Open(path, enc, zap.NewNop())
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(fresh.List()).To(Equal([]string{"mysql-prod"}))

	cred, err := fresh.Get("mysql-prod")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cred).To(Equal(Credential{Username: "root", Password: "hunter2"}))

	meta, err := fresh.Metadata("mysql-prod")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(meta.Description).To(Equal("Prod MySQL"))
	g.Expect(meta.CreatedAt).NotTo(BeZero())
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	g := NewWithT(t)
	v, _ := newTestVault(t)

	found, err := v.Load()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(found).To(BeFalse())
	g.Expect(v.List()).To(BeEmpty())
}

func TestLoadCorruptFileResetsToEmpty(t *testing.T) {
	g := NewWithT(t)
	v, path := newTestVault(t)

	g.Expect(os.MkdirAll(filepath.Dir(path), 0o700)).To(Succeed())
	g.Expect(os.WriteFile(path, []byte("not a vault"), 0o600)).To(Succeed())

	_, err := v.Load()
	g.Expect(err).To(MatchError(ErrCorrupt))
	g.Expect(v.List()).To(BeEmpty())
}

func TestSetPreservesCreatedAt(t *testing.T) {
	g := NewWithT(t)
	v, _ := newTestVault(t)

	g.Expect(v.Set("pg", "admin", "one", "first")).To(Succeed())
	first, err := v.Metadata("pg")
	g.Expect(err).NotTo(HaveOccurred())

	time.Sleep(1100 * time.Millisecond) // RFC3339 second resolution

	g.Expect(v.Set("pg", "admin", "two", "second")).To(Succeed())
	second, err := v.Metadata("pg")
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(second.CreatedAt).To(Equal(first.CreatedAt))
	g.Expect(second.UpdatedAt.After(first.UpdatedAt)).To(BeTrue())
	g.Expect(second.Description).To(Equal("second"))

	cred, err := v.Get("pg")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cred.Password).To(Equal("two"))
}

func TestListIsSorted(t *testing.T) {
	g := NewWithT(t)
	v, _ := newTestVault(t)

	for _, id := range []string{"zeta", "alpha", "Mid", "beta"} {
		g.Expect(v.Set(id, "u", "p", "")).To(Succeed())
	}
	g.Expect(v.List()).To(Equal([]string{"Mid", "alpha", "beta", "zeta"}))
}

func TestRemoveAndExists(t *testing.T) {
	g := NewWithT(t)
	v, _ := newTestVault(t)

	g.Expect(v.Set("smtp", "mailer", "secret", "")).To(Succeed())
	g.Expect(v.Exists("smtp")).To(BeTrue())

	g.Expect(v.Remove("smtp")).To(Succeed())
	g.Expect(v.Exists("smtp")).To(BeFalse())
	g.Expect(v.Remove("smtp")).To(MatchError(ErrNotFound))

	_, err := v.Get("smtp")
	g.Expect(err).To(MatchError(ErrNotFound))
}

func TestFileModeAndFieldLevelEncryption(t *testing.T) {
	g := NewWithT(t)
	v, path := newTestVault(t)

	g.Expect(v.Set("db_1", "root", "topsecret", "")).To(Succeed())
	g.Expect(v.Save()).To(Succeed())

	st, err := os.Stat(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(st.Mode().Perm()).To(Equal(os.FileMode(0o600)))

	// The raw file must not contain plaintext anywhere.
	raw, err := os.ReadFile(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(raw)).NotTo(ContainSubstring("topsecret"))
	g.Expect(string(raw)).NotTo(ContainSubstring("credentials"))

	// Even the decrypted document must only hold field tokens.
	enc := crypto.NewEncryptor(crypto.DeriveKey("vault-test-host"))
	plaintext, err := enc.Decrypt(string(raw))
	g.Expect(err).NotTo(HaveOccurred())

	var doc map[string]any
	g.Expect(json.Unmarshal([]byte(plaintext), &doc)).To(Succeed())
	g.Expect(doc["version"]).To(Equal("1.0.0"))
	g.Expect(plaintext).NotTo(ContainSubstring("topsecret"))
}

func TestSaveLoadSaveIsStable(t *testing.T) {
	g := NewWithT(t)
	v, path := newTestVault(t)

	g.Expect(v.Set("a", "u1", "p1", "d1")).To(Succeed())
	g.Expect(v.Set("b", "u2", "p2", "d2")).To(Succeed())
	g.Expect(v.Save()).To(Succeed())

	enc := crypto.NewEncryptor(crypto.DeriveKey("vault-test-host"))
	second, err := Open(path, enc, zap.NewNop())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(second.Save()).To(Succeed())

	third, err := Open(path, enc, zap.NewNop())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(third.List()).To(Equal([]string{"a", "b"}))
	for id, want := range map[string]Credential{
		"a": {Username: "u1", Password: "p1"},
		"b": {Username: "u2", Password: "p2"},
	} {
		cred, err := third.Get(id)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(cred).To(Equal(want))
	}
}

func TestInfo(t *testing.T) {
	g := NewWithT(t)
	v, path := newTestVault(t)

	g.Expect(v.Set("one", "u", "p", "")).To(Succeed())
	g.Expect(v.Save()).To(Succeed())
	_, _ = v.Get("one")

	info := v.Info()
	g.Expect(info.Version).To(Equal(Version))
	g.Expect(info.Path).To(Equal(path))
	g.Expect(info.Count).To(Equal(1))
	g.Expect(info.SizeBytes).To(BeNumerically(">", 0))
	g.Expect(info.CacheSize).To(Equal(1))
	g.Expect(info.KeyFingerprint).To(HaveLen(16))
}
