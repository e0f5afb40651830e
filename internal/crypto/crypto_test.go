package crypto

import (
	"strings"
	"testing"

	. "github.com/onsi/gomega"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	g := NewWithT(t)
	enc := NewEncryptor(DeriveKey("test-host"))

	for _, plaintext := range []string{"", "hunter2", "päßwörd ☃", strings.Repeat("x", 4096)} {
		token, err := enc.Encrypt(plaintext)
		g.Expect(err).NotTo(HaveOccurred())

		got, err := enc.Decrypt(token)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(got).To(Equal(plaintext))
	}
}

func TestEncryptProducesDistinctTokens(t *testing.T) {
	g := NewWithT(t)
	enc := NewEncryptor(DeriveKey("test-host"))

	a, err := enc.Encrypt("same input")
	g.Expect(err).NotTo(HaveOccurred())
	b, err := enc.Encrypt("same input")
	g.Expect(err).NotTo(HaveOccurred())

	// Random nonce per call: identical plaintexts must not produce
	// identical tokens.
	g.Expect(a).NotTo(Equal(b))
}

func TestDecryptRejectsGarbage(t *testing.T) {
	g := NewWithT(t)
	enc := NewEncryptor(DeriveKey("test-host"))

	for _, token := range []string{"", "not base64 ***", "YWJj", "YWJjZGVmZ2hpamtsbW5vcHFyc3R1dnd4eXo="} {
		_, err := enc.Decrypt(token)
		g.Expect(err).To(MatchError(ErrInvalidToken))
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	g := NewWithT(t)
	a := NewEncryptor(DeriveKey("host-a"))
	b := NewEncryptor(DeriveKey("host-b"))

	token, err := a.Encrypt("secret")
	g.Expect(err).NotTo(HaveOccurred())

	_, err = b.Decrypt(token)
	g.Expect(err).To(MatchError(ErrInvalidToken))
}

func TestDecryptRejectsTamperedToken(t *testing.T) {
	g := NewWithT(t)
	enc := NewEncryptor(DeriveKey("test-host"))

	token, err := enc.Encrypt("secret")
	g.Expect(err).NotTo(HaveOccurred())

	// Flip one character in the base64 body.
	mutated := []byte(token)
	if mutated[10] == 'A' {
		mutated[10] = 'B'
	} else {
		mutated[10] = 'A'
	}

	_, err = enc.Decrypt(string(mutated))
	g.Expect(err).To(MatchError(ErrInvalidToken))
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	g := NewWithT(t)
	g.Expect(DeriveKey("db01")).To(Equal(DeriveKey("db01")))
	g.Expect(DeriveKey("db01")).NotTo(Equal(DeriveKey("db02")))
	g.Expect(DeriveKey("db01")).To(HaveLen(32))
}
