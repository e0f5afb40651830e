package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/vya-io/vya/internal/crypto"
	"github.com/vya-io/vya/internal/database"
	"github.com/vya-io/vya/internal/storage"
	"github.com/vya-io/vya/internal/vault"
)

const sampleConfig = `
log:
  level: debug
email:
  enabled: false
  host: mail.example.com
  port: 587
  from: backup@example.com
  to: [ops@example.com]
metrics:
  enabled: true
  addr: ":9200"
instances:
  - id: mysql-prod
    kind: mysql
    host: db.example.com
    port: 3306
    username: from_config
    password: config_secret
    database: orders
    enabled: true
  - id: etc-files
    kind: files
    include: ["/etc/app/*.conf"]
    enabled: true
bkp_system:
  path_zip: /var/backups/vya
  retention_files: 14
alerts:
  - name: slow-backup
    severity: warning
    field: duration_seconds
    op: ">"
    threshold: 3600
    cooldown_seconds: 1800
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	g := NewWithT(t)

	cfg, err := Load(writeConfig(t, sampleConfig))
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(cfg.Log.Level).To(Equal("debug"))
	g.Expect(cfg.Metrics.Addr).To(Equal(":9200"))
	g.Expect(cfg.System.PathZip).To(Equal("/var/backups/vya"))
	g.Expect(cfg.System.RetentionFiles).To(Equal(14))

	// Defaults fill the gaps.
	g.Expect(cfg.Scheduler.Dir).To(HaveSuffix("schedules"))
	g.Expect(cfg.Storage.Type).To(Equal(storage.KindLocal))
	g.Expect(cfg.Storage.Path).To(Equal("/var/backups/vya"))
	g.Expect(cfg.Backup.TempDir).NotTo(BeEmpty())
	g.Expect(cfg.Instances[0].ConnectTimeout).To(Equal(database.DefaultConnectTimeout))
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	g := NewWithT(t)

	_, err := Load(writeConfig(t, "instances:\n  - id: a\n    kind: oracle\n"))
	g.Expect(err).To(HaveOccurred())

	_, err = Load(writeConfig(t, "instances:\n  - kind: mysql\n"))
	g.Expect(err).To(HaveOccurred())

	dup := "instances:\n  - id: a\n    kind: mysql\n  - id: a\n    kind: postgresql\n"
	_, err = Load(writeConfig(t, dup))
	g.Expect(err).To(MatchError(ContainSubstring("duplicate")))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	g.Expect(err).To(HaveOccurred())

	_, err = Load(writeConfig(t, "log: [not a map"))
	g.Expect(err).To(HaveOccurred())
}

func TestAlertRules(t *testing.T) {
	g := NewWithT(t)

	cfg, err := Load(writeConfig(t, sampleConfig))
	g.Expect(err).NotTo(HaveOccurred())

	rules, err := cfg.AlertRules()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(rules).To(HaveLen(1))
	g.Expect(rules[0].Name).To(Equal("slow-backup"))
	g.Expect(rules[0].Enabled).To(BeTrue())
	g.Expect(rules[0].Cooldown).To(Equal(30 * time.Minute))
	g.Expect(rules[0].Condition.Threshold).To(Equal(3600.0))

	// A malformed rule fails config validation as a whole.
	bad := sampleConfig + "  - name: bad\n    severity: warning\n    field: x\n    op: \"~\"\n    threshold: 1\n"
	_, err = Load(writeConfig(t, bad))
	g.Expect(err).To(MatchError(ContainSubstring("alert")))
}

func TestInstanceLookup(t *testing.T) {
	g := NewWithT(t)

	cfg, err := Load(writeConfig(t, sampleConfig))
	g.Expect(err).NotTo(HaveOccurred())

	inst, err := cfg.Instance("mysql-prod")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(inst.Kind).To(Equal(database.KindMySQL))
	g.Expect(inst.Database).To(Equal("orders"))

	_, err = cfg.Instance("nope")
	g.Expect(err).To(HaveOccurred())
}

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	enc := crypto.NewEncryptor(crypto.DeriveKey("config-test"))
	return vault.New(filepath.Join(t.TempDir(), "vault.enc"), enc, zap.NewNop())
}

func TestResolverPrefersVault(t *testing.T) {
	g := NewWithT(t)

	cfg, err := Load(writeConfig(t, sampleConfig))
	g.Expect(err).NotTo(HaveOccurred())

	v := newTestVault(t)
	g.Expect(v.Set("db_mysql-prod", "vault_user", "vault_secret", "")).To(Succeed())

	r := NewResolver(cfg, v)
	inst, err := r.Instance("mysql-prod")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(inst.Username).To(Equal("vault_user"))
	g.Expect(inst.Password).To(Equal("vault_secret"))
}

func TestResolverFallsBackToConfig(t *testing.T) {
	g := NewWithT(t)

	cfg, err := Load(writeConfig(t, sampleConfig))
	g.Expect(err).NotTo(HaveOccurred())

	// Vault present but has no entry for this instance.
	r := NewResolver(cfg, newTestVault(t))
	inst, err := r.Instance("mysql-prod")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(inst.Username).To(Equal("from_config"))
	g.Expect(inst.Password).To(Equal("config_secret"))

	// No vault at all.
	r = NewResolver(cfg, nil)
	inst, err = r.Instance("mysql-prod")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(inst.Password).To(Equal("config_secret"))
}

func TestResolverSkipsCredentialsForFiles(t *testing.T) {
	g := NewWithT(t)

	cfg, err := Load(writeConfig(t, sampleConfig))
	g.Expect(err).NotTo(HaveOccurred())

	v := newTestVault(t)
	g.Expect(v.Set("db_etc-files", "unused", "unused", "")).To(Succeed())

	r := NewResolver(cfg, v)
	inst, err := r.Instance("etc-files")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(inst.Username).To(BeEmpty())
}

func TestResolverSMTP(t *testing.T) {
	g := NewWithT(t)

	cfg, err := Load(writeConfig(t, sampleConfig))
	g.Expect(err).NotTo(HaveOccurred())

	v := newTestVault(t)
	g.Expect(v.Set("smtp", "mailer", "mail_secret", "")).To(Succeed())

	r := NewResolver(cfg, v)
	smtp, err := r.SMTP()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(smtp.Username).To(Equal("mailer"))
	g.Expect(smtp.Password).To(Equal("mail_secret"))
	g.Expect(smtp.Host).To(Equal("mail.example.com"))
}

func TestResolveForScheduler(t *testing.T) {
	g := NewWithT(t)

	cfg, err := Load(writeConfig(t, sampleConfig))
	g.Expect(err).NotTo(HaveOccurred())

	r := NewResolver(cfg, nil)
	inst, store, backup, err := r.Resolve("mysql-prod")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(inst.ID).To(Equal("mysql-prod"))
	g.Expect(store.Type).To(Equal(storage.KindLocal))
	g.Expect(backup.TempDir).NotTo(BeEmpty())

	_, _, _, err = r.Resolve("missing")
	g.Expect(err).To(HaveOccurred())
}

func TestVaultFileResolution(t *testing.T) {
	g := NewWithT(t)

	cfg, err := Load(writeConfig(t, sampleConfig))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.VaultFile()).To(HaveSuffix(filepath.Join(".secrets", "vault.json.enc")))

	cfg.VaultPath = "/custom/vault.enc"
	g.Expect(cfg.VaultFile()).To(Equal("/custom/vault.enc"))
}
