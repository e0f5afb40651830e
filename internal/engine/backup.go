package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
	"go.uber.org/zap"

	"github.com/vya-io/vya/internal/compress"
	"github.com/vya-io/vya/internal/database"
	"github.com/vya-io/vya/internal/retention"
	"github.com/vya-io/vya/internal/storage"
)

// FullBackup is the complete-dump strategy: enumerate targets, dump each,
// compress, upload, release scratch files. Per-database failures are
// recoverable under the best-effort policy.
type FullBackup struct {
	logger *zap.Logger
}

// NewFullBackup creates the strategy.
func NewFullBackup(logger *zap.Logger) *FullBackup {
	return &FullBackup{logger: logger.Named("backup")}
}

// Execute runs one attempt over all targets. Returns nil when at least one
// target succeeded (best-effort) or all targets succeeded (all-or-nothing).
func (f *FullBackup) Execute(ctx context.Context, adapter database.Adapter, backend storage.Backend, bc *BackupContext) error {
	server, err := adapter.Databases(ctx)
	if err != nil {
		return E(KindConnectivity, "enumerate", err)
	}

	var targets []string
	if bc.Instance.Kind == database.KindFiles {
		// File patterns are the targets themselves; include/exclude set
		// arithmetic applies to database names only.
		targets = server
	} else {
		targets = database.SelectTargets(bc.Instance.Include, bc.Instance.Exclude, server)
	}
	if len(targets) == 0 {
		return E(KindConfig, "enumerate", fmt.Errorf("no databases selected on %s", bc.Instance.ID))
	}

	if err := os.MkdirAll(bc.Backup.TempDir, 0o755); err != nil {
		return E(KindOperation, "tempdir", err)
	}
	f.checkDiskSpace(bc.Backup.TempDir)

	method, err := parseCompression(bc.Backup.Compression)
	if err != nil {
		return E(KindConfig, "compression", err)
	}

	succeeded := 0
	for _, target := range targets {
		if ctx.Err() != nil {
			return E(KindCancelled, "backup", ctx.Err())
		}

		res, err := f.backupOne(ctx, adapter, backend, bc, target, method)
		res.Database = target
		res.Err = err
		bc.Results = append(bc.Results, res)

		if err != nil {
			f.logger.Error("database backup failed",
				zap.String("instance", bc.Instance.ID),
				zap.String("database", target),
				zap.Error(err))
			if bc.Backup.Policy == PolicyAllOrNothing {
				return E(KindOperation, "backup", fmt.Errorf("database %s: %w", target, err))
			}
			continue
		}

		succeeded++
		bc.BackupSize += res.RawSize
		bc.CompressedSize += res.CompressedSize
	}

	if succeeded == 0 {
		return E(KindOperation, "backup", fmt.Errorf("all %d databases failed on %s", len(targets), bc.Instance.ID))
	}
	return nil
}

// backupOne dumps, compresses, and uploads a single target.
func (f *FullBackup) backupOne(ctx context.Context, adapter database.Adapter, backend storage.Backend, bc *BackupContext, target string, method compress.Method) (TargetResult, error) {
	var res TargetResult
	// Artifact names carry the run's start time: one run, one timestamp,
	// stable across targets and retries.
	start := bc.StartTime

	dumpExt := "sql"
	artifactMethod := method
	if bc.Instance.Kind == database.KindFiles {
		// The files adapter already produces a gzipped tar; no second pass.
		dumpExt = "tar.gz"
		artifactMethod = compress.None
	}

	dumpName := retention.ArtifactName(start, string(bc.Instance.Kind), safeName(target), dumpExt)
	dumpPath := filepath.Join(bc.Backup.TempDir, dumpName)
	bc.addTemp(dumpPath)

	f.logger.Info("backing up database",
		zap.String("instance", bc.Instance.ID),
		zap.String("database", target),
		zap.String("command", adapter.BackupCommand(target, dumpPath)))

	if err := adapter.BackupDatabase(ctx, target, dumpPath); err != nil {
		return res, E(KindOperation, "dump", err)
	}
	if st, err := os.Stat(dumpPath); err == nil {
		res.RawSize = st.Size()
	}
	res.ArtifactPath = dumpPath

	uploadPath := dumpPath
	uploadName := dumpName
	if artifactMethod != compress.None {
		uploadName = retention.ArtifactName(start, string(bc.Instance.Kind), safeName(target),
			strings.TrimPrefix(artifactMethod.Ext(), "."))
		uploadPath = filepath.Join(bc.Backup.TempDir, uploadName)
		bc.addTemp(uploadPath)
		if err := compress.Compress(dumpPath, uploadPath, artifactMethod); err != nil {
			return res, E(KindOperation, "compress", err)
		}
		res.ArtifactPath = uploadPath
	}
	if st, err := os.Stat(uploadPath); err == nil {
		res.CompressedSize = st.Size()
	}
	if ratio, ok := compress.Ratio(dumpPath, uploadPath); ok && artifactMethod != compress.None {
		f.logger.Debug("compressed artifact",
			zap.String("database", target),
			zap.Float64("ratio", ratio))
	}

	if err := backend.Upload(ctx, uploadPath, uploadName); err != nil {
		return res, E(KindConnectivity, "upload", err)
	}
	res.StorageLocation = backend.Location(uploadName)

	f.logger.Info("database backed up",
		zap.String("database", target),
		zap.String("location", res.StorageLocation),
		zap.Int64("raw_bytes", res.RawSize),
		zap.Int64("stored_bytes", res.CompressedSize))
	return res, nil
}

// checkDiskSpace warns when the scratch volume is nearly full. Dumps are
// written there before upload, so a full volume fails mid-dump with a
// less obvious error.
func (f *FullBackup) checkDiskSpace(dir string) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return
	}
	if usage.UsedPercent >= 90 {
		f.logger.Warn("scratch volume nearly full",
			zap.String("path", dir),
			zap.Uint64("free_bytes", usage.Free),
			zap.Float64("used_percent", usage.UsedPercent))
	}
}

// parseCompression maps the config string to a method; empty means none.
func parseCompression(s string) (compress.Method, error) {
	if s == "" || s == "none" {
		return compress.None, nil
	}
	return compress.ParseMethod(s)
}
