package engine

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/vya-io/vya/internal/compress"
	"github.com/vya-io/vya/internal/database"
	"github.com/vya-io/vya/internal/storage"
)

// FullRestore downloads an artifact, decompresses it when needed, and loads
// it through the adapter. All scratch files live in a scoped temporary
// directory removed on every exit path.
type FullRestore struct {
	logger *zap.Logger
}

// NewFullRestore creates the strategy.
func NewFullRestore(logger *zap.Logger) *FullRestore {
	return &FullRestore{logger: logger.Named("restore")}
}

// Execute runs one restore attempt. Failures name the step that broke:
// download, decompress, or restore.
func (f *FullRestore) Execute(ctx context.Context, adapter database.Adapter, backend storage.Backend, rc *RestoreContext) error {
	scratch, err := os.MkdirTemp(rc.Backup.TempDir, "restore-*")
	if err != nil {
		return E(KindOperation, "tempdir", err)
	}
	defer os.RemoveAll(scratch)

	localPath := filepath.Join(scratch, filepath.Base(rc.BackupFile))
	if err := backend.Download(ctx, rc.BackupFile, localPath); err != nil {
		return E(KindConnectivity, "download", err)
	}
	rc.DownloadPath = localPath

	restorePath := localPath
	if rc.NeedsDecompression() {
		decompressed := stripSuffix(localPath)
		f.logger.Info("decompressing artifact",
			zap.String("file", rc.BackupFile),
			zap.String("method", rc.CompressionType()))
		if err := compress.Decompress(localPath, decompressed, compress.None); err != nil {
			return E(KindOperation, "decompress", err)
		}
		rc.DecompressedPath = decompressed
		restorePath = decompressed
	}

	if ctx.Err() != nil {
		return E(KindCancelled, "restore", ctx.Err())
	}

	target := rc.Target()
	f.logger.Info("restoring database",
		zap.String("instance", rc.Instance.ID),
		zap.String("database", target),
		zap.String("file", restorePath))
	if err := adapter.RestoreDatabase(ctx, target, restorePath); err != nil {
		return E(KindOperation, "restore", err)
	}

	if st, err := os.Stat(restorePath); err == nil {
		rc.RestoredSize = st.Size()
	}
	return nil
}
