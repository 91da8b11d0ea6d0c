package volume

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/errdefs"
	"github.com/agentdb9/wsengine/pkg/runtime"
	"github.com/agentdb9/wsengine/pkg/store"
)

const backupMountPath = "/backup"

// DiskChecker reports free space on the filesystem holding a path
type DiskChecker interface {
	DiskFree(ctx context.Context, path string) (uint64, error)
}

// BackupConfig configures the backup service
type BackupConfig struct {
	// Dir holds one subdirectory of archives per project
	Dir string

	// MinFreeBytes refuses a backup when less space is free; 0 disables the check
	MinFreeBytes uint64
}

// BackupService snapshots and restores volume contents as gzip tarballs
type BackupService struct {
	volumes *Manager
	log     store.BackupLog
	config  BackupConfig
	disk    DiskChecker
	logger  *zap.Logger

	now func() time.Time
}

// NewBackupService creates a backup service. disk may be nil.
func NewBackupService(volumes *Manager, log store.BackupLog, config BackupConfig, disk DiskChecker, logger *zap.Logger) (*BackupService, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	dir, err := filepath.Abs(config.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve backup directory: %w", err)
	}
	config.Dir = dir
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &BackupService{
		volumes: volumes,
		log:     log,
		config:  config,
		disk:    disk,
		logger:  logger.Named("backup"),
		now:     time.Now,
	}, nil
}

// Dir returns the absolute backup directory
func (b *BackupService) Dir() string {
	return b.config.Dir
}

// Backup archives the project volume. A failed backup leaves no partial
// archive behind and is not retried.
func (b *BackupService) Backup(ctx context.Context, projectID string) (*api.BackupRecord, error) {
	if _, err := b.volumes.Inspect(ctx, projectID); err != nil {
		return nil, err
	}

	dir := filepath.Join(b.config.Dir, projectID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	if b.disk != nil && b.config.MinFreeBytes > 0 {
		free, err := b.disk.DiskFree(ctx, dir)
		if err != nil {
			return nil, fmt.Errorf("failed to check free space: %w", err)
		}
		if free < b.config.MinFreeBytes {
			return nil, errdefs.Conflict("backup.create", "project:"+projectID,
				"only %d bytes free in %s, need %d", free, dir, b.config.MinFreeBytes)
		}
	}

	createdAt := b.now().UTC()
	file := fmt.Sprintf("%s-%s.tar.gz", projectID, createdAt.Format("20060102T150405.000Z"))
	archive := filepath.Join(dir, file)
	if _, err := os.Stat(archive); err == nil {
		return nil, errdefs.Conflict("backup.create", "project:"+projectID, "backup %s already exists", archive)
	}

	_, err := b.volumes.runHelper(ctx, "backup.create", helperRun{
		projectID: projectID,
		readOnly:  true,
		command:   []string{"tar", "czf", backupMountPath + "/" + file, "-C", DataPath, "."},
		binds: []runtime.Mount{{
			Type:   runtime.MountTypeBind,
			Source: dir,
			Target: backupMountPath,
		}},
	})
	if err != nil {
		b.discard(archive)
		return nil, err
	}

	size, sum, err := checksum(archive)
	if err != nil {
		b.discard(archive)
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}

	rec := api.BackupRecord{
		ProjectID:  projectID,
		BackupPath: archive,
		SizeBytes:  size,
		Checksum:   sum,
		CreatedAt:  createdAt,
	}
	if err := b.log.AppendBackup(ctx, rec); err != nil {
		b.discard(archive)
		return nil, fmt.Errorf("failed to record backup: %w", err)
	}

	b.logger.Info("Backed up project volume",
		zap.String("project_id", projectID),
		zap.String("path", archive),
		zap.Int64("bytes", size),
	)
	return &rec, nil
}

// Restore replaces the volume contents with an archive. backupPath may be
// absolute or relative to the backup directory but must resolve inside it.
// A volume mounted by a running container is refused unless force is set.
func (b *BackupService) Restore(ctx context.Context, projectID, backupPath string, force bool) error {
	resource := "project:" + projectID
	archive, err := b.resolve(backupPath)
	if err != nil {
		return errdefs.Invalid("backup.restore", resource, "%v", err)
	}
	if _, err := os.Stat(archive); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errdefs.NotFound("backup.restore", "backup:"+backupPath)
		}
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	if _, err := b.volumes.Inspect(ctx, projectID); err != nil {
		return err
	}

	users, err := b.volumes.Users(ctx, projectID, true)
	if err != nil {
		return fmt.Errorf("failed to list volume users: %w", err)
	}
	if len(users) > 0 {
		if !force {
			return errdefs.Conflict("backup.restore", resource,
				"volume is mounted by running container(s) %s", containerIDs(users))
		}
		b.logger.Warn("Restoring into a mounted volume",
			zap.String("project_id", projectID),
			zap.String("containers", containerIDs(users)),
		)
	}

	if err := b.verify(ctx, archive); err != nil {
		return err
	}

	_, err = b.volumes.runHelper(ctx, "backup.restore", helperRun{
		projectID: projectID,
		command:   []string{"sh", "-c", `find "$DEST" -mindepth 1 -delete && tar xzf "$ARCHIVE" -C "$DEST"`},
		env: map[string]string{
			"ARCHIVE": backupMountPath + "/" + filepath.Base(archive),
			"DEST":    DataPath,
		},
		binds: []runtime.Mount{{
			Type:     runtime.MountTypeBind,
			Source:   filepath.Dir(archive),
			Target:   backupMountPath,
			ReadOnly: true,
		}},
	})
	if err != nil {
		return err
	}

	b.logger.Info("Restored project volume",
		zap.String("project_id", projectID),
		zap.String("path", archive),
	)
	return nil
}

// List returns the backup log for a project
func (b *BackupService) List(ctx context.Context, projectID string) ([]api.BackupRecord, error) {
	return b.log.ListBackups(ctx, projectID)
}

func (b *BackupService) resolve(backupPath string) (string, error) {
	if backupPath == "" {
		return "", fmt.Errorf("backup path is empty")
	}
	rel := backupPath
	if filepath.IsAbs(backupPath) {
		r, err := filepath.Rel(b.config.Dir, filepath.Clean(backupPath))
		if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("backup path %s is outside %s", backupPath, b.config.Dir)
		}
		rel = r
	}
	resolved, err := securejoin.SecureJoin(b.config.Dir, rel)
	if err != nil {
		return "", err
	}
	if resolved == b.config.Dir {
		return "", fmt.Errorf("backup path %s names the backup directory", backupPath)
	}
	return resolved, nil
}

// verify compares an archive against the checksum recorded for it, when
// the log knows the archive
func (b *BackupService) verify(ctx context.Context, archive string) error {
	projectID := filepath.Base(filepath.Dir(archive))
	records, err := b.log.ListBackups(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to read backup log: %w", err)
	}
	for _, rec := range records {
		if rec.BackupPath != archive || rec.Checksum == "" {
			continue
		}
		_, sum, err := checksum(archive)
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}
		if sum != rec.Checksum {
			b.logger.Error("Backup archive checksum mismatch",
				zap.String("path", archive),
				zap.String("expected", rec.Checksum),
				zap.String("actual", sum),
				zap.Stack("stack"),
			)
			return errdefs.InvariantViolation("backup.restore", "backup:"+archive,
				"checksum mismatch: recorded %s, found %s", rec.Checksum, sum)
		}
		return nil
	}
	return nil
}

func (b *BackupService) discard(archive string) {
	if err := os.Remove(archive); err != nil && !errors.Is(err, os.ErrNotExist) {
		b.logger.Warn("Failed to remove partial backup", zap.String("path", archive), zap.Error(err))
	}
}

// checksum returns the size and hex BLAKE2b-256 digest of a file
func checksum(file string) (int64, string, error) {
	f, err := os.Open(file)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return 0, "", err
	}
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
