// SPDX-License-Identifier: MIT

package registry

import (
	"os"
	"path/filepath"

	"github.com/AmmieNyami/userserversd-go/internal/config"
)

// backupLocked snapshots the current on-disk configuration file before it
// is overwritten, then prunes old snapshots beyond keepBackups. Callers must
// hold mu. A missing configuration file (first-ever flush) is not an error.
func (r *Registry) backupLocked() error {
	if r.backupDir == "" {
		return nil
	}
	if _, err := os.Stat(r.configPath); os.IsNotExist(err) {
		return nil
	}

	if _, err := config.BackupConfig(r.configPath, r.backupDir); err != nil {
		return err
	}
	if _, err := config.CleanOldBackups(r.backupDir, filepath.Base(r.configPath), r.keepBackups); err != nil {
		r.log.Warn("registry: backup: prune failed", "error", err)
	}
	return nil
}
