package safety

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nocturnd/nocturnd/internal/git"
)

// BackupType selects the backup strategy.
type BackupType string

const (
	// BackupFull copies the whole project tree.
	BackupFull BackupType = "full"
	// BackupIncremental copies files changed since the previous backup.
	BackupIncremental BackupType = "incremental"
	// BackupGit records the current commit without copying files.
	BackupGit BackupType = "git"
	// BackupCritical copies only build and configuration files.
	BackupCritical BackupType = "critical"
)

// Valid returns true if the type is a known value.
func (t BackupType) Valid() bool {
	switch t {
	case BackupFull, BackupIncremental, BackupGit, BackupCritical:
		return true
	default:
		return false
	}
}

// VerificationStatus records the last integrity-check outcome of a backup.
type VerificationStatus string

const (
	// VerificationUnverified means the backup has not been checked yet.
	VerificationUnverified VerificationStatus = "unverified"
	// VerificationVerified means the last check passed.
	VerificationVerified VerificationStatus = "verified"
	// VerificationCorrupt means the last check failed.
	VerificationCorrupt VerificationStatus = "corrupt"
)

// BackupInfo describes one stored backup.
type BackupInfo struct {
	ID           string             `json:"id"`
	Type         BackupType         `json:"type"`
	Path         string             `json:"path"`
	SizeBytes    int64              `json:"size_bytes"`
	FileCount    int                `json:"file_count"`
	GitCommit    string             `json:"git_commit,omitempty"`
	GitBranch    string             `json:"git_branch,omitempty"`
	Checksum     string             `json:"checksum,omitempty"`
	SessionID    string             `json:"session_id"`
	Verification VerificationStatus `json:"verification_status"`
	CreatedAt    time.Time          `json:"created_at"`
}

// excludedDirs are never copied into a backup.
var excludedDirs = map[string]bool{
	".git":         true,
	".nocturnd":    true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"vendor":       true,
}

// criticalFiles are the build and configuration files a critical backup
// preserves.
var criticalFiles = []string{
	"go.mod", "go.sum",
	"package.json", "package-lock.json",
	"requirements.txt", "pyproject.toml",
	"Makefile", "Dockerfile",
	".nocturnd.yaml",
}

// BackupManager creates, verifies, restores, and prunes backups under the
// project's .nocturnd/backups directory.
type BackupManager struct {
	projectPath   string
	backupDir     string
	store         *Store
	git           git.Runner
	retentionDays int
	maxBackups    int
}

// NewBackupManager creates a backup manager rooted at the project.
func NewBackupManager(projectPath string, store *Store, gitRunner git.Runner, retentionDays, maxBackups int) *BackupManager {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if maxBackups <= 0 {
		maxBackups = 50
	}
	return &BackupManager{
		projectPath:   projectPath,
		backupDir:     filepath.Join(projectPath, ".nocturnd", "backups"),
		store:         store,
		git:           gitRunner,
		retentionDays: retentionDays,
		maxBackups:    maxBackups,
	}
}

// CreatePreExecutionBackup makes the session-opening backup: a git backup
// when the project is a repository, otherwise a full copy.
func (m *BackupManager) CreatePreExecutionBackup(sessionID string) (*BackupInfo, error) {
	typ := BackupFull
	if m.git != nil && m.git.IsRepository() {
		typ = BackupGit
	}
	return m.CreateBackup(typ, sessionID)
}

// CreateBackup makes one backup of the given type and records it.
func (m *BackupManager) CreateBackup(typ BackupType, sessionID string) (*BackupInfo, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("invalid backup type %q", typ)
	}

	info := &BackupInfo{
		ID:           uuid.New().String(),
		Type:         typ,
		SessionID:    sessionID,
		Verification: VerificationUnverified,
		CreatedAt:    time.Now(),
	}
	dest := filepath.Join(m.backupDir, info.ID)

	var err error
	switch typ {
	case BackupGit:
		err = m.createGitBackup(info)
	case BackupFull:
		err = m.createCopyBackup(info, dest, nil)
	case BackupIncremental:
		err = m.createIncrementalBackup(info, dest)
	case BackupCritical:
		err = m.createCriticalBackup(info, dest)
	}
	if err != nil {
		os.RemoveAll(dest)
		return nil, fmt.Errorf("create %s backup: %w", typ, err)
	}

	if err := m.store.SaveBackup(info); err != nil {
		os.RemoveAll(dest)
		return nil, err
	}

	log.Printf("[safety] %s backup %s created (%d files, %d bytes)",
		typ, info.ID, info.FileCount, info.SizeBytes)
	return info, nil
}

func (m *BackupManager) createGitBackup(info *BackupInfo) error {
	commit, err := m.git.Head()
	if err != nil {
		return err
	}
	branch, err := m.git.CurrentBranch()
	if err != nil {
		return err
	}
	info.GitCommit = commit
	info.GitBranch = branch
	info.Path = m.projectPath
	return nil
}

func (m *BackupManager) createCopyBackup(info *BackupInfo, dest string, keep func(rel string, d fs.DirEntry) bool) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}

	var files int
	var bytes int64
	err := filepath.WalkDir(m.projectPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(m.projectPath, path)
		if err != nil || rel == "." {
			return err
		}
		if d.IsDir() {
			if excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dest, rel), 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if keep != nil && !keep(rel, d) {
			return nil
		}

		n, err := copyFile(path, filepath.Join(dest, rel))
		if err != nil {
			return err
		}
		files++
		bytes += n
		return nil
	})
	if err != nil {
		return err
	}

	checksum, err := hashTree(dest)
	if err != nil {
		return err
	}

	info.Path = dest
	info.FileCount = files
	info.SizeBytes = bytes
	info.Checksum = checksum
	return nil
}

func (m *BackupManager) createIncrementalBackup(info *BackupInfo, dest string) error {
	var since time.Time
	if prev := m.latestBackup(); prev != nil {
		since = prev.CreatedAt
	}
	return m.createCopyBackup(info, dest, func(rel string, d fs.DirEntry) bool {
		if since.IsZero() {
			return true
		}
		fi, err := d.Info()
		if err != nil {
			return true
		}
		return fi.ModTime().After(since)
	})
}

func (m *BackupManager) createCriticalBackup(info *BackupInfo, dest string) error {
	return m.createCopyBackup(info, dest, func(rel string, d fs.DirEntry) bool {
		base := filepath.Base(rel)
		for _, name := range criticalFiles {
			if base == name {
				return true
			}
		}
		return false
	})
}

// Verify checks a backup's integrity and persists the outcome as the
// backup's verification status. Copy backups are rehashed; git backups
// check that the recorded commit still resolves.
func (m *BackupManager) Verify(info *BackupInfo) error {
	err := m.verify(info)
	status := VerificationVerified
	if err != nil {
		status = VerificationCorrupt
	}
	info.Verification = status
	if storeErr := m.store.UpdateBackupVerification(info.ID, status); storeErr != nil {
		log.Printf("[safety] record verification of backup %s: %v", info.ID, storeErr)
	}
	return err
}

func (m *BackupManager) verify(info *BackupInfo) error {
	if info.Type == BackupGit {
		if _, err := m.git.ChangedFiles(info.GitCommit); err != nil {
			return fmt.Errorf("backup commit %s unreachable: %w", info.GitCommit, err)
		}
		return nil
	}

	if _, err := os.Stat(info.Path); err != nil {
		return fmt.Errorf("backup directory missing: %w", err)
	}
	checksum, err := hashTree(info.Path)
	if err != nil {
		return err
	}
	if checksum != info.Checksum {
		return fmt.Errorf("backup %s checksum mismatch", info.ID)
	}
	return nil
}

// Restore puts the project back to a backup's state. Git backups reset to
// the recorded commit; copy backups write their files over the tree.
func (m *BackupManager) Restore(info *BackupInfo) error {
	if err := m.Verify(info); err != nil {
		return err
	}

	if info.Type == BackupGit {
		return m.git.ResetHard(info.GitCommit)
	}

	return filepath.WalkDir(info.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(info.Path, path)
		if err != nil {
			return err
		}
		target := filepath.Join(m.projectPath, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		_, err = copyFile(path, target)
		return err
	})
}

// Latest returns the most recent backup, if any.
func (m *BackupManager) Latest() *BackupInfo {
	return m.latestBackup()
}

// LatestVerified returns the newest backup that passes verification,
// checking candidates newest first. Corrupt backups are marked and
// skipped.
func (m *BackupManager) LatestVerified() *BackupInfo {
	backups, err := m.store.ListBackups(10)
	if err != nil {
		return nil
	}
	for _, b := range backups {
		if m.Verify(b) == nil {
			return b
		}
		log.Printf("[safety] backup %s failed verification, skipping", b.ID)
	}
	return nil
}

func (m *BackupManager) latestBackup() *BackupInfo {
	backups, err := m.store.ListBackups(1)
	if err != nil || len(backups) == 0 {
		return nil
	}
	return backups[0]
}

// List returns backups newest first.
func (m *BackupManager) List(limit int) ([]*BackupInfo, error) {
	return m.store.ListBackups(limit)
}

// Cleanup prunes expired backups and enforces the count cap, newest kept.
// Backups belonging to protectedSession anchor the running session and are
// never pruned.
func (m *BackupManager) Cleanup(protectedSession string) (int, error) {
	backups, err := m.store.ListBackups(m.maxBackups * 10)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -m.retentionDays)
	removed := 0
	for i, b := range backups {
		if b.SessionID == protectedSession {
			continue
		}
		if i < m.maxBackups && b.CreatedAt.After(cutoff) {
			continue
		}
		if b.Type != BackupGit && strings.HasPrefix(b.Path, m.backupDir) {
			os.RemoveAll(b.Path)
		}
		if err := m.store.DeleteBackup(b.ID); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		log.Printf("[safety] pruned %d expired backups", removed)
	}
	return removed, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	return io.Copy(out, in)
}

// hashTree computes a content hash over every regular file in the tree,
// in a stable order.
func hashTree(root string) (string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, path := range paths {
		rel, _ := filepath.Rel(root, path)
		io.WriteString(h, rel)
		h.Write([]byte{0})

		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return "", err
		}
		f.Close()
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
