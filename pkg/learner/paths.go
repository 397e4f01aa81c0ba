package learner

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/arcadia-ml/mimic/pkg/models"
)

var nonAlphanumeric = regexp.MustCompile("[^a-zA-Z0-9]+")

// Sanitize replaces any non-alphanumeric run with a single underscore, so
// arbitrary ids (assignment ids are JSON documents) become safe path
// components.
func Sanitize(unsafe string) string {
	return nonAlphanumeric.ReplaceAllString(unsafe, "_")
}

// Dirs holds the learner-side storage roots.
type Dirs struct {
	TmpModels   string
	Models      string
	Checkpoints string
	Summaries   string
}

func assignmentSubdir(a *models.Assignment) string {
	return filepath.Join(a.ProjectID, a.BrainID, a.SessionID, Sanitize(a.AssignmentID))
}

// CheckpointsPath returns the assignment's checkpoint directory without
// creating it.
func (d Dirs) CheckpointsPath(a *models.Assignment) string {
	return filepath.Join(d.Checkpoints, assignmentSubdir(a))
}

// CreateCheckpointsPath creates and returns the checkpoint directory.
func (d Dirs) CreateCheckpointsPath(a *models.Assignment) (string, error) {
	path := d.CheckpointsPath(a)
	slog.Info("Creating checkpoint directory", "checkpoint_path", path)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("creating checkpoint directory: %w", err)
	}
	return path, nil
}

// WipeCheckpoints deletes the assignment's checkpoint directory.
func (d Dirs) WipeCheckpoints(a *models.Assignment) error {
	path := d.CheckpointsPath(a)
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return nil
	}
	slog.Info("Removing checkpoint directory", "checkpoint_path", path)
	return os.RemoveAll(path)
}

// CreateSummaryPath creates and returns the summary directory.
func (d Dirs) CreateSummaryPath(a *models.Assignment) (string, error) {
	path := filepath.Join(d.Summaries, assignmentSubdir(a))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("creating summary directory: %w", err)
	}
	return path, nil
}

// CreateTmpCheckpointPath creates the temporary checkpoint export
// directory for one model: <tmp>/<project>/<brain>/<session>/<model>/checkpoint.
func (d Dirs) CreateTmpCheckpointPath(a *models.Assignment, modelID string) (string, error) {
	path := filepath.Join(d.TmpModels, a.ProjectID, a.BrainID, a.SessionID, modelID, "checkpoint")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("creating tmp checkpoint directory: %w", err)
	}
	return path, nil
}

// TmpModelPathFromCheckpoint derives the sibling saved_model directory of a
// tmp checkpoint path.
func (d Dirs) TmpModelPathFromCheckpoint(checkpointPath string) (string, error) {
	if !strings.HasPrefix(checkpointPath, d.TmpModels) {
		return "", fmt.Errorf("%s is not inside %s", checkpointPath, d.TmpModels)
	}
	if filepath.Base(checkpointPath) != "checkpoint" {
		return "", fmt.Errorf("%s is not a checkpoint directory", checkpointPath)
	}
	return filepath.Join(filepath.Dir(checkpointPath), "saved_model"), nil
}

// CopyToModelDir copies the tmp model tree (the model-id directory holding
// checkpoint and saved_model) into permanent model storage and returns the
// destination.
func (d Dirs) CopyToModelDir(tmpPath string) (string, error) {
	rel, err := filepath.Rel(d.TmpModels, tmpPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is not inside %s", tmpPath, d.TmpModels)
	}
	dest := filepath.Join(d.Models, rel)
	if err := copyTree(tmpPath, dest); err != nil {
		return "", err
	}
	slog.Info("Copied model to permanent storage", "model_path", dest)
	return dest, nil
}

// CompressModelDir zips the tmp model tree into permanent storage next to
// the inflated copy and returns the zip path.
func (d Dirs) CompressModelDir(tmpPath string) (string, error) {
	rel, err := filepath.Rel(d.TmpModels, tmpPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is not inside %s", tmpPath, d.TmpModels)
	}
	dest := filepath.Join(d.Models, rel) + ".zip"
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	// Build the archive in the tmp tree and move it into place whole.
	staging, err := os.MkdirTemp(d.TmpModels, "zip")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(staging)
	tmpZip := filepath.Join(staging, "model.zip")
	if err := zipTree(tmpPath, tmpZip); err != nil {
		return "", err
	}
	if err := moveFile(tmpZip, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// WipeTmpModelDir removes a model's tmp directory after publishing.
func (d Dirs) WipeTmpModelDir(tmpPath string) error {
	slog.Info("Removing tmp model directory", "model_path", tmpPath)
	return os.RemoveAll(tmpPath)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if entry.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// moveFile renames when possible and falls back to copy+remove across
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// zipTree writes a zip of root's contents with paths relative to root.
func zipTree(root, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	w := zip.NewWriter(f)
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		zf, err := w.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(zf, in)
		return err
	})
	if err != nil {
		w.Close()
		f.Close()
		return err
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
