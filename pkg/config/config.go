// Package config holds the configuration surfaces of the server and the
// learner, plus the client-side JSON connection file format.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/arcadia-ml/mimic/pkg/models"
)

// ServerConfig is the API server's configuration, populated from flags and
// the environment.
type ServerConfig struct {
	Port            int
	SSLDir          string
	RootDir         string
	MaxWorkers      int
	ProjectIDs      []string
	Hyperparameters []string // Repeatable JSON documents, one assignment each.
	OpsAddr         string
	Verbosity       string
	LogFormat       string
}

// Validate rejects configurations the server cannot start with.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("--port is required")
	}
	if c.RootDir == "" {
		return fmt.Errorf("--root_dir is required")
	}
	return nil
}

// HyperparameterSets parses the repeated --hyperparameters documents,
// defaulting to a single fully defaulted set.
func (c *ServerConfig) HyperparameterSets() ([]models.Hyperparameters, error) {
	return ParseHyperparameterSets(c.Hyperparameters)
}

// LearnerConfig is the learner worker's configuration.
type LearnerConfig struct {
	RootDir         string
	Verbosity       string
	LogFormat       string
	Hyperparameters []string
	TmpModelsDir    string
	ModelsDir       string
	CheckpointsDir  string
	SummariesDir    string
}

// Validate rejects configurations the learner cannot start with.
func (c *LearnerConfig) Validate() error {
	if c.RootDir == "" {
		return fmt.Errorf("--root_dir is required")
	}
	return nil
}

// ParseHyperparameterSets parses JSON hyperparameter documents, defaulting
// to one fully defaulted set when none are given.
func ParseHyperparameterSets(docs []string) ([]models.Hyperparameters, error) {
	if len(docs) == 0 {
		return []models.Hyperparameters{models.DefaultHyperparameters()}, nil
	}
	out := make([]models.Hyperparameters, 0, len(docs))
	for i, doc := range docs {
		h, err := models.ParseHyperparameters(doc)
		if err != nil {
			return nil, fmt.Errorf("hyperparameters document %d: %w", i, err)
		}
		out = append(out, h)
	}
	return out, nil
}

// StorageDir resolves a storage directory, defaulting to a named
// subdirectory of the root when unset. The returned path is absolute.
func StorageDir(explicit, rootDir, name string) (string, error) {
	dir := explicit
	if dir == "" {
		dir = filepath.Join(rootDir, name)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %s directory: %w", name, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("creating %s directory: %w", name, err)
	}
	return abs, nil
}
