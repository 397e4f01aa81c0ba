package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadia-ml/mimic/pkg/models"
)

func TestServerConfigValidate(t *testing.T) {
	cfg := &ServerConfig{}
	assert.Error(t, cfg.Validate())

	cfg.Port = 50051
	assert.Error(t, cfg.Validate())

	cfg.RootDir = t.TempDir()
	assert.NoError(t, cfg.Validate())
}

func TestLearnerConfigValidate(t *testing.T) {
	cfg := &LearnerConfig{}
	assert.Error(t, cfg.Validate())
	cfg.RootDir = t.TempDir()
	assert.NoError(t, cfg.Validate())
}

func TestParseHyperparameterSetsDefault(t *testing.T) {
	sets, err := ParseHyperparameterSets(nil)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, models.DefaultHyperparameters().CanonicalID(), sets[0].CanonicalID())
}

func TestParseHyperparameterSets(t *testing.T) {
	sets, err := ParseHyperparameterSets([]string{
		`{"batch_size": 32}`,
		`{"batch_size": 64, "fc_layers": [8]}`,
	})
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, 32, sets[0].BatchSize)
	assert.Equal(t, []int{8}, sets[1].FCLayers)

	_, err = ParseHyperparameterSets([]string{`{"nope": 1}`})
	assert.Error(t, err)
}

func TestStorageDirDefaultsUnderRoot(t *testing.T) {
	root := t.TempDir()
	dir, err := StorageDir("", root, "models")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "models"), dir)
	assert.DirExists(t, dir)

	explicit := filepath.Join(t.TempDir(), "elsewhere")
	dir, err = StorageDir(explicit, root, "models")
	require.NoError(t, err)
	assert.Equal(t, explicit, dir)
	assert.DirExists(t, dir)
}

func TestClientConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.json")
	cert := "-----BEGIN CERTIFICATE-----\nabc\ndef\n-----END CERTIFICATE-----\n"
	require.NoError(t, WriteClientConfig(path, "localhost:50051", cert, "p0", "key0"))

	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost:50051", cfg.Service.Connection.Address)
	assert.Equal(t, "p0", cfg.ProjectID)
	assert.Equal(t, "key0", cfg.APIKey)
	assert.Len(t, cfg.Service.Connection.SSLCertificate, 4)
	assert.Equal(t, "-----BEGIN CERTIFICATE-----\nabc\ndef\n-----END CERTIFICATE-----",
		cfg.CertificatePEM())
}

func TestLoadClientConfigRequiresAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"project_id":"p0"}`), 0o600))
	_, err := LoadClientConfig(path)
	assert.Error(t, err)
}
