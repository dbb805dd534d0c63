package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFilePath(t *testing.T) {
	_, err := ValidateFilePath("")
	assert.Error(t, err)

	_, err = ValidateFilePath("event.json; rm -rf /")
	assert.Error(t, err)

	got, err := ValidateFilePath("./fixtures/../event.json")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
	assert.Equal(t, "event.json", filepath.Base(got))
}

func TestSafeReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "event.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"evt_1"}`), 0o600))

	data, err := SafeReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"evt_1"}`, string(data))

	_, err = SafeReadFile(dir)
	assert.Error(t, err)

	_, err = SafeReadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
