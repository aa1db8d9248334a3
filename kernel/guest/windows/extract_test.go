package windows

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindDriverDirPrefersNewestOS(t *testing.T) {
	iso := t.TempDir()
	require.NoError(t, writeTree(iso,
		"viostor/w10/amd64/viostor.sys",
		"viostor/2k19/amd64/viostor.sys",
		"viostor/2k16/amd64/viostor.sys",
	))

	dir, ok := FindDriverDir(iso, Catalogue[2])
	require.True(t, ok)
	assert.Equal(t, filepath.Join(iso, "viostor", "2k19", "amd64"), dir)
}

func TestFindDriverDirBroadSearch(t *testing.T) {
	iso := t.TempDir()
	require.NoError(t, writeTree(iso,
		"other/x86/netkvm.sys",
		"drivers/2k25/amd64/netkvm.sys",
	))

	dir, ok := FindDriverDir(iso, Catalogue[0])
	require.True(t, ok)
	assert.Equal(t, filepath.Join(iso, "drivers", "2k25", "amd64"), dir)

	_, ok = FindDriverDir(iso, Catalogue[1])
	assert.False(t, ok)
}

func TestExtractDrivers(t *testing.T) {
	iso := t.TempDir()
	work := t.TempDir()
	require.NoError(t, writeTree(iso,
		"NetKVM/2k22/amd64/netkvm.sys",
		"NetKVM/2k22/amd64/netkvm.inf",
		"NetKVM/2k22/amd64/netkvm.cat",
		"viostor/w11/amd64/viostor.sys",
		"viostor/w11/amd64/viostor.inf",
	))

	out, err := ExtractDrivers(iso, work, Catalogue)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.NotContains(t, out, "vioscsi")

	data, err := os.ReadFile(out["netkvm"].SysFile)
	require.NoError(t, err)
	assert.Equal(t, "NetKVM/2k22/amd64/netkvm.sys", string(data))

	entries, err := os.ReadDir(out["netkvm"].PackageDir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	// extracting again overwrites in place
	out, err = ExtractDrivers(iso, work, Catalogue)
	require.NoError(t, err)
	entries, err = os.ReadDir(out["viostor"].PackageDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
