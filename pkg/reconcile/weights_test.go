package reconcile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMatchWeightsMissingFile(t *testing.T) {
	w, err := LoadMatchWeights(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultMatchWeights(), w)
}

func TestLoadMatchWeightsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"direct_ref: 20\ncustomer_ref: 8\nend_to_end: 2\namount_tolerance: \"0.05\"\n"), 0o644))

	w, err := LoadMatchWeights(path)
	require.NoError(t, err)
	require.Equal(t, 20, w.DirectRef)
	require.Equal(t, 8, w.CustomerRef)
	require.Equal(t, 2, w.EndToEnd)
	require.Equal(t, "0.05", w.Tolerance().String())
}

func TestLoadMatchWeightsRejectsBadOrdering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"direct_ref: 1\ncustomer_ref: 5\nend_to_end: 3\n"), 0o644))

	_, err := LoadMatchWeights(path)
	require.Error(t, err)
}
