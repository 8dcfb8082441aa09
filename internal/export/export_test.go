package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"forge-adapter/internal/nn"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)

func TestFileName(t *testing.T) {
	assert.Equal(t, "LinearNet_2024-03-09.csv", FileName("LinearNet", day))
}

func TestWritePredictionsWithoutInfo(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "preds")
	path, err := WritePredictions(dir, "LinearNet", day, []int{3, 1, 4}, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "LinearNet_2024-03-09.csv"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ID,target\n0,3\n1,1\n2,4\n", string(raw))
}

func TestWritePredictionsJoinsInfo(t *testing.T) {
	info := dataframe.ReadCSV(strings.NewReader("name,target\nalpha,9\nbeta,9\n"))
	require.NoError(t, info.Err)

	path, err := WritePredictions(t.TempDir(), "MLPNet", day, []int{0, 7}, &info)
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ID,name,target\n0,alpha,0\n1,beta,7\n", string(raw))
}

func TestFrameRowMismatch(t *testing.T) {
	info := dataframe.ReadCSV(strings.NewReader("name\nalpha\nbeta\n"))
	_, err := Frame([]int{1}, &info)
	assert.True(t, errors.Is(err, nn.ErrShapeMismatch))

	_, err = Frame(nil, nil)
	assert.True(t, errors.Is(err, nn.ErrShapeMismatch))
}

func TestLoadInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,f0\nalpha,1\n"), 0o644))
	df, err := LoadInfo(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "f0"}, df.Names())

	_, err = LoadInfo(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
