// Package export writes test-set predictions as a submission CSV.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"forge-adapter/internal/nn"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
)

const (
	IDColumn     = "ID"
	TargetColumn = "target"
)

// FileName is the name predictions for modelName are written under on day.
func FileName(modelName string, day time.Time) string {
	return fmt.Sprintf("%s_%s.csv", modelName, day.Format("2006-01-02"))
}

// LoadInfo reads the table whose columns are copied next to the
// predictions.
func LoadInfo(path string) (*dataframe.DataFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open info table")
	}
	defer f.Close()
	df := dataframe.ReadCSV(f, dataframe.HasHeader(true))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "read info table")
	}
	return &df, nil
}

// Frame builds the export table: ID (0..n-1), the columns of info (if
// any), then target. info must have one row per prediction.
func Frame(preds []int, info *dataframe.DataFrame) (dataframe.DataFrame, error) {
	if len(preds) == 0 {
		return dataframe.DataFrame{}, errors.Wrap(nn.ErrShapeMismatch, "no predictions")
	}
	ids := make([]int, len(preds))
	for i := range ids {
		ids[i] = i
	}
	df := dataframe.New(series.New(ids, series.Int, IDColumn))
	if info != nil {
		if info.Nrow() != len(preds) {
			return dataframe.DataFrame{}, errors.Wrapf(nn.ErrShapeMismatch, "%d predictions for %d info rows", len(preds), info.Nrow())
		}
		keep := slices.DeleteFunc(info.Names(), func(n string) bool { return n == IDColumn || n == TargetColumn })
		if len(keep) > 0 {
			df = df.CBind(info.Select(keep))
		}
	}
	df = df.Mutate(series.New(preds, series.Int, TargetColumn))
	if df.Err != nil {
		return dataframe.DataFrame{}, errors.Wrap(df.Err, "build export table")
	}
	return df, nil
}

// WritePredictions writes preds into dir as FileName(modelName, day) and
// returns the written path.
func WritePredictions(dir, modelName string, day time.Time, preds []int, info *dataframe.DataFrame) (string, error) {
	df, err := Frame(preds, info)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create predictions dir")
	}
	path := filepath.Join(dir, FileName(modelName, day))
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "create predictions file")
	}
	if err := df.WriteCSV(f); err != nil {
		f.Close()
		return "", errors.Wrap(err, "write predictions")
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, "close predictions file")
	}
	return path, nil
}
