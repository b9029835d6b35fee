package pipeline

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/saasml/mlaas-platform/internal/domain"
)

// Split is the three-way partition of a tenant dataset.
type Split struct {
	Train      [][]string
	Validation [][]string
	Test       [][]string
}

// SplitRows partitions rows deterministically at the 70% and 85% floor
// cuts. The two boundary rows are excluded: with n rows the partitions are
// rows[0:floor(0.7n)], rows[floor(0.7n)+1:floor(0.85n)] and
// rows[floor(0.85n)+1:n]. Identical input always yields identical output;
// there is no shuffling.
func SplitRows(rows [][]string) Split {
	n := len(rows)
	trainEnd := n * 7 / 10
	valEnd := n * 85 / 100

	split := Split{Train: rows[:trainEnd]}
	if trainEnd+1 < valEnd {
		split.Validation = rows[trainEnd+1 : valEnd]
	}
	if valEnd+1 < n {
		split.Test = rows[valEnd+1:]
	}
	return split
}

// SplitCSV reads a headerless CSV dataset and partitions its rows.
func SplitCSV(r io.Reader) (*Split, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: parse dataset: %v", domain.ErrValidation, err)
	}
	split := SplitRows(rows)
	return &split, nil
}

// EncodeCSV renders a partition back to CSV bytes for upload.
func EncodeCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.WriteAll(rows); err != nil {
		return nil, err
	}
	writer.Flush()
	return buf.Bytes(), writer.Error()
}
