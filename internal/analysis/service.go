package analysis

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dhs-api/internal/state"
)

type CSVService struct{}

func NewCSVService() *CSVService {
	return &CSVService{}
}

// ParseFile reads a CSV extract of a DHS recode into a frame named after
// the file.
func (s *CSVService) ParseFile(filePath string) (*state.Frame, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	df, err := s.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(filePath), err)
	}
	df.Name = strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	return df, nil
}

// Parse reads CSV microdata. The first row holds the variable names.
// Cells that are empty or not numeric become NaN, so value labels exported
// instead of codes read as missing.
func (s *CSVService) Parse(r io.Reader) (*state.Frame, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	reader := newReader(string(data), ',')
	headers, err := reader.Read()
	if err != nil || len(headers) < 2 {
		// Try with semicolon separator
		reader = newReader(string(data), ';')
		headers, err = reader.Read()
		if err != nil {
			return nil, fmt.Errorf("failed to read headers: %v", err)
		}
	}

	for i, h := range headers {
		headers[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	columns := make([][]float64, len(headers))
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Try to continue on malformed rows
			continue
		}
		for i := range headers {
			if i < len(record) {
				columns[i] = append(columns[i], state.ParseNumeric(record[i]))
			} else {
				columns[i] = append(columns[i], state.ParseNumeric(""))
			}
		}
	}

	return state.NewFrame("", headers, columns), nil
}

func newReader(data string, comma rune) *csv.Reader {
	reader := csv.NewReader(strings.NewReader(data))
	reader.Comma = comma
	reader.FieldsPerRecord = -1 // Allow variable fields
	reader.LazyQuotes = true    // Allow bare quotes in non-quoted fields
	reader.TrimLeadingSpace = true
	return reader
}
