/**
 * @description
 * Upload acceptance and spreadsheet decoding for the bulk-import pipeline.
 * Acceptance checks run before any parsing and must not mutate state; Excel
 * workbooks are converted to the same CSV text the parser consumes so both
 * sources share one code path.
 *
 * @dependencies
 * - github.com/xuri/excelize/v2: Decoding .xlsx/.xls workbooks.
 */

package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// DefaultMaxUploadBytes caps bulk-import uploads at 5 MiB.
const DefaultMaxUploadBytes = 5 << 20

var (
	ErrUnsupportedFileType = errors.New("file type must be .csv, .xlsx or .xls")
	ErrFileTooLarge        = errors.New("file exceeds the maximum upload size")
)

var acceptedExtensions = map[string]bool{
	".csv":  true,
	".xlsx": true,
	".xls":  true,
}

// AcceptUpload validates the filename extension and size ceiling. A maxBytes
// of zero applies the default ceiling. Violations short-circuit the pipeline.
func AcceptUpload(filename string, size int64, maxBytes int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !acceptedExtensions[ext] {
		return fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if size > maxBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, size, maxBytes)
	}
	return nil
}

// IsSpreadsheet reports whether the filename points at an Excel workbook
// rather than plain CSV text.
func IsSpreadsheet(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".xlsx" || ext == ".xls"
}

// SheetToCSV reads the first sheet of an Excel workbook and renders its rows
// as CSV text for the parser.
func SheetToCSV(content []byte) (string, error) {
	workbook, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("failed to open workbook: %w", err)
	}
	defer workbook.Close()

	sheets := workbook.GetSheetList()
	if len(sheets) == 0 {
		return "", errors.New("workbook contains no sheets")
	}

	rows, err := workbook.GetRows(sheets[0])
	if err != nil {
		return "", fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}

	var out strings.Builder
	writer := csv.NewWriter(&out)
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}
	return out.String(), nil
}

// DecodeUpload applies acceptance checks and returns the parser-ready text for
// an uploaded file, decoding workbooks and passing CSV content through as-is.
func DecodeUpload(filename string, content []byte, maxBytes int64) (string, error) {
	if err := AcceptUpload(filename, int64(len(content)), maxBytes); err != nil {
		return "", err
	}
	if IsSpreadsheet(filename) {
		return SheetToCSV(content)
	}
	return string(content), nil
}
