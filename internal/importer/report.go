/**
 * @description
 * Batch failure report export. Produces the CSV an operator downloads after a
 * partially failed bulk execution: header `Row,Email,Error`, one line per
 * failed row, error text quoted when it contains commas.
 */

package importer

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/meridianbank/ledger-service/internal/domain"
)

// WriteFailureReport writes the failed rows of a batch result as CSV. Rows are
// numbered by their original position in the source so the operator can line
// the report up against the uploaded file.
func WriteFailureReport(w io.Writer, result domain.BatchResult) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"Row", "Email", "Error"}); err != nil {
		return err
	}
	for _, record := range result.Records {
		if record.Success {
			continue
		}
		if err := writer.Write([]string{strconv.Itoa(record.RowID), record.Email, record.Error}); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// TemplateCSV returns the import template an admin downloads to prepare a
// bulk upload.
func TemplateCSV() string {
	return "Email Address,Amount,Description\nuser@example.com,100.00,Monthly deposit\n"
}
