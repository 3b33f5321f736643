/**
 * @description
 * Bulk-import parsing: turns raw delimited text into a set of validated,
 * row-addressable transaction candidates. Parsing is independent of the
 * source; upload handling converts files (CSV or Excel) into the text this
 * parser consumes.
 *
 * Row validation is independent per row, so one bad row never invalidates
 * another, and the output preserves input row order and indices so failed rows
 * can be cross-referenced after a partial execution.
 *
 * @dependencies
 * - encoding/csv, regexp, strings: Standard Go libraries.
 * - github.com/shopspring/decimal: Exact decimal parsing of amount strings, so
 *   "10.01" lands as 1001 cents with no float drift.
 * - internal/domain: Candidate model and transaction type constants.
 */

package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/meridianbank/ledger-service/internal/domain"
	"github.com/shopspring/decimal"
)

// Row-level validation messages surfaced verbatim in batch reports.
const (
	ErrMsgEmailRequired  = "Email is required"
	ErrMsgEmailFormat    = "Invalid email format"
	ErrMsgEmailUnknown   = "Email not found in the system"
	ErrMsgAmountRequired = "Amount is required"
	ErrMsgAmountPositive = "Amount must be a positive number"
)

var (
	ErrEmptyInput        = errors.New("input contains no rows")
	ErrHeaderMissing     = errors.New("header row must contain email and amount columns")
	ErrInvalidImportType = errors.New("import type must be deposit or withdrawal")
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Parse splits rawText into non-blank records, locates the email, amount and
// description columns from the header row, and validates each subsequent row
// independently. Emails are resolved against usersByEmail (lowercased email ->
// user id). A candidate is valid iff it has zero errors; Include defaults to
// Valid so invalid rows can never be submitted.
func Parse(rawText, transactionType string, usersByEmail map[string]uuid.UUID) ([]domain.TransactionCandidate, error) {
	if transactionType != domain.TransactionTypeDeposit && transactionType != domain.TransactionTypeWithdrawal {
		return nil, ErrInvalidImportType
	}

	records, err := readRecords(rawText)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrEmptyInput
	}

	emailIdx, amountIdx, descIdx := locateColumns(records[0])
	if emailIdx < 0 || amountIdx < 0 {
		return nil, ErrHeaderMissing
	}

	candidates := make([]domain.TransactionCandidate, 0, len(records)-1)
	for i, record := range records[1:] {
		candidate := parseRow(i, record, emailIdx, amountIdx, descIdx, transactionType, usersByEmail)
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

// readRecords reads the raw text as CSV with a lenient field count and drops
// blank lines.
func readRecords(rawText string) ([][]string, error) {
	reader := csv.NewReader(strings.NewReader(rawText))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	all, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read delimited input: %w", err)
	}

	records := make([][]string, 0, len(all))
	for _, record := range all {
		if isBlankRecord(record) {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func isBlankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// locateColumns finds the email, amount and description columns in the header
// by case-insensitive substring match, so "Email Address" and "email" both
// resolve. Returns -1 for columns that are absent.
func locateColumns(header []string) (emailIdx, amountIdx, descIdx int) {
	emailIdx, amountIdx, descIdx = -1, -1, -1
	for i, col := range header {
		name := strings.ToLower(strings.TrimSpace(col))
		switch {
		case emailIdx < 0 && strings.Contains(name, "email"):
			emailIdx = i
		case amountIdx < 0 && strings.Contains(name, "amount"):
			amountIdx = i
		case descIdx < 0 && strings.Contains(name, "description"):
			descIdx = i
		}
	}
	return emailIdx, amountIdx, descIdx
}

func fieldAt(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func parseRow(rowID int, record []string, emailIdx, amountIdx, descIdx int, transactionType string, usersByEmail map[string]uuid.UUID) domain.TransactionCandidate {
	candidate := domain.TransactionCandidate{
		RowID:    rowID,
		RawEmail: fieldAt(record, emailIdx),
		Type:     transactionType,
	}

	// Email: required, basic local@domain.tld shape, then an exact
	// case-insensitive match against the known-users map.
	switch {
	case candidate.RawEmail == "":
		candidate.Errors = append(candidate.Errors, ErrMsgEmailRequired)
	case !emailPattern.MatchString(candidate.RawEmail):
		candidate.Errors = append(candidate.Errors, ErrMsgEmailFormat)
	default:
		if userID, ok := usersByEmail[strings.ToLower(candidate.RawEmail)]; ok {
			resolved := userID
			candidate.UserID = &resolved
		} else {
			candidate.Errors = append(candidate.Errors, ErrMsgEmailUnknown)
		}
	}

	// Amount: required, must parse as a number strictly greater than zero.
	rawAmount := fieldAt(record, amountIdx)
	if rawAmount == "" {
		candidate.Errors = append(candidate.Errors, ErrMsgAmountRequired)
	} else {
		amount, err := decimal.NewFromString(rawAmount)
		if err != nil || !amount.IsPositive() {
			candidate.Errors = append(candidate.Errors, ErrMsgAmountPositive)
		} else {
			// Convert to minor units; sub-cent values round to zero and
			// oversized values overflow int64, so both are rejected rather
			// than carried into settlement.
			cents := amount.Shift(2).Round(0).BigInt()
			if !cents.IsInt64() || cents.Int64() <= 0 {
				candidate.Errors = append(candidate.Errors, ErrMsgAmountPositive)
			} else {
				candidate.Amount = cents.Int64()
			}
		}
	}

	candidate.Description = fieldAt(record, descIdx)
	if candidate.Description == "" {
		candidate.Description = "Bulk " + transactionType
	}

	candidate.Valid = len(candidate.Errors) == 0
	candidate.Include = candidate.Valid
	return candidate
}
