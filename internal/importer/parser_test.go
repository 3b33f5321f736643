package importer

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/meridianbank/ledger-service/internal/domain"
)

func knownUsers(emails ...string) map[string]uuid.UUID {
	users := make(map[string]uuid.UUID, len(emails))
	for _, email := range emails {
		users[email] = uuid.New()
	}
	return users
}

func TestParseMixedValidity(t *testing.T) {
	users := knownUsers("user1@example.com")
	input := "Email Address,Amount,Description\nuser1@example.com,1000,Deposit\nbad,abc,X\n"

	candidates, err := Parse(input, domain.TransactionTypeDeposit, users)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}

	first := candidates[0]
	if !first.Valid || !first.Include {
		t.Fatalf("expected first row valid and included, got valid=%t include=%t errors=%v", first.Valid, first.Include, first.Errors)
	}
	if first.Amount != 100000 {
		t.Fatalf("expected 1000 to parse as 100000 cents, got %d", first.Amount)
	}
	if first.Description != "Deposit" {
		t.Fatalf("expected description %q, got %q", "Deposit", first.Description)
	}
	if first.UserID == nil || *first.UserID != users["user1@example.com"] {
		t.Fatalf("expected first row resolved to the known user, got %v", first.UserID)
	}

	second := candidates[1]
	if second.Valid || second.Include {
		t.Fatalf("expected second row invalid and excluded, got valid=%t include=%t", second.Valid, second.Include)
	}
	wantErrors := []string{ErrMsgEmailFormat, ErrMsgAmountPositive}
	if !reflect.DeepEqual(second.Errors, wantErrors) {
		t.Fatalf("expected errors %v, got %v", wantErrors, second.Errors)
	}
}

func TestParseIsDeterministic(t *testing.T) {
	users := knownUsers("a@example.com", "b@example.com")
	input := "email,amount\na@example.com,10.01\nb@example.com,5\nmissing@example.com,3\n"

	first, err := Parse(input, domain.TransactionTypeWithdrawal, users)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	second, err := Parse(input, domain.TransactionTypeWithdrawal, users)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical output for identical input\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestParseRowValidation(t *testing.T) {
	users := knownUsers("known@example.com")

	tests := []struct {
		name       string
		row        string
		wantErrors []string
		wantAmount int64
		wantDesc   string
	}{
		{
			name:       "valid decimal amount lands as exact cents",
			row:        "known@example.com,10.01,Lunch",
			wantAmount: 1001,
			wantDesc:   "Lunch",
		},
		{
			name:       "missing description gets a default",
			row:        "known@example.com,5,",
			wantAmount: 500,
			wantDesc:   "Bulk deposit",
		},
		{
			name:       "uppercase email resolves case-insensitively",
			row:        "KNOWN@example.com,5,x",
			wantAmount: 500,
			wantDesc:   "x",
		},
		{
			name:       "missing email",
			row:        ",5,x",
			wantErrors: []string{ErrMsgEmailRequired},
		},
		{
			name:       "malformed email",
			row:        "not-an-email,5,x",
			wantErrors: []string{ErrMsgEmailFormat},
		},
		{
			name:       "unknown email",
			row:        "ghost@example.com,5,x",
			wantErrors: []string{ErrMsgEmailUnknown},
		},
		{
			name:       "missing amount",
			row:        "known@example.com,,x",
			wantErrors: []string{ErrMsgAmountRequired},
		},
		{
			name:       "zero amount",
			row:        "known@example.com,0,x",
			wantErrors: []string{ErrMsgAmountPositive},
		},
		{
			name:       "negative amount",
			row:        "known@example.com,-5,x",
			wantErrors: []string{ErrMsgAmountPositive},
		},
		{
			name:       "non-numeric amount",
			row:        "known@example.com,abc,x",
			wantErrors: []string{ErrMsgAmountPositive},
		},
		{
			name:       "sub-cent amount rounds to zero",
			row:        "known@example.com,0.001,x",
			wantErrors: []string{ErrMsgAmountPositive},
		},
		{
			name:       "amount overflowing int64 cents",
			row:        "known@example.com,99999999999999999999,x",
			wantErrors: []string{ErrMsgAmountPositive},
		},
		{
			name:       "half a cent rounds up to one",
			row:        "known@example.com,0.005,x",
			wantAmount: 1,
			wantDesc:   "x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := "email,amount,description\n" + tt.row + "\n"
			candidates, err := Parse(input, domain.TransactionTypeDeposit, users)
			if err != nil {
				t.Fatalf("unexpected parse error: %v", err)
			}
			if len(candidates) != 1 {
				t.Fatalf("expected 1 candidate, got %d", len(candidates))
			}

			got := candidates[0]
			if len(tt.wantErrors) > 0 {
				if got.Valid {
					t.Fatalf("expected invalid candidate, got valid with amount=%d", got.Amount)
				}
				if !reflect.DeepEqual(got.Errors, tt.wantErrors) {
					t.Fatalf("expected errors %v, got %v", tt.wantErrors, got.Errors)
				}
				return
			}

			if !got.Valid {
				t.Fatalf("expected valid candidate, got errors %v", got.Errors)
			}
			if got.Amount != tt.wantAmount {
				t.Fatalf("expected amount %d, got %d", tt.wantAmount, got.Amount)
			}
			if got.Description != tt.wantDesc {
				t.Fatalf("expected description %q, got %q", tt.wantDesc, got.Description)
			}
		})
	}
}

func TestParseSkipsBlankLines(t *testing.T) {
	users := knownUsers("a@example.com")
	input := "email,amount\n\na@example.com,5\n   ,\n"

	candidates, err := Parse(input, domain.TransactionTypeDeposit, users)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected blank lines to be dropped, got %d candidates", len(candidates))
	}
}

func TestParseInputErrors(t *testing.T) {
	users := knownUsers("a@example.com")

	tests := []struct {
		name       string
		input      string
		importType string
		wantErr    error
	}{
		{
			name:       "unsupported import type",
			input:      "email,amount\na@example.com,5\n",
			importType: domain.TransactionTypeTransfer,
			wantErr:    ErrInvalidImportType,
		},
		{
			name:       "empty input",
			input:      "\n\n",
			importType: domain.TransactionTypeDeposit,
			wantErr:    ErrEmptyInput,
		},
		{
			name:       "header without amount column",
			input:      "email,description\na@example.com,x\n",
			importType: domain.TransactionTypeDeposit,
			wantErr:    ErrHeaderMissing,
		},
		{
			name:       "header without email column",
			input:      "amount,description\n5,x\n",
			importType: domain.TransactionTypeDeposit,
			wantErr:    ErrHeaderMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input, tt.importType, users)
			if err != tt.wantErr {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
