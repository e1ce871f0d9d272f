package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/hweilin/moneybook/internal/ledger"
	"github.com/hweilin/moneybook/pkg/money"
)

// bankRecordHeader is the layout of a generic account activity export:
// date, description, withdrawal, deposit, running balance.
var bankRecordHeader = []string{"日期", "摘要", "支出金額", "存入金額", "餘額"}

// BankRecord parses generic bank account activity exports.
// Withdrawals become EXPENSE rows out of the bank account, deposits
// INCOME rows into it; the category side is left for the suggester.
type BankRecord struct{}

// NewBankRecord creates the bank record parser
func NewBankRecord() *BankRecord { return &BankRecord{} }

func (p *BankRecord) BankCode() string     { return "BANK_RECORD" }
func (p *BankRecord) BankName() string     { return "銀行帳戶明細" }
func (p *BankRecord) EmailQuery() string   { return "" }
func (p *BankRecord) PasswordHint() string { return "" }

func (p *BankRecord) DetectBillingPeriod([]byte, string) *BillingPeriod { return nil }

func (p *BankRecord) Parse(data []byte) ([]Row, []RowError, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("malformed csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("empty file")
	}
	if !headerMatches(records[0], bankRecordHeader) {
		return nil, nil, fmt.Errorf("not a bank record export: unexpected header")
	}

	const accountPath = "A-銀行帳戶"

	var rows []Row
	var rowErrs []RowError
	for i, rec := range records[1:] {
		index := i + 1
		if isBlankRecord(rec) {
			continue
		}
		if len(rec) < 4 {
			rowErrs = append(rowErrs, RowError{Index: index, Reason: "too few columns"})
			continue
		}

		date, err := parseFlexibleDate(strings.TrimSpace(rec[0]))
		if err != nil {
			rowErrs = append(rowErrs, RowError{Index: index, Reason: err.Error()})
			continue
		}

		withdrawal := strings.TrimSpace(rec[2])
		deposit := strings.TrimSpace(rec[3])

		row := Row{
			Index:       index,
			Date:        date,
			Description: strings.TrimSpace(rec[1]),
		}
		switch {
		case withdrawal != "" && withdrawal != "0":
			amount, err := money.Parse(withdrawal)
			if err != nil {
				rowErrs = append(rowErrs, RowError{Index: index, Reason: fmt.Sprintf("bad amount %q", withdrawal)})
				continue
			}
			row.Amount = amount
			row.Type = ledger.TransactionTypeExpense
			row.FromPath = accountPath
		case deposit != "" && deposit != "0":
			amount, err := money.Parse(deposit)
			if err != nil {
				rowErrs = append(rowErrs, RowError{Index: index, Reason: fmt.Sprintf("bad amount %q", deposit)})
				continue
			}
			row.Amount = amount
			row.Type = ledger.TransactionTypeIncome
			row.ToPath = accountPath
		default:
			rowErrs = append(rowErrs, RowError{Index: index, Reason: "neither withdrawal nor deposit"})
			continue
		}
		if !row.Amount.IsPositive() {
			rowErrs = append(rowErrs, RowError{Index: index, Reason: "amount must be positive"})
			continue
		}
		rows = append(rows, row)
	}
	return rows, rowErrs, nil
}
