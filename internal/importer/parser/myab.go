package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/hweilin/moneybook/internal/ledger"
	"github.com/hweilin/moneybook/pkg/money"
)

// myabHeader is the exact header row a MYAB export starts with
var myabHeader = []string{"日期", "交易類型", "支出科目", "收入科目", "從科目", "到科目", "金額", "明細", "發票號碼"}

// MYAB parses exports from the MYAB bookkeeping app. Row shape depends
// on the 交易類型 column:
//
//	支出: 從科目 pays into 支出科目
//	收入: 收入科目 flows into 到科目
//	轉帳: 從科目 moves to 到科目
type MYAB struct{}

// NewMYAB creates the MYAB export parser
func NewMYAB() *MYAB { return &MYAB{} }

func (p *MYAB) BankCode() string     { return "MYAB_CSV" }
func (p *MYAB) BankName() string     { return "MYAB 匯出檔" }
func (p *MYAB) EmailQuery() string   { return "" }
func (p *MYAB) PasswordHint() string { return "" }

func (p *MYAB) DetectBillingPeriod([]byte, string) *BillingPeriod { return nil }

func (p *MYAB) Parse(data []byte) ([]Row, []RowError, error) {
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
	if !headerMatches(records[0], myabHeader) {
		return nil, nil, fmt.Errorf("not a MYAB export: unexpected header")
	}

	var rows []Row
	var rowErrs []RowError
	for i, rec := range records[1:] {
		index := i + 1
		if len(rec) < len(myabHeader) {
			rowErrs = append(rowErrs, RowError{Index: index, Reason: "too few columns"})
			continue
		}

		date, err := parseFlexibleDate(strings.TrimSpace(rec[0]))
		if err != nil {
			rowErrs = append(rowErrs, RowError{Index: index, Reason: err.Error()})
			continue
		}
		amount, err := money.Parse(strings.TrimSpace(rec[6]))
		if err != nil {
			rowErrs = append(rowErrs, RowError{Index: index, Reason: fmt.Sprintf("bad amount %q", rec[6])})
			continue
		}
		if !amount.IsPositive() {
			rowErrs = append(rowErrs, RowError{Index: index, Reason: "amount must be positive"})
			continue
		}

		row := Row{
			Index:       index,
			Date:        date,
			Description: strings.TrimSpace(rec[7]),
			Amount:      amount,
			InvoiceNo:   strings.TrimSpace(rec[8]),
		}

		expensePath := strings.TrimSpace(rec[2])
		incomePath := strings.TrimSpace(rec[3])
		fromPath := strings.TrimSpace(rec[4])
		toPath := strings.TrimSpace(rec[5])

		switch strings.TrimSpace(rec[1]) {
		case "支出":
			row.Type = ledger.TransactionTypeExpense
			row.FromPath = fromPath
			row.ToPath = expensePath
		case "收入":
			row.Type = ledger.TransactionTypeIncome
			row.FromPath = incomePath
			row.ToPath = toPath
		case "轉帳":
			row.Type = ledger.TransactionTypeTransfer
			row.FromPath = fromPath
			row.ToPath = toPath
		default:
			rowErrs = append(rowErrs, RowError{Index: index, Reason: fmt.Sprintf("unknown transaction type %q", rec[1])})
			continue
		}

		if row.FromPath == "" || row.ToPath == "" {
			rowErrs = append(rowErrs, RowError{Index: index, Reason: "missing account column for this transaction type"})
			continue
		}
		rows = append(rows, row)
	}
	return rows, rowErrs, nil
}

func headerMatches(got, want []string) bool {
	if len(got) < len(want) {
		return false
	}
	for i, w := range want {
		if strings.TrimSpace(strings.TrimPrefix(got[i], "\ufeff")) != w {
			return false
		}
	}
	return true
}
