package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"

	"github.com/hweilin/moneybook/internal/ledger"
	"github.com/hweilin/moneybook/pkg/money"
)

// CardConfig describes one bank's statement CSV layout
type CardConfig struct {
	Code         string
	Name         string
	Query        string
	Hint         string
	Big5         bool
	SkipRows     int
	DateCol      int
	DescCol      int
	AmountCol    int
	DateFormat   string
	// NegativeIsCharge flips the sign convention: some banks export
	// charges as negative numbers, refunds as positive.
	NegativeIsCharge bool
	// CardPath is the liability account path charges post against
	CardPath string
}

// builtinCardConfigs covers the banks whose statement mails we scan
var builtinCardConfigs = []CardConfig{
	{
		Code: "CTBC_CC", Name: "中國信託信用卡", Query: "from:ebill@ctbcbank.com 信用卡電子帳單",
		Hint: "身分證字號", Big5: true, SkipRows: 1,
		DateCol: 0, DescCol: 1, AmountCol: 3, DateFormat: "2006/01/02",
		CardPath: "L-信用卡.中國信託",
	},
	{
		Code: "ESUN_CC", Name: "玉山銀行信用卡", Query: "from:estatement@esunbank.com.tw 信用卡",
		Hint: "身分證字號後四碼加生日四碼", Big5: true, SkipRows: 2,
		DateCol: 0, DescCol: 2, AmountCol: 4, DateFormat: "2006/1/2",
		CardPath: "L-信用卡.玉山",
	},
	{
		Code: "TSIB_CC", Name: "台新銀行信用卡", Query: "from:webmaster@bhurecv.taishinbank.com.tw",
		Hint: "身分證字號", Big5: false, SkipRows: 1,
		DateCol: 1, DescCol: 2, AmountCol: 3, DateFormat: "2006/01/02",
		NegativeIsCharge: true,
		CardPath:         "L-信用卡.台新",
	},
}

// statementSubject matches bill headers like "2026/07信用卡對帳單",
// whether they arrive as the mail subject or as a line inside the file.
var statementSubject = regexp.MustCompile(`(\d{4})[/年](\d{1,2})月?信用卡`)

// CreditCard parses one bank's credit-card statement CSV. Every
// charge becomes an EXPENSE row from the card's liability account;
// the expense side is left unmapped for the suggester.
type CreditCard struct {
	cfg CardConfig
}

// NewCreditCard creates a parser for one bank layout
func NewCreditCard(cfg CardConfig) *CreditCard { return &CreditCard{cfg: cfg} }

func (p *CreditCard) BankCode() string     { return p.cfg.Code }
func (p *CreditCard) BankName() string     { return p.cfg.Name }
func (p *CreditCard) EmailQuery() string   { return p.cfg.Query }
func (p *CreditCard) PasswordHint() string { return p.cfg.Hint }

// DetectBillingPeriod reads the period from the mail subject, then
// from a bill header line inside the file, falling back to the newest
// transaction date. A December statement arriving in January keeps its
// own year.
func (p *CreditCard) DetectBillingPeriod(data []byte, subject string) *BillingPeriod {
	if period := matchBillHeader(subject); period != nil {
		return period
	}
	if records, err := p.readRecords(data); err == nil {
		if period := headerPeriod(records, p.cfg.SkipRows); period != nil {
			return period
		}
	}

	rows, _, err := p.Parse(data)
	if err != nil || len(rows) == 0 {
		return nil
	}
	latest := rows[0].Date
	for _, r := range rows[1:] {
		if r.Date.After(latest) {
			latest = r.Date
		}
	}
	return &BillingPeriod{Year: latest.Year(), Month: int(latest.Month())}
}

// readRecords decodes the file and reads it as CSV
func (p *CreditCard) readRecords(data []byte) ([][]string, error) {
	if p.cfg.Big5 {
		decoded, _, err := transform.Bytes(traditionalchinese.Big5.NewDecoder(), data)
		if err != nil {
			return nil, fmt.Errorf("big5 decode failed: %w", err)
		}
		data = decoded
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("malformed csv: %w", err)
	}
	return records, nil
}

func (p *CreditCard) Parse(data []byte) ([]Row, []RowError, error) {
	records, err := p.readRecords(data)
	if err != nil {
		return nil, nil, err
	}
	if len(records) <= p.cfg.SkipRows {
		return nil, nil, fmt.Errorf("file has no data rows")
	}

	// Some banks date their rows MM/DD only; the bill header carries
	// the year those rows belong to.
	period := headerPeriod(records, p.cfg.SkipRows)

	minCols := p.cfg.DateCol
	if p.cfg.DescCol > minCols {
		minCols = p.cfg.DescCol
	}
	if p.cfg.AmountCol > minCols {
		minCols = p.cfg.AmountCol
	}

	var rows []Row
	var rowErrs []RowError
	for i, rec := range records[p.cfg.SkipRows:] {
		index := i + p.cfg.SkipRows + 1
		if isBlankRecord(rec) {
			continue
		}
		if len(rec) <= minCols {
			rowErrs = append(rowErrs, RowError{Index: index, Reason: "too few columns"})
			continue
		}

		date, err := p.parseRowDate(strings.TrimSpace(rec[p.cfg.DateCol]), period)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Index: index, Reason: fmt.Sprintf("bad date %q", rec[p.cfg.DateCol])})
			continue
		}

		raw := strings.TrimSpace(rec[p.cfg.AmountCol])
		amount, err := money.Parse(strings.TrimPrefix(raw, "-"))
		if err != nil {
			rowErrs = append(rowErrs, RowError{Index: index, Reason: fmt.Sprintf("bad amount %q", raw)})
			continue
		}
		negative := strings.HasPrefix(raw, "-")

		// Refunds are skipped rather than modeled as negative
		// expenses; the user records them by hand.
		charge := negative == p.cfg.NegativeIsCharge
		if !charge || amount.IsZero() {
			rowErrs = append(rowErrs, RowError{Index: index, Reason: "refund or zero row skipped"})
			continue
		}

		rows = append(rows, Row{
			Index:       index,
			Date:        date,
			Description: strings.TrimSpace(rec[p.cfg.DescCol]),
			Amount:      amount,
			Type:        ledger.TransactionTypeExpense,
			FromPath:    p.cfg.CardPath,
		})
	}
	return rows, rowErrs, nil
}

// parseRowDate accepts the bank's full layout, or a year-less MM/DD
// when the bill header names the statement period. A row month past
// the bill month belongs to the previous year.
func (p *CreditCard) parseRowDate(raw string, period *BillingPeriod) (time.Time, error) {
	if date, err := time.Parse(p.cfg.DateFormat, raw); err == nil {
		return date, nil
	}
	md, err := time.Parse(yearlessLayout(p.cfg.DateFormat), raw)
	if err != nil || period == nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
	}
	year := period.Year
	if int(md.Month()) > period.Month {
		year--
	}
	return time.Date(year, md.Month(), md.Day(), 0, 0, 0, 0, time.UTC), nil
}

// yearlessLayout drops the leading year from a date layout
func yearlessLayout(layout string) string {
	for _, prefix := range []string{"2006/", "2006-"} {
		if strings.HasPrefix(layout, prefix) {
			return strings.TrimPrefix(layout, prefix)
		}
	}
	return layout
}

// headerPeriod scans the skipped leading rows for a bill header
func headerPeriod(records [][]string, skip int) *BillingPeriod {
	if skip > len(records) {
		skip = len(records)
	}
	for _, rec := range records[:skip] {
		for _, cell := range rec {
			if period := matchBillHeader(cell); period != nil {
				return period
			}
		}
	}
	return nil
}

// matchBillHeader parses "YYYY/MM信用卡..." into a billing period
func matchBillHeader(s string) *BillingPeriod {
	m := statementSubject.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return nil
	}
	return &BillingPeriod{Year: year, Month: month}
}

func isBlankRecord(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
