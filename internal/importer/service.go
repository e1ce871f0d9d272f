package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/audit"
	"github.com/hweilin/moneybook/internal/importer/parser"
	"github.com/hweilin/moneybook/internal/importer/suggest"
	"github.com/hweilin/moneybook/internal/ledger"
	apperrors "github.com/hweilin/moneybook/internal/shared/errors"
	"github.com/hweilin/moneybook/pkg/logger"
)

// PreviewSampleSize is how many parsed rows the preview echoes back
const PreviewSampleSize = 10

// Config bounds the import pipeline
type Config struct {
	MaxFileSize int
	MaxRows     int
	ScratchTTL  time.Duration
}

// Service runs the preview-then-execute import pipeline
type Service struct {
	repo      Repository
	uow       ledger.UnitOfWork
	audit     audit.Recorder
	scratch   ScratchStore
	registry  *parser.Registry
	suggester *suggest.Suggester
	enhancer  Enhancer
	log       *logger.Logger
	cfg       Config
}

// NewService creates a new import service. enhancer may be nil.
func NewService(repo Repository, uow ledger.UnitOfWork, recorder audit.Recorder, scratch ScratchStore,
	registry *parser.Registry, suggester *suggest.Suggester, enhancer Enhancer, log *logger.Logger, cfg Config) *Service {
	return &Service{
		repo:      repo,
		uow:       uow,
		audit:     recorder,
		scratch:   scratch,
		registry:  registry,
		suggester: suggester,
		enhancer:  enhancer,
		log:       log,
		cfg:       cfg,
	}
}

// PreviewInput carries one statement file into the pipeline
type PreviewInput struct {
	LedgerID   uuid.UUID
	SourceType SourceType
	BankCode   string
	FileName   string
	Subject    string
	Data       []byte
}

// PreviewResult is what the user reviews before executing
type PreviewResult struct {
	Session          *Session              `json:"session"`
	SampleRows       []parser.Row          `json:"sample_rows"`
	RowErrors        []parser.RowError     `json:"row_errors,omitempty"`
	BillingPeriod    *parser.BillingPeriod `json:"billing_period,omitempty"`
	DuplicateIndexes []int                 `json:"duplicate_indexes,omitempty"`
	IsValid          bool                  `json:"is_valid"`
}

// Preview parses the file, proposes the account mapping, flags likely
// duplicates and stores a PENDING session. The raw bytes go to the
// scratch store; nothing touches the ledger until execute.
func (s *Service) Preview(ctx context.Context, userID uuid.UUID, in PreviewInput) (*PreviewResult, error) {
	if _, err := s.ownedLedger(ctx, in.LedgerID, userID); err != nil {
		return nil, err
	}
	if !in.SourceType.IsValid() {
		return nil, apperrors.Validationf("invalid source type %q", in.SourceType)
	}
	if len(in.Data) == 0 {
		return nil, apperrors.Validation("file is empty")
	}
	if len(in.Data) > s.cfg.MaxFileSize {
		return nil, apperrors.Validationf("file exceeds %d bytes", s.cfg.MaxFileSize)
	}

	p, err := s.parserFor(in.SourceType, in.BankCode)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "unknown statement format")
	}

	rows, rowErrs, err := p.Parse(in.Data)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "file could not be parsed")
	}
	if len(rows) > s.cfg.MaxRows {
		return nil, apperrors.Validationf("file has %d rows, limit is %d", len(rows), s.cfg.MaxRows)
	}

	overrides := s.categorize(ctx, rows)

	accounts, err := s.repo.ListAccountsByLedger(ctx, in.LedgerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	idx := suggest.NewIndex(accounts)
	mapping := s.buildMapping(rows, overrides, idx)

	duplicates, err := s.findDuplicates(ctx, in.LedgerID, rows, overrides, mapping)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(in.Data)
	sess := &Session{
		ID:             uuid.New(),
		UserID:         userID,
		LedgerID:       in.LedgerID,
		SourceType:     in.SourceType,
		BankCode:       p.BankCode(),
		Status:         StatusPending,
		FileName:       in.FileName,
		FileDigest:     hex.EncodeToString(digest[:]),
		FileSize:       len(in.Data),
		RowCount:       len(rows),
		DuplicateCount: len(duplicates),
		Mapping:        mapping,
		Overrides:      overrides,
		CreatedAt:      time.Now().UTC(),
	}

	err = ledger.WithinTx(ctx, s.uow, func(ctx context.Context) error {
		if err := s.repo.CreateSession(ctx, sess); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		return s.audit.Record(ctx, audit.Created(audit.EntityImport, sess.ID, sess.LedgerID, map[string]interface{}{
			"source_type": string(sess.SourceType),
			"file_name":   sess.FileName,
			"row_count":   sess.RowCount,
		}))
	})
	if err != nil {
		return nil, err
	}

	if err := s.scratch.Put(ctx, sess.ID, in.Data, s.cfg.ScratchTTL); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransient, "failed to stage file")
	}

	sample := rows
	if len(sample) > PreviewSampleSize {
		sample = sample[:PreviewSampleSize]
	}
	return &PreviewResult{
		Session:          sess,
		SampleRows:       sample,
		RowErrors:        rowErrs,
		BillingPeriod:    p.DetectBillingPeriod(in.Data, in.Subject),
		DuplicateIndexes: duplicates,
		IsValid:          len(rows) > 0,
	}, nil
}

// ExecuteInput carries the user's adjustments to a previewed session
type ExecuteInput struct {
	// SkipRows lists parser row indexes to leave out
	SkipRows []int
	// PathOverrides remaps a proposed source path to another path
	PathOverrides map[string]string
}

// Execute applies a PENDING session: re-parses the staged bytes,
// creates whatever mapped accounts are missing and posts every
// non-skipped row, all in one unit. The session row is locked and its
// status re-checked inside that unit, so two concurrent executes of
// the same session cannot both post. Any failure rolls the whole
// batch back and marks the session FAILED. Rows flagged as duplicates
// at preview time are posted unless the caller listed them in
// SkipRows; the preview warning is advisory.
func (s *Service) Execute(ctx context.Context, userID, sessionID uuid.UUID, in ExecuteInput) (*Session, error) {
	sess, err := s.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusPending {
		return nil, apperrors.Conflict("import session is not pending")
	}

	data, err := s.scratch.Get(ctx, sess.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransient, "failed to read staged file")
	}
	if data == nil {
		s.fail(ctx, sess, "staged file expired before execute")
		return nil, apperrors.ImportExpired()
	}
	digest := sha256.Sum256(data)
	if hex.EncodeToString(digest[:]) != sess.FileDigest {
		s.fail(ctx, sess, "staged file digest mismatch")
		return nil, apperrors.Internal("staged file does not match preview", nil)
	}

	p, err := s.parserFor(sess.SourceType, sess.BankCode)
	if err != nil {
		return nil, apperrors.Internal("parser disappeared for session", err)
	}
	rows, _, err := p.Parse(data)
	if err != nil {
		s.fail(ctx, sess, err.Error())
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "staged file no longer parses")
	}

	skip := make(map[int]bool, len(in.SkipRows))
	for _, i := range in.SkipRows {
		skip[i] = true
	}

	createdBefore, skippedBefore, accountsBefore := sess.CreatedCount, sess.SkippedCount, sess.AccountsCreated

	execErr := ledger.WithinTx(ctx, s.uow, func(ctx context.Context) error {
		locked, err := s.repo.GetSessionForUpdate(ctx, sess.ID)
		if err != nil {
			return fmt.Errorf("failed to lock session: %w", err)
		}
		if locked.Status != StatusPending {
			return apperrors.Conflict("import session is not pending")
		}

		accounts, err := s.repo.ListAccountsByLedger(ctx, sess.LedgerID)
		if err != nil {
			return fmt.Errorf("failed to load accounts: %w", err)
		}
		idx := suggest.NewIndex(accounts)
		created := make(map[string]uuid.UUID)

		resolve := func(path string, fallback ledger.AccountType) (uuid.UUID, error) {
			if replacement, ok := in.PathOverrides[path]; ok {
				path = replacement
			}
			spec := suggest.ParsePath(path, fallback)
			if len(spec.Segments) == 0 {
				return uuid.Nil, apperrors.Validationf("empty account path %q", path)
			}
			if id, ok := created[string(spec.Type)+"|"+spec.FullName()]; ok {
				return id, nil
			}
			target := idx.Resolve(spec)
			if target.ExistingID != nil {
				return *target.ExistingID, nil
			}
			id, n, err := s.createChain(ctx, sess.LedgerID, target, created)
			if err != nil {
				return uuid.Nil, err
			}
			sess.AccountsCreated += n
			return id, nil
		}

		now := time.Now().UTC()
		channel := "import"
		for _, row := range rows {
			if skip[row.Index] {
				sess.SkippedCount++
				continue
			}

			fromPath, toPath := s.rowPaths(row, sess.Overrides)
			fromID, err := resolve(fromPath, defaultLegType(row.Type, true))
			if err != nil {
				return err
			}
			toID, err := resolve(toPath, defaultLegType(row.Type, false))
			if err != nil {
				return err
			}

			var notes *string
			if row.InvoiceNo != "" {
				n := "發票 " + row.InvoiceNo
				notes = &n
			}
			tx := &ledger.Transaction{
				ID:            uuid.New(),
				LedgerID:      sess.LedgerID,
				Date:          row.Date,
				Description:   row.Description,
				Amount:        row.Amount,
				FromAccountID: fromID,
				ToAccountID:   toID,
				Type:          row.Type,
				Notes:         notes,
				SourceChannel: &channel,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := s.repo.CreateTransaction(ctx, tx); err != nil {
				return fmt.Errorf("failed to create row %d: %w", row.Index, err)
			}
			sess.CreatedCount++
		}

		sess.Status = StatusCompleted
		sess.CompletedAt = &now
		if err := s.repo.UpdateSession(ctx, sess); err != nil {
			return fmt.Errorf("failed to complete session: %w", err)
		}
		return s.audit.Record(ctx, audit.Updated(audit.EntityImport, sess.ID, sess.LedgerID,
			map[string]interface{}{"status": string(StatusPending)},
			map[string]interface{}{
				"status":           string(StatusCompleted),
				"created_count":    sess.CreatedCount,
				"skipped_count":    sess.SkippedCount,
				"duplicate_count":  sess.DuplicateCount,
				"accounts_created": sess.AccountsCreated,
			}))
	})
	if execErr != nil {
		// Another caller won the session; their outcome stands.
		if apperrors.HasCode(execErr, apperrors.ErrCodeConflict) {
			return nil, execErr
		}
		// The rollback discarded everything the unit counted.
		sess.CreatedCount, sess.SkippedCount, sess.AccountsCreated = createdBefore, skippedBefore, accountsBefore
		s.fail(ctx, sess, execErr.Error())
		return nil, execErr
	}

	if err := s.scratch.Delete(ctx, sess.ID); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("failed to drop staged file")
	}
	return sess, nil
}

// Get returns one session with the ownership check applied
func (s *Service) Get(ctx context.Context, userID, sessionID uuid.UUID) (*Session, error) {
	return s.ownedSession(ctx, sessionID, userID)
}

// List returns recent sessions for a ledger
func (s *Service) List(ctx context.Context, userID, ledgerID uuid.UUID, limit int) ([]*Session, error) {
	if _, err := s.ownedLedger(ctx, ledgerID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListSessionsByLedger(ctx, ledgerID, limit)
}

// parserFor maps a source type to its parser; card sources key on the
// bank code.
func (s *Service) parserFor(sourceType SourceType, bankCode string) (parser.Parser, error) {
	switch sourceType {
	case SourceMYABCSV:
		return s.registry.Get("MYAB_CSV")
	case SourceBankRecord:
		return s.registry.Get("BANK_RECORD")
	case SourceCreditCardCSV, SourceGmailCC:
		return s.registry.Get(bankCode)
	}
	return nil, fmt.Errorf("unknown source type %q", sourceType)
}

// categorize fills the category leg of rows that arrive without one,
// rules first, then the enhancer for whatever fell to the fallback.
// The result is pinned in the session so execute repeats it exactly.
func (s *Service) categorize(ctx context.Context, rows []parser.Row) map[string]string {
	overrides := make(map[string]string)
	var unplaced []string
	for _, row := range rows {
		if row.FromPath != "" && row.ToPath != "" {
			continue
		}
		path := s.suggester.Categorize(row.Description, row.Type)
		overrides[row.Description] = path
		if path == suggest.FallbackExpensePath || path == suggest.FallbackIncomePath {
			unplaced = append(unplaced, row.Description)
		}
	}

	if s.enhancer == nil || len(unplaced) == 0 {
		return overrides
	}
	enhanced, err := s.enhancer.Suggest(ctx, unplaced)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("category enhancer unavailable, keeping fallbacks")
		return overrides
	}
	for desc, path := range enhanced {
		if _, ok := overrides[desc]; ok && strings.TrimSpace(path) != "" {
			overrides[desc] = path
		}
	}
	return overrides
}

// rowPaths returns both legs of a row with the category leg filled
// from the pinned overrides.
func (s *Service) rowPaths(row parser.Row, overrides map[string]string) (string, string) {
	fromPath, toPath := row.FromPath, row.ToPath
	if fromPath == "" {
		fromPath = overrides[row.Description]
	}
	if toPath == "" {
		toPath = overrides[row.Description]
	}
	return fromPath, toPath
}

// buildMapping resolves every distinct source path for the preview
func (s *Service) buildMapping(rows []parser.Row, overrides map[string]string, idx *suggest.Index) map[string]suggest.Target {
	mapping := make(map[string]suggest.Target)
	for _, row := range rows {
		fromPath, toPath := s.rowPaths(row, overrides)
		if _, ok := mapping[fromPath]; !ok && fromPath != "" {
			mapping[fromPath] = idx.Resolve(suggest.ParsePath(fromPath, defaultLegType(row.Type, true)))
		}
		if _, ok := mapping[toPath]; !ok && toPath != "" {
			mapping[toPath] = idx.Resolve(suggest.ParsePath(toPath, defaultLegType(row.Type, false)))
		}
	}
	return mapping
}

// findDuplicates flags rows whose legs both resolve to existing
// accounts and whose (date, amount, from, to) already exists.
func (s *Service) findDuplicates(ctx context.Context, ledgerID uuid.UUID, rows []parser.Row,
	overrides map[string]string, mapping map[string]suggest.Target) ([]int, error) {
	var duplicates []int
	for _, row := range rows {
		fromPath, toPath := s.rowPaths(row, overrides)
		from, okFrom := mapping[fromPath]
		to, okTo := mapping[toPath]
		if !okFrom || !okTo || from.ExistingID == nil || to.ExistingID == nil {
			continue
		}
		exists, err := s.repo.TransactionExists(ctx, ledgerID, row.Date, row.Amount, *from.ExistingID, *to.ExistingID)
		if err != nil {
			return nil, fmt.Errorf("failed duplicate check on row %d: %w", row.Index, err)
		}
		if exists {
			duplicates = append(duplicates, row.Index)
		}
	}
	sort.Ints(duplicates)
	return duplicates, nil
}

// createChain creates the missing accounts of a target path, reusing
// anything already created earlier in the batch. Returns the leaf id
// and how many accounts were created.
func (s *Service) createChain(ctx context.Context, ledgerID uuid.UUID, target suggest.Target, created map[string]uuid.UUID) (uuid.UUID, int, error) {
	parentID := target.ParentID
	now := time.Now().UTC()
	var leafID uuid.UUID
	n := 0

	for i := target.CreateFrom; i < len(target.Spec.Segments); i++ {
		key := string(target.Spec.Type) + "|" + strings.Join(target.Spec.Segments[:i+1], ".")
		if id, ok := created[key]; ok {
			parentID = &id
			leafID = id
			continue
		}

		maxSort, err := s.repo.MaxSortOrder(ctx, ledgerID, parentID)
		if err != nil {
			return uuid.Nil, 0, fmt.Errorf("failed to read sort order: %w", err)
		}
		a := &ledger.Account{
			ID:        uuid.New(),
			LedgerID:  ledgerID,
			Name:      target.Spec.Segments[i],
			Type:      target.Spec.Type,
			ParentID:  parentID,
			Depth:     i + 1,
			SortOrder: maxSort + ledger.SortOrderGap,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.CreateAccount(ctx, a); err != nil {
			return uuid.Nil, 0, fmt.Errorf("failed to create account %q: %w", a.Name, err)
		}
		created[key] = a.ID
		parentID = &a.ID
		leafID = a.ID
		n++
	}
	return leafID, n, nil
}

// defaultLegType infers the account type of a leg that carries no
// prefix: the category leg follows the transaction type, everything
// else is an asset.
func defaultLegType(txType ledger.TransactionType, isFrom bool) ledger.AccountType {
	switch txType {
	case ledger.TransactionTypeExpense:
		if isFrom {
			return ledger.AccountTypeAsset
		}
		return ledger.AccountTypeExpense
	case ledger.TransactionTypeIncome:
		if isFrom {
			return ledger.AccountTypeIncome
		}
		return ledger.AccountTypeAsset
	}
	return ledger.AccountTypeAsset
}

// fail marks a session FAILED outside any unit of work
func (s *Service) fail(ctx context.Context, sess *Session, cause string) {
	sess.Status = StatusFailed
	sess.ErrorMessage = &cause
	now := time.Now().UTC()
	sess.CompletedAt = &now
	if err := s.repo.UpdateSession(ctx, sess); err != nil {
		s.log.WithContext(ctx).WithError(err).Error("failed to mark import session failed")
	}
}

func (s *Service) ownedLedger(ctx context.Context, ledgerID, userID uuid.UUID) (*ledger.Ledger, error) {
	l, err := s.repo.GetLedger(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	if l.UserID != userID {
		return nil, apperrors.NotFound("ledger")
	}
	return l, nil
}

func (s *Service) ownedSession(ctx context.Context, sessionID, userID uuid.UUID) (*Session, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, apperrors.NotFound("import session")
	}
	if sess.UserID != userID {
		return nil, apperrors.NotFound("import session")
	}
	return sess, nil
}
