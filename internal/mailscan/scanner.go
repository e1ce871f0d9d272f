// Package mailscan connects the scheduler to the import pipeline: it
// fetches statement mail for a scan config and feeds each attachment
// through preview and execute.
package mailscan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hweilin/moneybook/internal/emailauth"
	"github.com/hweilin/moneybook/internal/importer"
	"github.com/hweilin/moneybook/internal/importer/parser"
	"github.com/hweilin/moneybook/pkg/logger"
)

// defaultLookback bounds the first scan of a fresh config
const defaultLookback = 30 * 24 * time.Hour

// Mail is one fetched statement message
type Mail struct {
	Subject    string
	FileName   string
	Attachment []byte
	ReceivedAt time.Time
}

// Fetcher retrieves statement mail from the provider. Implementations
// hold the OAuth client; the scanner only hands them a live token and
// the bank's search query.
type Fetcher interface {
	FetchStatements(ctx context.Context, refreshToken, query string, since time.Time) ([]Mail, error)
}

// Scanner runs one scan config end to end
type Scanner struct {
	auths    *emailauth.Service
	authRepo emailauth.Repository
	imports  *importer.Service
	registry *parser.Registry
	fetcher  Fetcher
	log      *logger.Logger
}

// NewScanner creates a scanner
func NewScanner(auths *emailauth.Service, authRepo emailauth.Repository, imports *importer.Service,
	registry *parser.Registry, fetcher Fetcher, log *logger.Logger) *Scanner {
	return &Scanner{
		auths:    auths,
		authRepo: authRepo,
		imports:  imports,
		registry: registry,
		fetcher:  fetcher,
		log:      log,
	}
}

// RunScan fetches this config's statement mail and imports every
// attachment. Each attachment is its own session; one bad file does
// not stop the rest. A dead refresh token flips the authorization to
// ERROR so the scheduler drops the config on next reload.
func (s *Scanner) RunScan(ctx context.Context, cfg *emailauth.ScanConfig) error {
	auth, err := s.authRepo.GetAuthorization(ctx, cfg.AuthorizationID)
	if err != nil {
		return fmt.Errorf("failed to load authorization: %w", err)
	}

	run := &emailauth.ScanRun{
		ID:           uuid.New(),
		ScanConfigID: cfg.ID,
		StartedAt:    time.Now().UTC(),
	}

	p, err := s.registry.Get(cfg.BankCode)
	if err != nil {
		return s.finish(ctx, run, emailauth.ScanRunFailed, err)
	}
	if p.EmailQuery() == "" {
		return s.finish(ctx, run, emailauth.ScanRunSkipped, fmt.Errorf("bank %s has no mail query", cfg.BankCode))
	}

	token, err := s.auths.RefreshToken(ctx, cfg.AuthorizationID)
	if err != nil {
		return s.finish(ctx, run, emailauth.ScanRunFailed, err)
	}

	since := time.Now().UTC().Add(-defaultLookback)
	if cfg.LastScanAt != nil {
		since = *cfg.LastScanAt
	}

	mails, err := s.fetcher.FetchStatements(ctx, token, p.EmailQuery(), since)
	if err != nil {
		if markErr := s.auths.MarkError(ctx, cfg.AuthorizationID, err.Error()); markErr != nil {
			s.log.WithContext(ctx).WithError(markErr).Error("failed to flag authorization")
		}
		return s.finish(ctx, run, emailauth.ScanRunFailed, err)
	}
	run.MatchedMail = len(mails)

	for _, mail := range mails {
		preview, err := s.imports.Preview(ctx, auth.UserID, importer.PreviewInput{
			LedgerID:   cfg.LedgerID,
			SourceType: importer.SourceGmailCC,
			BankCode:   cfg.BankCode,
			FileName:   mail.FileName,
			Subject:    mail.Subject,
			Data:       mail.Attachment,
		})
		if err != nil {
			s.log.WithContext(ctx).WithError(err).WithField("file", mail.FileName).Warn("statement preview failed")
			continue
		}
		if !preview.IsValid {
			continue
		}

		sess, err := s.imports.Execute(ctx, auth.UserID, preview.Session.ID, importer.ExecuteInput{
			SkipRows: preview.DuplicateIndexes,
		})
		if err != nil {
			s.log.WithContext(ctx).WithError(err).WithField("file", mail.FileName).Warn("statement import failed")
			continue
		}
		run.ImportedRows += sess.CreatedCount
	}

	return s.finish(ctx, run, emailauth.ScanRunCompleted, nil)
}

func (s *Scanner) finish(ctx context.Context, run *emailauth.ScanRun, status emailauth.ScanRunStatus, cause error) error {
	run.Status = status
	run.FinishedAt = time.Now().UTC()
	if cause != nil {
		msg := cause.Error()
		run.ErrorMessage = &msg
	}
	if err := s.auths.RecordScanRun(ctx, run); err != nil {
		s.log.WithContext(ctx).WithError(err).Error("failed to record scan run")
	}
	if status == emailauth.ScanRunFailed {
		return cause
	}
	return nil
}
