// Package lending implements the borrow/return engine. Every borrow and
// return runs inside a single atomic unit of work against the catalog and
// the loan ledger, so the available-copy counter can never drift from the
// set of open loans.
package lending

import (
	"context"
	"strings"
	"time"

	"github.com/openshelf/library-service/internal/app/domain/loan"
	"github.com/openshelf/library-service/internal/app/metrics"
	"github.com/openshelf/library-service/internal/app/storage"
	"github.com/openshelf/library-service/internal/errors"
	"github.com/openshelf/library-service/internal/logging"
)

// maxAttempts bounds the internal retry loop for transient storage
// conflicts. The retry is invisible to callers: either an attempt commits,
// or the engine gives up with Conflict("retry exhausted").
const maxAttempts = 3

// Service is the lending engine. It trusts the user ID it is given;
// authorization policy lives at the HTTP boundary.
type Service struct {
	users storage.UserStore
	loans storage.LoanStore
	tx    storage.TxRunner
	log   *logging.Logger
	now   func() time.Time
}

// New constructs a lending engine.
func New(users storage.UserStore, loans storage.LoanStore, tx storage.TxRunner, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("lending")
	}
	return &Service{users: users, loans: loans, tx: tx, log: log, now: time.Now}
}

// Borrow lends one copy of a book to a user. Inside one unit of work it
// loads and locks the book, rejects duplicate open loans for the same
// (user, book) pair, rejects exhausted stock, decrements the counter and
// creates the open loan. Transient storage conflicts are retried up to
// maxAttempts before the whole operation fails.
func (s *Service) Borrow(ctx context.Context, userID, bookID string) (loan.Loan, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(bookID) == "" {
		return loan.Loan{}, errors.BadRequest("user_id and book_id are required")
	}

	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return loan.Loan{}, err
	}

	var created loan.Loan
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := s.tx.WithinTx(ctx, func(uow storage.UnitOfWork) error {
			b, err := uow.Catalog().GetBookForUpdate(ctx, bookID)
			if err != nil {
				return err
			}
			if _, found, err := uow.Ledger().FindOpenLoan(ctx, userID, bookID); err != nil {
				return err
			} else if found {
				return errors.Conflict(errors.ReasonAlreadyBorrowed)
			}
			if b.AvailableCopies <= 0 {
				return errors.Conflict(errors.ReasonOutOfStock)
			}
			if _, err := uow.Catalog().AdjustStock(ctx, bookID, -1); err != nil {
				return err
			}
			created, err = uow.Ledger().CreateLoan(ctx, loan.Loan{
				UserID:     userID,
				BookID:     bookID,
				Status:     loan.StatusOpen,
				BorrowedAt: s.now().UTC(),
			})
			return err
		})
		if errors.IsTransientConflict(err) {
			metrics.RecordBorrowRetry()
			s.log.WithContext(ctx).WithError(err).
				WithField("book_id", bookID).
				WithField("attempt", attempt).
				Debug("borrow retrying after storage conflict")
			continue
		}
		if err != nil {
			s.observeBorrowFailure(ctx, err, userID, bookID)
			return loan.Loan{}, err
		}

		metrics.RecordBorrow("success")
		s.log.WithContext(ctx).
			WithField("loan_id", created.ID).
			WithField("book_id", bookID).
			WithField("borrower_id", userID).
			Info("book borrowed")
		return created, nil
	}

	metrics.RecordBorrow("retry_exhausted")
	s.log.WithContext(ctx).
		WithField("book_id", bookID).
		WithField("attempts", maxAttempts).
		Warn("borrow gave up after repeated storage conflicts")
	return loan.Loan{}, errors.Conflict(errors.ReasonRetryExhausted)
}

// Return closes an open loan and gives the copy back to the catalog. The
// status flip and the counter increment commit together; calling Return on
// an already-closed loan fails without touching the counter.
func (s *Service) Return(ctx context.Context, loanID string) (loan.Loan, error) {
	if strings.TrimSpace(loanID) == "" {
		return loan.Loan{}, errors.BadRequest("loan_id is required")
	}

	var closed loan.Loan
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := s.tx.WithinTx(ctx, func(uow storage.UnitOfWork) error {
			l, err := uow.Ledger().GetLoan(ctx, loanID)
			if err != nil {
				return err
			}
			if _, err := uow.Catalog().GetBookForUpdate(ctx, l.BookID); err != nil {
				return err
			}
			// Re-read now that the book row is locked: a concurrent
			// return of the same loan may have committed while we
			// waited for the lock.
			l, err = uow.Ledger().GetLoan(ctx, loanID)
			if err != nil {
				return err
			}
			if !l.Open() {
				return errors.Conflict(errors.ReasonAlreadyReturned)
			}

			returnedAt := s.now().UTC()
			l.Status = loan.StatusClosed
			l.ReturnedAt = &returnedAt
			if closed, err = uow.Ledger().UpdateLoan(ctx, l); err != nil {
				return err
			}
			_, err = uow.Catalog().AdjustStock(ctx, l.BookID, 1)
			return err
		})
		if errors.IsTransientConflict(err) {
			metrics.RecordReturnRetry()
			s.log.WithContext(ctx).WithError(err).
				WithField("loan_id", loanID).
				WithField("attempt", attempt).
				Debug("return retrying after storage conflict")
			continue
		}
		if err != nil {
			if errors.IsCode(err, errors.CodeInvariant) {
				s.log.WithContext(ctx).WithError(err).
					WithField("loan_id", loanID).
					Error("stock invariant violated during return")
			}
			metrics.RecordReturn(outcomeLabel(err))
			return loan.Loan{}, err
		}

		metrics.RecordReturn("success")
		s.log.WithContext(ctx).
			WithField("loan_id", closed.ID).
			WithField("book_id", closed.BookID).
			Info("book returned")
		return closed, nil
	}

	metrics.RecordReturn("retry_exhausted")
	s.log.WithContext(ctx).
		WithField("loan_id", loanID).
		WithField("attempts", maxAttempts).
		Warn("return gave up after repeated storage conflicts")
	return loan.Loan{}, errors.Conflict(errors.ReasonRetryExhausted)
}

// FindByUser returns all loans for the user, open and closed, newest first.
func (s *Service) FindByUser(ctx context.Context, userID string) ([]loan.Loan, error) {
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.loans.ListLoansByUser(ctx, userID)
}

// FindByID returns a single loan.
func (s *Service) FindByID(ctx context.Context, loanID string) (loan.Loan, error) {
	return s.loans.GetLoan(ctx, loanID)
}

// FindAll returns every loan on record.
func (s *Service) FindAll(ctx context.Context) ([]loan.Loan, error) {
	return s.loans.ListLoans(ctx)
}

func (s *Service) observeBorrowFailure(ctx context.Context, err error, userID, bookID string) {
	metrics.RecordBorrow(outcomeLabel(err))
	if errors.IsCode(err, errors.CodeInvariant) {
		s.log.WithContext(ctx).WithError(err).
			WithField("book_id", bookID).
			WithField("borrower_id", userID).
			Error("stock invariant violated during borrow")
	}
}

func outcomeLabel(err error) string {
	svcErr := errors.GetServiceError(err)
	if svcErr == nil {
		return "error"
	}
	switch svcErr.Code {
	case errors.CodeNotFound:
		return "not_found"
	case errors.CodeConflict:
		return "conflict"
	case errors.CodeInvariant:
		return "invariant"
	default:
		return "error"
	}
}
