// Package storage defines the persistence interfaces for the library
// service, including the atomic unit of work that the lending engine runs
// borrow and return operations inside.
package storage

import (
	"context"

	"github.com/openshelf/library-service/internal/app/domain/book"
	"github.com/openshelf/library-service/internal/app/domain/category"
	"github.com/openshelf/library-service/internal/app/domain/loan"
	"github.com/openshelf/library-service/internal/app/domain/user"
)

// BookStore persists catalog records. Updates to existing books only
// happen through CatalogTx inside WithinTx.
type BookStore interface {
	CreateBook(ctx context.Context, b book.Book) (book.Book, error)
	GetBook(ctx context.Context, id string) (book.Book, error)
	ListBooks(ctx context.Context) ([]book.Book, error)
	ListBooksByCategory(ctx context.Context, categoryID string) ([]book.Book, error)
	SearchBooksByTitle(ctx context.Context, keyword string) ([]book.Book, error)
	DeleteBook(ctx context.Context, id string) error
}

// UserStore persists identity records.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// CategoryStore persists category records.
type CategoryStore interface {
	CreateCategory(ctx context.Context, c category.Category) (category.Category, error)
	UpdateCategory(ctx context.Context, c category.Category) (category.Category, error)
	GetCategory(ctx context.Context, id string) (category.Category, error)
	GetCategoryByName(ctx context.Context, name string) (category.Category, error)
	ListCategories(ctx context.Context) ([]category.Category, error)
	DeleteCategory(ctx context.Context, id string) error
}

// LoanStore reads loan records outside of a unit of work. Loan mutations
// only happen through LedgerTx inside WithinTx.
type LoanStore interface {
	GetLoan(ctx context.Context, id string) (loan.Loan, error)
	ListLoans(ctx context.Context) ([]loan.Loan, error)
	// ListLoansByUser returns all loans for the user, open and closed,
	// ordered by borrow timestamp descending.
	ListLoansByUser(ctx context.Context, userID string) ([]loan.Loan, error)
}

// CatalogTx is the catalog view inside a unit of work. GetBookForUpdate
// takes whatever lock the backend needs to serialize concurrent mutations
// of the same book for the remainder of the transaction.
type CatalogTx interface {
	GetBookForUpdate(ctx context.Context, id string) (book.Book, error)
	// AdjustStock applies delta to the available-copy counter and fails
	// with an Invariant error if the result would be negative.
	AdjustStock(ctx context.Context, id string, delta int) (book.Book, error)
	// UpdateBook rewrites a book record under the lock taken by
	// GetBookForUpdate. Catalog management uses this so copy-count edits
	// serialize with in-flight borrows on the same book.
	UpdateBook(ctx context.Context, b book.Book) (book.Book, error)
}

// LedgerTx is the loan-ledger view inside a unit of work.
type LedgerTx interface {
	CreateLoan(ctx context.Context, l loan.Loan) (loan.Loan, error)
	UpdateLoan(ctx context.Context, l loan.Loan) (loan.Loan, error)
	GetLoan(ctx context.Context, id string) (loan.Loan, error)
	// FindOpenLoan reports the open loan for (userID, bookID), if any.
	FindOpenLoan(ctx context.Context, userID, bookID string) (loan.Loan, bool, error)
}

// UnitOfWork exposes the transactional views available inside WithinTx.
type UnitOfWork interface {
	Catalog() CatalogTx
	Ledger() LedgerTx
}

// TxRunner executes fn inside one atomic unit of work. Every read and write
// issued through the UnitOfWork commits together or not at all; an error
// (including context cancellation) rolls the whole unit back. Backends
// detecting concurrent-modification collisions return a TransientConflict
// error, which the lending engine retries.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(uow UnitOfWork) error) error
}
