// Package memory provides a thread-safe in-memory implementation of the
// storage interfaces. It is intended for tests and prototyping and keeps
// the implementation deliberately simple: a unit of work holds the store
// lock for its whole duration, so concurrent units touching the same
// records are fully serialized.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openshelf/library-service/internal/app/domain/book"
	"github.com/openshelf/library-service/internal/app/domain/category"
	"github.com/openshelf/library-service/internal/app/domain/loan"
	"github.com/openshelf/library-service/internal/app/domain/user"
	"github.com/openshelf/library-service/internal/app/storage"
	"github.com/openshelf/library-service/internal/errors"
)

// Store is the in-memory persistence layer.
type Store struct {
	mu         sync.RWMutex
	books      map[string]book.Book
	users      map[string]user.User
	categories map[string]category.Category
	loans      map[string]loan.Loan
}

var (
	_ storage.BookStore     = (*Store)(nil)
	_ storage.UserStore     = (*Store)(nil)
	_ storage.CategoryStore = (*Store)(nil)
	_ storage.LoanStore     = (*Store)(nil)
	_ storage.TxRunner      = (*Store)(nil)
)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		books:      make(map[string]book.Book),
		users:      make(map[string]user.User),
		categories: make(map[string]category.Category),
		loans:      make(map[string]loan.Loan),
	}
}

// BookStore implementation --------------------------------------------------

func (s *Store) CreateBook(_ context.Context, b book.Book) (book.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = uuid.NewString()
	} else if _, exists := s.books[b.ID]; exists {
		return book.Book{}, errors.Conflict("book already exists")
	}

	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	s.books[b.ID] = b
	return b, nil
}

func (s *Store) GetBook(_ context.Context, id string) (book.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getBookLocked(id)
}

func (s *Store) getBookLocked(id string) (book.Book, error) {
	b, ok := s.books[id]
	if !ok {
		return book.Book{}, errors.NotFound("book", id)
	}
	return b, nil
}

func (s *Store) ListBooks(_ context.Context) ([]book.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]book.Book, 0, len(s.books))
	for _, b := range s.books {
		out = append(out, b)
	}
	sortBooks(out)
	return out, nil
}

func (s *Store) ListBooksByCategory(_ context.Context, categoryID string) ([]book.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]book.Book, 0)
	for _, b := range s.books {
		if b.CategoryID == categoryID {
			out = append(out, b)
		}
	}
	sortBooks(out)
	return out, nil
}

func (s *Store) SearchBooksByTitle(_ context.Context, keyword string) ([]book.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(keyword)
	out := make([]book.Book, 0)
	for _, b := range s.books {
		if strings.Contains(strings.ToLower(b.Title), needle) {
			out = append(out, b)
		}
	}
	sortBooks(out)
	return out, nil
}

func (s *Store) DeleteBook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.books[id]; !ok {
		return errors.NotFound("book", id)
	}
	for _, l := range s.loans {
		if l.BookID == id {
			return errors.Conflict("book has loan records")
		}
	}
	delete(s.books, id)
	return nil
}

// UserStore implementation --------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == u.Username {
			return user.User{}, errors.Conflict("username already exists")
		}
	}

	if u.ID == "" {
		u.ID = uuid.NewString()
	} else if _, exists := s.users[u.ID]; exists {
		return user.User{}, errors.Conflict("user already exists")
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, errors.NotFound("user", u.ID)
	}
	for _, existing := range s.users {
		if existing.ID != u.ID && existing.Username == u.Username {
			return user.User{}, errors.Conflict("username already exists")
		}
	}
	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, errors.NotFound("user", id)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return user.User{}, errors.NotFound("user", username)
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return errors.NotFound("user", id)
	}
	// Loans are never deleted, so any loan record blocks the deletion.
	// This mirrors the foreign key on loans.user_id.
	for _, l := range s.loans {
		if l.UserID == id {
			return errors.Conflict("user has loan records")
		}
	}
	delete(s.users, id)
	return nil
}

// CategoryStore implementation ----------------------------------------------

func (s *Store) CreateCategory(_ context.Context, c category.Category) (category.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.categories {
		if existing.Name == c.Name {
			return category.Category{}, errors.Conflict("category name already exists")
		}
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	} else if _, exists := s.categories[c.ID]; exists {
		return category.Category{}, errors.Conflict("category already exists")
	}

	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.categories[c.ID] = c
	return c, nil
}

func (s *Store) UpdateCategory(_ context.Context, c category.Category) (category.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.categories[c.ID]
	if !ok {
		return category.Category{}, errors.NotFound("category", c.ID)
	}
	for _, existing := range s.categories {
		if existing.ID != c.ID && existing.Name == c.Name {
			return category.Category{}, errors.Conflict("category name already exists")
		}
	}
	c.CreatedAt = original.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	s.categories[c.ID] = c
	return c, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (category.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.categories[id]
	if !ok {
		return category.Category{}, errors.NotFound("category", id)
	}
	return c, nil
}

func (s *Store) GetCategoryByName(_ context.Context, name string) (category.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.categories {
		if c.Name == name {
			return c, nil
		}
	}
	return category.Category{}, errors.NotFound("category", name)
}

func (s *Store) ListCategories(_ context.Context) ([]category.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]category.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[id]; !ok {
		return errors.NotFound("category", id)
	}
	for _, b := range s.books {
		if b.CategoryID == id {
			return errors.Conflict("category has books")
		}
	}
	delete(s.categories, id)
	return nil
}

// LoanStore implementation --------------------------------------------------

func (s *Store) GetLoan(_ context.Context, id string) (loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLoanLocked(id)
}

func (s *Store) getLoanLocked(id string) (loan.Loan, error) {
	l, ok := s.loans[id]
	if !ok {
		return loan.Loan{}, errors.NotFound("loan", id)
	}
	return cloneLoan(l), nil
}

func (s *Store) ListLoans(_ context.Context) ([]loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]loan.Loan, 0, len(s.loans))
	for _, l := range s.loans {
		out = append(out, cloneLoan(l))
	}
	sortLoans(out)
	return out, nil
}

func (s *Store) ListLoansByUser(_ context.Context, userID string) ([]loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]loan.Loan, 0)
	for _, l := range s.loans {
		if l.UserID == userID {
			out = append(out, cloneLoan(l))
		}
	}
	sortLoans(out)
	return out, nil
}

// TxRunner implementation ---------------------------------------------------

// WithinTx runs fn while holding the store lock, which serializes all units
// of work. Mutations are applied directly; on error the book and loan maps
// are restored from a snapshot so the unit rolls back atomically.
func (s *Store) WithinTx(ctx context.Context, fn func(uow storage.UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	bookSnapshot := make(map[string]book.Book, len(s.books))
	for id, b := range s.books {
		bookSnapshot[id] = b
	}
	loanSnapshot := make(map[string]loan.Loan, len(s.loans))
	for id, l := range s.loans {
		loanSnapshot[id] = cloneLoan(l)
	}

	uow := &unitOfWork{store: s}
	err := fn(uow)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.books = bookSnapshot
		s.loans = loanSnapshot
		return err
	}
	return nil
}

// unitOfWork provides tx-scoped views over a locked store.
type unitOfWork struct {
	store *Store
}

func (u *unitOfWork) Catalog() storage.CatalogTx { return (*catalogTx)(u) }
func (u *unitOfWork) Ledger() storage.LedgerTx   { return (*ledgerTx)(u) }

type catalogTx unitOfWork

func (t *catalogTx) GetBookForUpdate(_ context.Context, id string) (book.Book, error) {
	return t.store.getBookLocked(id)
}

func (t *catalogTx) AdjustStock(_ context.Context, id string, delta int) (book.Book, error) {
	b, err := t.store.getBookLocked(id)
	if err != nil {
		return book.Book{}, err
	}
	next := b.AvailableCopies + delta
	if next < 0 {
		return book.Book{}, errors.Invariant("available-copy count would go negative").
			WithDetails("book_id", id).
			WithDetails("available", b.AvailableCopies).
			WithDetails("delta", delta)
	}
	b.AvailableCopies = next
	b.Version++
	b.UpdatedAt = time.Now().UTC()
	t.store.books[id] = b
	return b, nil
}

func (t *catalogTx) UpdateBook(_ context.Context, b book.Book) (book.Book, error) {
	original, ok := t.store.books[b.ID]
	if !ok {
		return book.Book{}, errors.NotFound("book", b.ID)
	}
	b.CreatedAt = original.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	b.Version = original.Version + 1
	t.store.books[b.ID] = b
	return b, nil
}

type ledgerTx unitOfWork

func (t *ledgerTx) CreateLoan(_ context.Context, l loan.Loan) (loan.Loan, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	} else if _, exists := t.store.loans[l.ID]; exists {
		return loan.Loan{}, errors.Conflict("loan already exists")
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	t.store.loans[l.ID] = cloneLoan(l)
	return l, nil
}

func (t *ledgerTx) UpdateLoan(_ context.Context, l loan.Loan) (loan.Loan, error) {
	original, ok := t.store.loans[l.ID]
	if !ok {
		return loan.Loan{}, errors.NotFound("loan", l.ID)
	}
	l.CreatedAt = original.CreatedAt
	l.UpdatedAt = time.Now().UTC()
	t.store.loans[l.ID] = cloneLoan(l)
	return l, nil
}

func (t *ledgerTx) GetLoan(_ context.Context, id string) (loan.Loan, error) {
	return t.store.getLoanLocked(id)
}

func (t *ledgerTx) FindOpenLoan(_ context.Context, userID, bookID string) (loan.Loan, bool, error) {
	for _, l := range t.store.loans {
		if l.UserID == userID && l.BookID == bookID && l.Open() {
			return cloneLoan(l), true, nil
		}
	}
	return loan.Loan{}, false, nil
}

// helpers --------------------------------------------------------------------

func cloneLoan(l loan.Loan) loan.Loan {
	if l.ReturnedAt != nil {
		returned := *l.ReturnedAt
		l.ReturnedAt = &returned
	}
	return l
}

func sortBooks(books []book.Book) {
	sort.Slice(books, func(i, j int) bool {
		if books[i].CreatedAt.Equal(books[j].CreatedAt) {
			return books[i].ID < books[j].ID
		}
		return books[i].CreatedAt.Before(books[j].CreatedAt)
	})
}

func sortLoans(loans []loan.Loan) {
	sort.Slice(loans, func(i, j int) bool {
		if loans[i].BorrowedAt.Equal(loans[j].BorrowedAt) {
			return loans[i].ID < loans[j].ID
		}
		return loans[i].BorrowedAt.After(loans[j].BorrowedAt)
	})
}
