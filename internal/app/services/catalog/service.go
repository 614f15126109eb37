// Package catalog manages book records. Copy-count edits run inside the
// same unit of work that serializes borrows, so catalog management can
// never race the lending engine on a book's counters.
package catalog

import (
	"context"
	"strings"

	"github.com/openshelf/library-service/internal/app/domain/book"
	"github.com/openshelf/library-service/internal/app/storage"
	"github.com/openshelf/library-service/internal/errors"
	"github.com/openshelf/library-service/internal/logging"
)

// Service manages the book catalog.
type Service struct {
	books      storage.BookStore
	categories storage.CategoryStore
	tx         storage.TxRunner
	log        *logging.Logger
}

// New constructs a catalog service.
func New(books storage.BookStore, categories storage.CategoryStore, tx storage.TxRunner, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("catalog")
	}
	return &Service{books: books, categories: categories, tx: tx, log: log}
}

// Add creates a book. All copies start on the shelf: the available count
// equals the total count.
func (s *Service) Add(ctx context.Context, b book.Book) (book.Book, error) {
	b.Title = strings.TrimSpace(b.Title)
	if b.Title == "" {
		return book.Book{}, errors.BadRequest("title is required")
	}
	if b.TotalCopies < 0 {
		return book.Book{}, errors.BadRequest("total_copies must not be negative")
	}
	if err := s.validateCategory(ctx, b.CategoryID); err != nil {
		return book.Book{}, err
	}

	b.AvailableCopies = b.TotalCopies
	created, err := s.books.CreateBook(ctx, b)
	if err != nil {
		return book.Book{}, err
	}
	s.log.WithField("book_id", created.ID).WithField("title", created.Title).Info("book added")
	return created, nil
}

// Update rewrites a book's descriptive fields and copy count. Changing the
// total count shifts the available count by the same amount; shrinking the
// total below the number of open loans is rejected.
func (s *Service) Update(ctx context.Context, b book.Book) (book.Book, error) {
	b.Title = strings.TrimSpace(b.Title)
	if b.Title == "" {
		return book.Book{}, errors.BadRequest("title is required")
	}
	if b.TotalCopies < 0 {
		return book.Book{}, errors.BadRequest("total_copies must not be negative")
	}
	if err := s.validateCategory(ctx, b.CategoryID); err != nil {
		return book.Book{}, err
	}

	var updated book.Book
	err := s.tx.WithinTx(ctx, func(uow storage.UnitOfWork) error {
		current, err := uow.Catalog().GetBookForUpdate(ctx, b.ID)
		if err != nil {
			return err
		}
		delta := b.TotalCopies - current.TotalCopies
		available := current.AvailableCopies + delta
		if available < 0 {
			return errors.Conflict("total copies below open loans")
		}
		b.AvailableCopies = available
		updated, err = uow.Catalog().UpdateBook(ctx, b)
		return err
	})
	if err != nil {
		return book.Book{}, err
	}
	s.log.WithField("book_id", updated.ID).Info("book updated")
	return updated, nil
}

// Delete removes a book. Books with loan records cannot be removed.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.books.DeleteBook(ctx, id); err != nil {
		return err
	}
	s.log.WithField("book_id", id).Info("book deleted")
	return nil
}

// Get returns a single book.
func (s *Service) Get(ctx context.Context, id string) (book.Book, error) {
	return s.books.GetBook(ctx, id)
}

// List returns every book, optionally filtered to one category or to
// titles containing a keyword.
func (s *Service) List(ctx context.Context, categoryID, titleKeyword string) ([]book.Book, error) {
	switch {
	case categoryID != "":
		if _, err := s.categories.GetCategory(ctx, categoryID); err != nil {
			return nil, err
		}
		return s.books.ListBooksByCategory(ctx, categoryID)
	case titleKeyword != "":
		return s.books.SearchBooksByTitle(ctx, titleKeyword)
	default:
		return s.books.ListBooks(ctx)
	}
}

func (s *Service) validateCategory(ctx context.Context, categoryID string) error {
	if categoryID == "" {
		return nil
	}
	_, err := s.categories.GetCategory(ctx, categoryID)
	return err
}
