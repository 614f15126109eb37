// Package postgres implements the storage interfaces backed by PostgreSQL.
//
// Concurrency control for the lending unit of work is pessimistic: the book
// row is locked with SELECT ... FOR UPDATE for the duration of the
// transaction, so concurrent borrows and returns of the same book are
// serialized by the database. Deadlocks and serialization failures are
// mapped to TransientConflict, which the lending engine retries.
package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/openshelf/library-service/internal/app/domain/book"
	"github.com/openshelf/library-service/internal/app/domain/category"
	"github.com/openshelf/library-service/internal/app/domain/loan"
	"github.com/openshelf/library-service/internal/app/domain/user"
	"github.com/openshelf/library-service/internal/app/storage"
	"github.com/openshelf/library-service/internal/errors"
)

// Store implements the storage interfaces using a database handle.
type Store struct {
	db *sql.DB
}

var (
	_ storage.BookStore     = (*Store)(nil)
	_ storage.UserStore     = (*Store)(nil)
	_ storage.CategoryStore = (*Store)(nil)
	_ storage.LoanStore     = (*Store)(nil)
	_ storage.TxRunner      = (*Store)(nil)
)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const bookColumns = `id, title, author, isbn, description, category_id, total_copies, available_copies, version, created_at, updated_at`

// BookStore implementation --------------------------------------------------

func (s *Store) CreateBook(ctx context.Context, b book.Book) (book.Book, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (id, title, author, isbn, description, category_id, total_copies, available_copies, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10)
	`, b.ID, b.Title, b.Author, b.ISBN, b.Description, nullString(b.CategoryID), b.TotalCopies, b.AvailableCopies, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return book.Book{}, mapError(err, "book", b.ID)
	}
	return b, nil
}

func (s *Store) GetBook(ctx context.Context, id string) (book.Book, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id)
	b, err := scanBook(row)
	if err != nil {
		return book.Book{}, mapError(err, "book", id)
	}
	return b, nil
}

func (s *Store) ListBooks(ctx context.Context) ([]book.Book, error) {
	return s.queryBooks(ctx, `SELECT `+bookColumns+` FROM books ORDER BY created_at, id`)
}

func (s *Store) ListBooksByCategory(ctx context.Context, categoryID string) ([]book.Book, error) {
	return s.queryBooks(ctx, `SELECT `+bookColumns+` FROM books WHERE category_id = $1 ORDER BY created_at, id`, categoryID)
}

func (s *Store) SearchBooksByTitle(ctx context.Context, keyword string) ([]book.Book, error) {
	return s.queryBooks(ctx, `SELECT `+bookColumns+` FROM books WHERE title ILIKE '%' || $1 || '%' ORDER BY created_at, id`, keyword)
}

func (s *Store) DeleteBook(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "book", id)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NotFound("book", id)
	}
	return nil
}

func (s *Store) queryBooks(ctx context.Context, query string, args ...interface{}) ([]book.Book, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "book", "")
	}
	defer rows.Close()

	var out []book.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UserStore implementation --------------------------------------------------

const userColumns = `id, username, password_hash, role, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Username, u.PasswordHash, string(u.Role), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, mapError(err, "user", u.ID)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	u.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET username = $2, password_hash = $3, role = $4, updated_at = $5
		WHERE id = $1
	`, u.ID, u.Username, u.PasswordHash, string(u.Role), u.UpdatedAt)
	if err != nil {
		return user.User{}, mapError(err, "user", u.ID)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, errors.NotFound("user", u.ID)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (s *Store) queryUser(ctx context.Context, query, arg string) (user.User, error) {
	var u user.User
	var role string
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return user.User{}, mapError(err, "user", arg)
	}
	u.Role = user.Role(role)
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, mapError(err, "user", "")
	}
	defer rows.Close()

	var out []user.User
	for rows.Next() {
		var u user.User
		var role string
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Role = user.Role(role)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	// Loans are never deleted, so any loan record blocks the deletion.
	// The foreign key on loans.user_id backstops this check.
	var loans int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE user_id = $1`, id).Scan(&loans); err != nil {
		return mapError(err, "user", id)
	}
	if loans > 0 {
		return errors.Conflict("user has loan records")
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "user", id)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NotFound("user", id)
	}
	return nil
}

// CategoryStore implementation ----------------------------------------------

const categoryColumns = `id, name, description, created_at, updated_at`

func (s *Store) CreateCategory(ctx context.Context, c category.Category) (category.Category, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.Name, c.Description, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return category.Category{}, mapError(err, "category", c.ID)
	}
	return c, nil
}

func (s *Store) UpdateCategory(ctx context.Context, c category.Category) (category.Category, error) {
	c.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE categories SET name = $2, description = $3, updated_at = $4 WHERE id = $1
	`, c.ID, c.Name, c.Description, c.UpdatedAt)
	if err != nil {
		return category.Category{}, mapError(err, "category", c.ID)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return category.Category{}, errors.NotFound("category", c.ID)
	}
	return c, nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (category.Category, error) {
	return s.queryCategory(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id)
}

func (s *Store) GetCategoryByName(ctx context.Context, name string) (category.Category, error) {
	return s.queryCategory(ctx, `SELECT `+categoryColumns+` FROM categories WHERE name = $1`, name)
}

func (s *Store) queryCategory(ctx context.Context, query, arg string) (category.Category, error) {
	var c category.Category
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return category.Category{}, mapError(err, "category", arg)
	}
	return c, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]category.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY name`)
	if err != nil {
		return nil, mapError(err, "category", "")
	}
	defer rows.Close()

	var out []category.Category
	for rows.Next() {
		var c category.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "category", id)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.NotFound("category", id)
	}
	return nil
}

// LoanStore implementation --------------------------------------------------

const loanColumns = `id, user_id, book_id, status, borrowed_at, returned_at, created_at, updated_at`

func (s *Store) GetLoan(ctx context.Context, id string) (loan.Loan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)
	l, err := scanLoan(row)
	if err != nil {
		return loan.Loan{}, mapError(err, "loan", id)
	}
	return l, nil
}

func (s *Store) ListLoans(ctx context.Context) ([]loan.Loan, error) {
	return s.queryLoans(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY borrowed_at DESC, id`)
}

func (s *Store) ListLoansByUser(ctx context.Context, userID string) ([]loan.Loan, error) {
	return s.queryLoans(ctx, `SELECT `+loanColumns+` FROM loans WHERE user_id = $1 ORDER BY borrowed_at DESC, id`, userID)
}

func (s *Store) queryLoans(ctx context.Context, query string, args ...interface{}) ([]loan.Loan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "loan", "")
	}
	defer rows.Close()

	var out []loan.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// TxRunner implementation ---------------------------------------------------

// WithinTx runs fn inside a database transaction. Context cancellation
// aborts the transaction and rolls back every effect.
func (s *Store) WithinTx(ctx context.Context, fn func(uow storage.UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err, "", "")
	}

	uow := &unitOfWork{tx: tx}
	if err := fn(uow); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(err, "", "")
	}
	return nil
}

type unitOfWork struct {
	tx *sql.Tx
}

func (u *unitOfWork) Catalog() storage.CatalogTx { return (*catalogTx)(u) }
func (u *unitOfWork) Ledger() storage.LedgerTx   { return (*ledgerTx)(u) }

type catalogTx unitOfWork

func (t *catalogTx) GetBookForUpdate(ctx context.Context, id string) (book.Book, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1 FOR UPDATE`, id)
	b, err := scanBook(row)
	if err != nil {
		return book.Book{}, mapError(err, "book", id)
	}
	return b, nil
}

func (t *catalogTx) AdjustStock(ctx context.Context, id string, delta int) (book.Book, error) {
	row := t.tx.QueryRowContext(ctx, `
		UPDATE books
		SET available_copies = available_copies + $2, version = version + 1, updated_at = $3
		WHERE id = $1
		RETURNING `+bookColumns+`
	`, id, delta, time.Now().UTC())

	b, err := scanBook(row)
	if err != nil {
		return book.Book{}, mapError(err, "book", id)
	}
	return b, nil
}

func (t *catalogTx) UpdateBook(ctx context.Context, b book.Book) (book.Book, error) {
	row := t.tx.QueryRowContext(ctx, `
		UPDATE books
		SET title = $2, author = $3, isbn = $4, description = $5, category_id = $6,
		    total_copies = $7, available_copies = $8, version = version + 1, updated_at = $9
		WHERE id = $1
		RETURNING `+bookColumns+`
	`, b.ID, b.Title, b.Author, b.ISBN, b.Description, nullString(b.CategoryID), b.TotalCopies, b.AvailableCopies, time.Now().UTC())

	updated, err := scanBook(row)
	if err != nil {
		return book.Book{}, mapError(err, "book", b.ID)
	}
	return updated, nil
}

type ledgerTx unitOfWork

func (t *ledgerTx) CreateLoan(ctx context.Context, l loan.Loan) (loan.Loan, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO loans (id, user_id, book_id, status, borrowed_at, returned_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, l.ID, l.UserID, l.BookID, string(l.Status), l.BorrowedAt, nullTime(l.ReturnedAt), l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return loan.Loan{}, mapError(err, "loan", l.ID)
	}
	return l, nil
}

func (t *ledgerTx) UpdateLoan(ctx context.Context, l loan.Loan) (loan.Loan, error) {
	l.UpdatedAt = time.Now().UTC()
	result, err := t.tx.ExecContext(ctx, `
		UPDATE loans SET status = $2, returned_at = $3, updated_at = $4 WHERE id = $1
	`, l.ID, string(l.Status), nullTime(l.ReturnedAt), l.UpdatedAt)
	if err != nil {
		return loan.Loan{}, mapError(err, "loan", l.ID)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return loan.Loan{}, errors.NotFound("loan", l.ID)
	}
	return l, nil
}

func (t *ledgerTx) GetLoan(ctx context.Context, id string) (loan.Loan, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)
	l, err := scanLoan(row)
	if err != nil {
		return loan.Loan{}, mapError(err, "loan", id)
	}
	return l, nil
}

func (t *ledgerTx) FindOpenLoan(ctx context.Context, userID, bookID string) (loan.Loan, bool, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+loanColumns+` FROM loans
		WHERE user_id = $1 AND book_id = $2 AND status = 'open'
	`, userID, bookID)

	l, err := scanLoan(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return loan.Loan{}, false, nil
	}
	if err != nil {
		return loan.Loan{}, false, mapError(err, "loan", "")
	}
	return l, true, nil
}

// helpers --------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBook(row rowScanner) (book.Book, error) {
	var b book.Book
	var categoryID sql.NullString
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Description, &categoryID,
		&b.TotalCopies, &b.AvailableCopies, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return book.Book{}, err
	}
	b.CategoryID = categoryID.String
	return b, nil
}

func scanLoan(row rowScanner) (loan.Loan, error) {
	var l loan.Loan
	var status string
	var returnedAt sql.NullTime
	err := row.Scan(&l.ID, &l.UserID, &l.BookID, &status, &l.BorrowedAt, &returnedAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return loan.Loan{}, err
	}
	l.Status = loan.Status(status)
	if returnedAt.Valid {
		t := returnedAt.Time
		l.ReturnedAt = &t
	}
	return l, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// mapError translates driver errors into the service error taxonomy.
func mapError(err error, entity, id string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		if entity == "" {
			entity = "record"
		}
		return errors.NotFound(entity, id)
	}

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return errors.TransientConflict(err)
		case "23505": // unique_violation
			return errors.Conflict(uniqueViolationReason(pqErr))
		case "23503": // foreign_key_violation
			return errors.Conflict("record is referenced by other records")
		case "23514": // check_violation
			return errors.Invariant("available-copy count would go negative")
		}
	}
	return err
}

func uniqueViolationReason(pqErr *pq.Error) string {
	switch pqErr.Constraint {
	case "users_username_key":
		return "username already exists"
	case "categories_name_key":
		return "category name already exists"
	case "loans_open_user_book_idx":
		return errors.ReasonAlreadyBorrowed
	}
	return "duplicate record"
}
