package loan

import "time"

// Status is the lifecycle state of a loan. A loan is created Open and moves
// to Closed exactly once, when the copy is returned. There is no transition
// out of Closed and loans are never deleted.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Loan links one user to one borrowed book copy.
type Loan struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	BookID     string     `json:"book_id"`
	Status     Status     `json:"status"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Open reports whether the loan is still outstanding.
func (l Loan) Open() bool { return l.Status == StatusOpen }
