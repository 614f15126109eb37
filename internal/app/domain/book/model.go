package book

import "time"

// Book represents a catalogued title with a materialized availability
// counter. AvailableCopies always equals TotalCopies minus the number of
// open loans referencing the book; only the lending engine and catalog
// management mutate it, and both pass through the storage unit of work.
type Book struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author,omitempty"`
	ISBN            string    `json:"isbn,omitempty"`
	Description     string    `json:"description,omitempty"`
	CategoryID      string    `json:"category_id,omitempty"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	Version         int64     `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
