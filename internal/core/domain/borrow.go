package domain

import (
	"errors"
	"time"
)

type BorrowRecord struct {
	ID        string    `json:"_id" db:"id" bson:"_id"`
	BookID    string    `json:"book" db:"book_id" bson:"book"`
	Quantity  int       `json:"quantity" db:"quantity" bson:"quantity"`
	DueDate   time.Time `json:"dueDate" db:"due_date" bson:"dueDate"`
	CreatedAt time.Time `json:"createdAt" db:"created_at" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at" bson:"updatedAt"`
}

type BookRef struct {
	Title string `json:"title" db:"title" bson:"title"`
	ISBN  string `json:"isbn" db:"isbn" bson:"isbn"`
}

// BorrowSummary is one row of the borrowed-books report.
type BorrowSummary struct {
	Book          BookRef `json:"book" bson:"book"`
	TotalQuantity int     `json:"totalQuantity" bson:"totalQuantity"`
}

var dueDateLayouts = []string{time.RFC3339Nano, time.RFC3339, time.DateTime, time.DateOnly}

var errInvalidDueDate = errors.New("invalid due date")

// ParseDueDate accepts RFC 3339 timestamps and plain calendar dates.
func ParseDueDate(raw string) (time.Time, error) {
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errInvalidDueDate
}
