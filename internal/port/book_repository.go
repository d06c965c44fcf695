package port

import (
	"context"

	"github.com/rl1809/library-management/internal/core/domain"
	"github.com/rl1809/library-management/internal/core/query"
)

type BookRepository interface {
	// CreateBook inserts a new book, returning domain.ErrDuplicate when the ISBN is taken
	CreateBook(ctx context.Context, book domain.Book) error

	// GetBook retrieves a book by ID, nil when it does not exist
	GetBook(ctx context.Context, id string) (*domain.Book, error)

	// FindBooks returns the page of books selected by q
	FindBooks(ctx context.Context, q query.Query) ([]domain.Book, error)

	// CountBooks counts books matching the search and filters of q
	CountBooks(ctx context.Context, q query.Query) (int64, error)

	// ExistsBook reports whether another book (not excludeID) has the same key
	ExistsBook(ctx context.Context, key domain.BookKey, excludeID string) (bool, error)

	// UpdateBook writes book with a version check for optimistic locking,
	// returning domain.ErrConflict on a stale version
	UpdateBook(ctx context.Context, book domain.Book) error

	// DeleteBook removes a book, returns false if it did not exist
	DeleteBook(ctx context.Context, id string) (bool, error)

	// BorrowCopies atomically decreases copies and flips availability at zero.
	// Fails with domain.ErrNotFound or domain.ErrInsufficientCopies.
	BorrowCopies(ctx context.Context, id string, quantity int) (*domain.Book, error)

	// ReturnCopies restores copies (for rollback on failure)
	ReturnCopies(ctx context.Context, id string, quantity int) error
}
