package port

import (
	"context"

	"github.com/rl1809/library-management/internal/core/domain"
)

type BorrowRepository interface {
	// CreateBorrow persists a borrow record
	CreateBorrow(ctx context.Context, record domain.BorrowRecord) error

	// SummarizeBorrows sums borrowed quantity per existing book
	SummarizeBorrows(ctx context.Context) ([]domain.BorrowSummary, error)
}

// Store is a backend serving both repositories.
type Store interface {
	BookRepository
	BorrowRepository
	Pinger

	Close() error
}

type Pinger interface {
	Ping(ctx context.Context) error
}
