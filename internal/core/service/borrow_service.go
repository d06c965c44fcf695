package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/library-management/internal/core/domain"
	"github.com/rl1809/library-management/internal/lib/reqid"
	"github.com/rl1809/library-management/internal/port"
)

const rollbackTimeout = 5 * time.Second

var (
	ErrBorrowBookNotFound = domain.NewError(domain.ErrNotFound, "Book not found.")
	ErrNotEnoughCopies    = domain.NewError(domain.ErrInsufficientCopies, "Not enough copies available.")
	ErrMalformedBorrowID  = domain.NewError(domain.ErrMalformedID, "Resource not found. Invalid: book")
	ErrNoBorrowRecords    = domain.NewError(domain.ErrNoRecords, "No borrowed book records found")
	ErrInvalidQuantity    = domain.NewError(domain.ErrValidation, "Quantity must be a positive number.")
)

type BorrowRequest struct {
	BookID   string
	Quantity int
	DueDate  time.Time
}

type BorrowService struct {
	books   port.BookRepository
	borrows port.BorrowRepository
	now     func() time.Time
}

func NewBorrowService(books port.BookRepository, borrows port.BorrowRepository) *BorrowService {
	return &BorrowService{
		books:   books,
		borrows: borrows,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Borrow takes copies off the shelf and records the loan. When the record
// cannot be written the copies are put back, so a decrement is always backed
// by a record.
func (s *BorrowService) Borrow(ctx context.Context, req BorrowRequest) (*domain.BorrowRecord, error) {
	op := "BorrowService.Borrow"
	rqID := reqid.FromCtx(ctx)

	if err := checkID(req.BookID); err != nil {
		return nil, ErrMalformedBorrowID
	}
	if req.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	book, err := s.books.BorrowCopies(ctx, req.BookID, req.Quantity)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, ErrBorrowBookNotFound
	case errors.Is(err, domain.ErrInsufficientCopies):
		return nil, ErrNotEnoughCopies
	case err != nil:
		return nil, fmt.Errorf("borrow copies failed: %w", err)
	}

	now := s.now()
	record := domain.BorrowRecord{
		ID:        uuid.NewString(),
		BookID:    req.BookID,
		Quantity:  req.Quantity,
		DueDate:   req.DueDate,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.borrows.CreateBorrow(ctx, record); err != nil {
		slog.Error(
			"failed to save borrow record",
			slog.String("op", op),
			slog.String("rqID", rqID),
			slog.String("bookID", req.BookID),
			slog.String("err", err.Error()),
		)
		s.rollback(ctx, req.BookID, req.Quantity)
		return nil, fmt.Errorf("create borrow record failed: %w", err)
	}

	slog.Info(
		"book borrowed",
		slog.String("op", op),
		slog.String("rqID", rqID),
		slog.String("bookID", req.BookID),
		slog.Int("quantity", req.Quantity),
		slog.Int("copiesLeft", book.Copies),
	)
	return &record, nil
}

func (s *BorrowService) rollback(ctx context.Context, bookID string, quantity int) {
	op := "BorrowService.rollback"

	// the request may already be cancelled; the rollback must still run
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if err := s.books.ReturnCopies(ctx, bookID, quantity); err != nil {
		slog.Error(
			"CRITICAL rollback failed",
			slog.String("op", op),
			slog.String("rqID", reqid.FromCtx(ctx)),
			slog.String("bookID", bookID),
			slog.Int("quantity", quantity),
			slog.String("err", err.Error()),
		)
		return
	}
	slog.Warn(
		"rolled back borrowed copies",
		slog.String("op", op),
		slog.String("rqID", reqid.FromCtx(ctx)),
		slog.String("bookID", bookID),
		slog.Int("quantity", quantity),
	)
}

func (s *BorrowService) Summary(ctx context.Context) ([]domain.BorrowSummary, error) {
	rows, err := s.borrows.SummarizeBorrows(ctx)
	if err != nil {
		return nil, fmt.Errorf("summarize borrows failed: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoBorrowRecords
	}
	return rows, nil
}
