package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/library-management/internal/adapter/storage"
	"github.com/rl1809/library-management/internal/core/domain"
)

// Mock BorrowRepository
type mockBorrowRepo struct {
	mu      sync.Mutex
	records []domain.BorrowRecord
	failErr error
}

func (m *mockBorrowRepo) CreateBorrow(ctx context.Context, record domain.BorrowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}
	m.records = append(m.records, record)
	return nil
}

func (m *mockBorrowRepo) SummarizeBorrows(ctx context.Context) ([]domain.BorrowSummary, error) {
	return nil, nil
}

func seedBook(t *testing.T, store *storage.MemoryAdapter, copies int) domain.Book {
	t.Helper()
	book := domain.Book{
		ID:     uuid.NewString(),
		Title:  "The Hobbit",
		Author: "J.R.R. Tolkien",
		Genre:  domain.GenreFantasy,
		ISBN:   "9780547928227",
	}
	book.SetCopies(copies)
	if err := store.CreateBook(context.Background(), book); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	return book
}

func borrowReq(bookID string, quantity int) BorrowRequest {
	return BorrowRequest{
		BookID:   bookID,
		Quantity: quantity,
		DueDate:  time.Date(2025, 7, 18, 0, 0, 0, 0, time.UTC),
	}
}

func TestBorrow_Success(t *testing.T) {
	store := storage.NewMemoryAdapter()
	book := seedBook(t, store, 5)
	svc := NewBorrowService(store, store)

	record, err := svc.Borrow(context.Background(), borrowReq(book.ID, 2))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if record.BookID != book.ID || record.Quantity != 2 {
		t.Errorf("unexpected record: %+v", record)
	}
	if _, err := uuid.Parse(record.ID); err != nil {
		t.Errorf("expected uuid record id, got %q", record.ID)
	}

	stored, _ := store.GetBook(context.Background(), book.ID)
	if stored.Copies != 3 || !stored.Available {
		t.Errorf("expected 3 available copies, got %d (available=%v)", stored.Copies, stored.Available)
	}
}

func TestBorrow_LastCopies(t *testing.T) {
	store := storage.NewMemoryAdapter()
	book := seedBook(t, store, 5)
	svc := NewBorrowService(store, store)

	if _, err := svc.Borrow(context.Background(), borrowReq(book.ID, 5)); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	stored, _ := store.GetBook(context.Background(), book.ID)
	if stored.Copies != 0 || stored.Available {
		t.Errorf("expected book to be unavailable, got copies=%d available=%v", stored.Copies, stored.Available)
	}

	_, err := svc.Borrow(context.Background(), borrowReq(book.ID, 1))
	if !errors.Is(err, ErrNotEnoughCopies) {
		t.Errorf("expected ErrNotEnoughCopies, got: %v", err)
	}
}

func TestBorrow_InsufficientCopies(t *testing.T) {
	store := storage.NewMemoryAdapter()
	book := seedBook(t, store, 2)
	svc := NewBorrowService(store, store)

	_, err := svc.Borrow(context.Background(), borrowReq(book.ID, 3))
	if !errors.Is(err, domain.ErrInsufficientCopies) {
		t.Errorf("expected ErrInsufficientCopies, got: %v", err)
	}
	if err == nil || err.Error() != "Not enough copies available." {
		t.Errorf("unexpected message: %v", err)
	}

	// Copies should be unchanged
	stored, _ := store.GetBook(context.Background(), book.ID)
	if stored.Copies != 2 {
		t.Errorf("expected copies 2, got %d", stored.Copies)
	}
}

func TestBorrow_BookNotFound(t *testing.T) {
	store := storage.NewMemoryAdapter()
	svc := NewBorrowService(store, store)

	_, err := svc.Borrow(context.Background(), borrowReq(uuid.NewString(), 1))
	if !errors.Is(err, ErrBorrowBookNotFound) {
		t.Errorf("expected ErrBorrowBookNotFound, got: %v", err)
	}
}

func TestBorrow_MalformedBookID(t *testing.T) {
	store := storage.NewMemoryAdapter()
	svc := NewBorrowService(store, store)

	_, err := svc.Borrow(context.Background(), borrowReq("not-an-id", 1))
	if !errors.Is(err, domain.ErrMalformedID) {
		t.Errorf("expected ErrMalformedID, got: %v", err)
	}
}

func TestBorrow_InvalidQuantity(t *testing.T) {
	store := storage.NewMemoryAdapter()
	book := seedBook(t, store, 2)
	svc := NewBorrowService(store, store)

	for _, q := range []int{0, -1} {
		_, err := svc.Borrow(context.Background(), borrowReq(book.ID, q))
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("quantity %d: expected ErrValidation, got: %v", q, err)
		}
	}
}

func TestBorrow_RollbackOnRecordFailure(t *testing.T) {
	store := storage.NewMemoryAdapter()
	book := seedBook(t, store, 5)
	borrows := &mockBorrowRepo{failErr: errors.New("disk full")}
	svc := NewBorrowService(store, borrows)

	_, err := svc.Borrow(context.Background(), borrowReq(book.ID, 3))
	if err == nil {
		t.Fatal("expected error")
	}
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		t.Errorf("expected an internal error, got domain error %v", err)
	}

	// Copies should be restored
	stored, _ := store.GetBook(context.Background(), book.ID)
	if stored.Copies != 5 || !stored.Available {
		t.Errorf("expected copies restored to 5, got %d", stored.Copies)
	}
}

func TestBorrow_RollbackSurvivesCancelledContext(t *testing.T) {
	store := storage.NewMemoryAdapter()
	book := seedBook(t, store, 1)
	svc := NewBorrowService(store, &mockBorrowRepo{failErr: context.Canceled})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Borrow(ctx, borrowReq(book.ID, 1)); err == nil {
		t.Fatal("expected error")
	}

	stored, _ := store.GetBook(context.Background(), book.ID)
	if stored.Copies != 1 {
		t.Errorf("expected copies 1, got %d", stored.Copies)
	}
}

func TestBorrow_Concurrent(t *testing.T) {
	initialCopies := 20
	totalRequests := 50

	store := storage.NewMemoryAdapter()
	book := seedBook(t, store, initialCopies)
	borrows := &mockBorrowRepo{}
	svc := NewBorrowService(store, borrows)

	var successCount atomic.Int32
	var failCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Borrow(context.Background(), borrowReq(book.ID, 1))
			if err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != int32(initialCopies) {
		t.Errorf("expected %d successes, got %d", initialCopies, successCount.Load())
	}
	if failCount.Load() != int32(totalRequests-initialCopies) {
		t.Errorf("expected %d failures, got %d", totalRequests-initialCopies, failCount.Load())
	}
	if len(borrows.records) != initialCopies {
		t.Errorf("expected %d records, got %d", initialCopies, len(borrows.records))
	}

	stored, _ := store.GetBook(context.Background(), book.ID)
	if stored.Copies != 0 || stored.Available {
		t.Errorf("expected no copies left, got %d", stored.Copies)
	}
}

func TestBorrow_TwoConcurrentLargeBorrows(t *testing.T) {
	store := storage.NewMemoryAdapter()
	book := seedBook(t, store, 5)
	svc := NewBorrowService(store, store)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Borrow(context.Background(), borrowReq(book.ID, 3)); err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
	stored, _ := store.GetBook(context.Background(), book.ID)
	if stored.Copies != 2 {
		t.Errorf("expected copies 2, got %d", stored.Copies)
	}
}

func TestSummary(t *testing.T) {
	store := storage.NewMemoryAdapter()
	svc := NewBorrowService(store, store)

	_, err := svc.Summary(context.Background())
	if !errors.Is(err, domain.ErrNoRecords) {
		t.Errorf("expected ErrNoRecords, got: %v", err)
	}

	book := seedBook(t, store, 10)
	for _, q := range []int{2, 3} {
		if _, err := svc.Borrow(context.Background(), borrowReq(book.ID, q)); err != nil {
			t.Fatalf("borrow failed: %v", err)
		}
	}

	rows, err := svc.Summary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	want := domain.BorrowSummary{
		Book:          domain.BookRef{Title: "The Hobbit", ISBN: "9780547928227"},
		TotalQuantity: 5,
	}
	if rows[0] != want {
		t.Errorf("expected %+v, got %+v", want, rows[0])
	}
}
