package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/library-management/internal/core/domain"
	"github.com/rl1809/library-management/internal/core/query"
)

// MemoryAdapter keeps books and borrow records in process. A single mutex
// makes every operation, including BorrowCopies, atomic.
type MemoryAdapter struct {
	mu      sync.RWMutex
	books   map[string]domain.Book
	isbns   map[string]string
	borrows []domain.BorrowRecord
	now     func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		books: make(map[string]domain.Book),
		isbns: make(map[string]string),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryAdapter) CreateBook(ctx context.Context, book domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.isbns[book.ISBN]; taken {
		return domain.ErrDuplicate
	}
	m.books[book.ID] = book
	m.isbns[book.ISBN] = book.ID
	return nil
}

func (m *MemoryAdapter) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	book, ok := m.books[id]
	if !ok {
		return nil, nil
	}
	return &book, nil
}

func (m *MemoryAdapter) FindBooks(ctx context.Context, q query.Query) ([]domain.Book, error) {
	return query.Apply(q, m.snapshot(), domain.Book.Document), nil
}

func (m *MemoryAdapter) CountBooks(ctx context.Context, q query.Query) (int64, error) {
	return query.Count(q, m.snapshot(), domain.Book.Document), nil
}

func (m *MemoryAdapter) snapshot() []domain.Book {
	m.mu.RLock()
	defer m.mu.RUnlock()

	books := make([]domain.Book, 0, len(m.books))
	for _, b := range m.books {
		books = append(books, b)
	}
	return books
}

func (m *MemoryAdapter) ExistsBook(ctx context.Context, key domain.BookKey, excludeID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, b := range m.books {
		if id != excludeID && b.Key() == key {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryAdapter) UpdateBook(ctx context.Context, book domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.books[book.ID]
	if !ok || current.Version != book.Version {
		return domain.ErrConflict
	}
	if owner, taken := m.isbns[book.ISBN]; taken && owner != book.ID {
		return domain.ErrDuplicate
	}

	delete(m.isbns, current.ISBN)
	m.isbns[book.ISBN] = book.ID
	book.Version++
	m.books[book.ID] = book
	return nil
}

func (m *MemoryAdapter) DeleteBook(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	book, ok := m.books[id]
	if !ok {
		return false, nil
	}
	delete(m.books, id)
	delete(m.isbns, book.ISBN)
	return true, nil
}

func (m *MemoryAdapter) BorrowCopies(ctx context.Context, id string, quantity int) (*domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	book, ok := m.books[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := book.Borrow(quantity); err != nil {
		return nil, err
	}
	book.Version++
	book.UpdatedAt = m.now()
	m.books[id] = book
	return &book, nil
}

func (m *MemoryAdapter) ReturnCopies(ctx context.Context, id string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	book, ok := m.books[id]
	if !ok {
		return domain.ErrNotFound
	}
	book.Return(quantity)
	book.Version++
	book.UpdatedAt = m.now()
	m.books[id] = book
	return nil
}

func (m *MemoryAdapter) CreateBorrow(ctx context.Context, record domain.BorrowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.borrows = append(m.borrows, record)
	return nil
}

func (m *MemoryAdapter) SummarizeBorrows(ctx context.Context) ([]domain.BorrowSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return summarize(m.borrows, func(id string) (domain.BookRef, bool) {
		b, ok := m.books[id]
		return domain.BookRef{Title: b.Title, ISBN: b.ISBN}, ok
	}), nil
}

func (m *MemoryAdapter) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryAdapter) Close() error {
	return nil
}

// summarize groups records by book in first-seen order and joins each group
// with lookup, dropping records whose book is gone.
func summarize(records []domain.BorrowRecord, lookup func(bookID string) (domain.BookRef, bool)) []domain.BorrowSummary {
	totals := make(map[string]int)
	var order []string
	for _, r := range records {
		if _, seen := totals[r.BookID]; !seen {
			order = append(order, r.BookID)
		}
		totals[r.BookID] += r.Quantity
	}

	rows := make([]domain.BorrowSummary, 0, len(order))
	for _, id := range order {
		ref, ok := lookup(id)
		if !ok {
			continue
		}
		rows = append(rows, domain.BorrowSummary{Book: ref, TotalQuantity: totals[id]})
	}
	return rows
}
