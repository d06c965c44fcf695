package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/library-management/internal/core/domain"
	"github.com/rl1809/library-management/internal/core/query"
	"github.com/rl1809/library-management/internal/lib/reqid"
	"github.com/rl1809/library-management/internal/port"
)

const maxUpdateAttempts = 3

var (
	ErrBookExists      = domain.NewError(domain.ErrDuplicate, "Book already exists")
	ErrBookKeyTaken    = domain.NewError(domain.ErrDuplicate, "A book with this title, author, and genre already exists.")
	ErrISBNTaken       = domain.NewError(domain.ErrDuplicate, "ISBN must be unique.")
	ErrBookNotFound    = domain.NewError(domain.ErrNotFound, "Book not found!")
	ErrBooksNotFound   = domain.NewError(domain.ErrNotFound, "Books not found!")
	ErrInvalidBookID   = domain.NewError(domain.ErrNotFound, "Invalid book id")
	ErrUpdateConflict  = domain.NewError(domain.ErrConflict, "Book was modified concurrently, please retry.")
	ErrMalformedBookID = domain.NewError(domain.ErrMalformedID, "Resource not found. Invalid: _id")
)

type NewBook struct {
	Title       string
	Author      string
	Genre       domain.Genre
	ISBN        string
	Description string
	Copies      int
}

// BookPatch holds the fields of a partial update; nil means unchanged.
type BookPatch struct {
	Title       *string
	Author      *string
	Genre       *domain.Genre
	ISBN        *string
	Description *string
	Copies      *int
}

func (p BookPatch) applyTo(b *domain.Book) {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Author != nil {
		b.Author = *p.Author
	}
	if p.Genre != nil {
		b.Genre = *p.Genre
	}
	if p.ISBN != nil {
		b.ISBN = *p.ISBN
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.Copies != nil {
		b.SetCopies(*p.Copies)
	}
}

type BookService struct {
	books port.BookRepository
	now   func() time.Time
}

func NewBookService(books port.BookRepository) *BookService {
	return &BookService{
		books: books,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *BookService) Create(ctx context.Context, in NewBook) (*domain.Book, error) {
	op := "BookService.Create"

	now := s.now()
	book := domain.Book{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Author:      in.Author,
		Genre:       in.Genre,
		ISBN:        in.ISBN,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	book.SetCopies(in.Copies)

	exists, err := s.books.ExistsBook(ctx, book.Key(), "")
	if err != nil {
		return nil, fmt.Errorf("duplicate check failed: %w", err)
	}
	if exists {
		return nil, ErrBookExists
	}

	if err := s.books.CreateBook(ctx, book); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, ErrISBNTaken
		}
		return nil, fmt.Errorf("create book failed: %w", err)
	}

	slog.Info(
		"book created",
		slog.String("op", op),
		slog.String("rqID", reqid.FromCtx(ctx)),
		slog.String("bookID", book.ID),
	)
	return &book, nil
}

// List runs the listing query described by params and returns the projected
// documents together with pagination metadata.
func (s *BookService) List(ctx context.Context, params url.Values) ([]map[string]any, query.Meta, error) {
	q := query.FromValues(domain.BookSchema, params).
		Search(domain.SearchableBookFields...).
		Filter().
		Sort().
		Paginate().
		Fields().
		Query()

	books, err := s.books.FindBooks(ctx, q)
	if err != nil {
		return nil, query.Meta{}, fmt.Errorf("find books failed: %w", err)
	}
	if len(books) == 0 {
		return nil, query.Meta{}, ErrBooksNotFound
	}

	meta, err := query.CountTotal(ctx, q, s.books.CountBooks)
	if err != nil {
		return nil, query.Meta{}, fmt.Errorf("count books failed: %w", err)
	}

	docs := make([]map[string]any, 0, len(books))
	for _, b := range books {
		docs = append(docs, q.Projection.Apply(b.Document()))
	}
	return docs, meta, nil
}

func (s *BookService) Get(ctx context.Context, id string) (*domain.Book, error) {
	if err := checkID(id); err != nil {
		return nil, ErrMalformedBookID
	}

	book, err := s.books.GetBook(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get book failed: %w", err)
	}
	if book == nil {
		return nil, ErrBookNotFound
	}
	return book, nil
}

// Update merges patch over the stored book. A concurrent writer bumping the
// version makes the write fail; the merge is then retried on fresh state.
func (s *BookService) Update(ctx context.Context, id string, patch BookPatch) (*domain.Book, error) {
	op := "BookService.Update"

	if err := checkID(id); err != nil {
		return nil, ErrMalformedBookID
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		current, err := s.books.GetBook(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get book failed: %w", err)
		}
		if current == nil {
			return nil, ErrBookNotFound
		}

		next := *current
		patch.applyTo(&next)
		next.UpdatedAt = s.now()

		exists, err := s.books.ExistsBook(ctx, next.Key(), id)
		if err != nil {
			return nil, fmt.Errorf("duplicate check failed: %w", err)
		}
		if exists {
			return nil, ErrBookKeyTaken
		}

		err = s.books.UpdateBook(ctx, next)
		switch {
		case err == nil:
			next.Version++
			return &next, nil
		case errors.Is(err, domain.ErrConflict):
			slog.Warn(
				"optimistic lock conflict, retrying",
				slog.String("op", op),
				slog.String("rqID", reqid.FromCtx(ctx)),
				slog.String("bookID", id),
				slog.Int("attempt", attempt),
			)
			continue
		case errors.Is(err, domain.ErrDuplicate):
			return nil, ErrISBNTaken
		default:
			return nil, fmt.Errorf("update book failed: %w", err)
		}
	}

	return nil, ErrUpdateConflict
}

func (s *BookService) Delete(ctx context.Context, id string) error {
	op := "BookService.Delete"

	if err := checkID(id); err != nil {
		return ErrMalformedBookID
	}

	ok, err := s.books.DeleteBook(ctx, id)
	if errors.Is(err, domain.ErrConflict) {
		return ErrUpdateConflict
	}
	if err != nil {
		return fmt.Errorf("delete book failed: %w", err)
	}
	if !ok {
		return ErrInvalidBookID
	}

	slog.Info(
		"book deleted",
		slog.String("op", op),
		slog.String("rqID", reqid.FromCtx(ctx)),
		slog.String("bookID", id),
	)
	return nil
}

func checkID(id string) error {
	_, err := uuid.Parse(id)
	return err
}
