package service

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/library-management/internal/adapter/storage"
	"github.com/rl1809/library-management/internal/core/domain"
)

func newHobbit() NewBook {
	return NewBook{
		Title:  "The Hobbit",
		Author: "J.R.R. Tolkien",
		Genre:  domain.GenreFantasy,
		ISBN:   "9780547928227",
		Copies: 5,
	}
}

func ptr[T any](v T) *T { return &v }

func TestCreateBook(t *testing.T) {
	svc := NewBookService(storage.NewMemoryAdapter())

	book, err := svc.Create(context.Background(), newHobbit())
	require.NoError(t, err)

	_, err = uuid.Parse(book.ID)
	assert.NoError(t, err)
	assert.Equal(t, 5, book.Copies)
	assert.True(t, book.Available)
	assert.Equal(t, "", book.Description)
	assert.False(t, book.CreatedAt.IsZero())
}

func TestCreateBook_ZeroCopiesIsUnavailable(t *testing.T) {
	svc := NewBookService(storage.NewMemoryAdapter())

	in := newHobbit()
	in.Copies = 0
	book, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, book.Available)
}

func TestCreateBook_Duplicates(t *testing.T) {
	svc := NewBookService(storage.NewMemoryAdapter())
	ctx := context.Background()

	_, err := svc.Create(ctx, newHobbit())
	require.NoError(t, err)

	// same title, author and genre
	sameKey := newHobbit()
	sameKey.ISBN = "9780261103344"
	_, err = svc.Create(ctx, sameKey)
	assert.ErrorIs(t, err, ErrBookExists)
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	// same ISBN
	sameISBN := newHobbit()
	sameISBN.Title = "The Hobbit, Annotated"
	_, err = svc.Create(ctx, sameISBN)
	assert.ErrorIs(t, err, ErrISBNTaken)

	// same triple with a different genre is allowed
	otherGenre := newHobbit()
	otherGenre.Genre = domain.GenreFiction
	otherGenre.ISBN = "9780261102217"
	_, err = svc.Create(ctx, otherGenre)
	assert.NoError(t, err)
}

func TestGetBook(t *testing.T) {
	svc := NewBookService(storage.NewMemoryAdapter())
	ctx := context.Background()

	created, err := svc.Create(ctx, newHobbit())
	require.NoError(t, err)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Title, got.Title)

	_, err = svc.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrBookNotFound)

	_, err = svc.Get(ctx, "123")
	assert.ErrorIs(t, err, ErrMalformedBookID)
}

func TestListBooks(t *testing.T) {
	svc := NewBookService(storage.NewMemoryAdapter())
	ctx := context.Background()

	_, _, err := svc.List(ctx, url.Values{})
	assert.ErrorIs(t, err, ErrBooksNotFound)

	titles := []string{"Dune", "Emma", "Dracula"}
	for i, title := range titles {
		in := newHobbit()
		in.Title = title
		in.ISBN = "978000000000" + string(rune('0'+i))
		_, err := svc.Create(ctx, in)
		require.NoError(t, err)
	}

	docs, meta, err := svc.List(ctx, url.Values{"sort": {"title"}, "size": {"2"}})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Dracula", docs[0]["title"])
	assert.Equal(t, "Dune", docs[1]["title"])
	assert.NotContains(t, docs[0], "version")
	assert.Equal(t, int64(3), meta.Total)
	assert.Equal(t, 2, meta.TotalPage)

	docs, _, err = svc.List(ctx, url.Values{"search": {"emm"}, "fields": {"title"}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Len(t, docs[0], 2)
	assert.Contains(t, docs[0], "_id")

	_, _, err = svc.List(ctx, url.Values{"genre": {"HISTORY"}})
	assert.ErrorIs(t, err, ErrBooksNotFound)
}

func TestUpdateBook(t *testing.T) {
	svc := NewBookService(storage.NewMemoryAdapter())
	ctx := context.Background()

	created, err := svc.Create(ctx, newHobbit())
	require.NoError(t, err)

	updated, err := svc.Update(ctx, created.ID, BookPatch{Copies: ptr(0), Description: ptr("There and back again")})
	require.NoError(t, err)
	assert.Equal(t, 0, updated.Copies)
	assert.False(t, updated.Available)
	assert.Equal(t, "There and back again", updated.Description)
	assert.Equal(t, created.Title, updated.Title)
	assert.Equal(t, created.Version+1, updated.Version)

	updated, err = svc.Update(ctx, created.ID, BookPatch{Copies: ptr(2)})
	require.NoError(t, err)
	assert.True(t, updated.Available)

	// updating a book with its own values is not a duplicate
	_, err = svc.Update(ctx, created.ID, BookPatch{Title: ptr(created.Title)})
	assert.NoError(t, err)
}

func TestUpdateBook_Duplicates(t *testing.T) {
	svc := NewBookService(storage.NewMemoryAdapter())
	ctx := context.Background()

	first, err := svc.Create(ctx, newHobbit())
	require.NoError(t, err)

	in := newHobbit()
	in.Title = "The Silmarillion"
	in.ISBN = "9780544338012"
	second, err := svc.Create(ctx, in)
	require.NoError(t, err)

	_, err = svc.Update(ctx, second.ID, BookPatch{Title: ptr(first.Title)})
	assert.ErrorIs(t, err, ErrBookKeyTaken)

	_, err = svc.Update(ctx, second.ID, BookPatch{ISBN: ptr(first.ISBN)})
	assert.ErrorIs(t, err, ErrISBNTaken)
}

func TestUpdateBook_NotFound(t *testing.T) {
	svc := NewBookService(storage.NewMemoryAdapter())

	_, err := svc.Update(context.Background(), uuid.NewString(), BookPatch{Copies: ptr(1)})
	assert.ErrorIs(t, err, ErrBookNotFound)

	_, err = svc.Update(context.Background(), "nope", BookPatch{Copies: ptr(1)})
	assert.ErrorIs(t, err, ErrMalformedBookID)
}

// conflictingRepo fails the first n updates with a version conflict.
type conflictingRepo struct {
	*storage.MemoryAdapter
	conflicts atomic.Int32
	attempts  atomic.Int32
}

func (r *conflictingRepo) UpdateBook(ctx context.Context, book domain.Book) error {
	r.attempts.Add(1)
	if r.conflicts.Add(-1) >= 0 {
		return domain.ErrConflict
	}
	return r.MemoryAdapter.UpdateBook(ctx, book)
}

func TestUpdateBook_RetriesOnConflict(t *testing.T) {
	repo := &conflictingRepo{MemoryAdapter: storage.NewMemoryAdapter()}
	svc := NewBookService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, newHobbit())
	require.NoError(t, err)

	repo.conflicts.Store(2)
	updated, err := svc.Update(ctx, created.ID, BookPatch{Copies: ptr(9)})
	require.NoError(t, err)
	assert.Equal(t, 9, updated.Copies)
	assert.Equal(t, int32(3), repo.attempts.Load())
}

func TestUpdateBook_GivesUpAfterRetries(t *testing.T) {
	repo := &conflictingRepo{MemoryAdapter: storage.NewMemoryAdapter()}
	svc := NewBookService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, newHobbit())
	require.NoError(t, err)

	repo.conflicts.Store(maxUpdateAttempts)
	_, err = svc.Update(ctx, created.ID, BookPatch{Copies: ptr(9)})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, int32(maxUpdateAttempts), repo.attempts.Load())
}

func TestDeleteBook(t *testing.T) {
	svc := NewBookService(storage.NewMemoryAdapter())
	ctx := context.Background()

	created, err := svc.Create(ctx, newHobbit())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, created.ID))

	err = svc.Delete(ctx, created.ID)
	assert.ErrorIs(t, err, ErrInvalidBookID)

	var domainErr *domain.Error
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, "Invalid book id", domainErr.Message)

	assert.ErrorIs(t, svc.Delete(ctx, "xyz"), ErrMalformedBookID)
}
