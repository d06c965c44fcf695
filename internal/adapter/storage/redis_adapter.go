package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/library-management/internal/core/domain"
	"github.com/rl1809/library-management/internal/core/query"
)

const (
	bookKeyPrefix = "book:"
	isbnKeyPrefix = "book:isbn:"
	booksSetKey   = "books"
	borrowsKey    = "borrows"

	maxWatchAttempts = 5
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// borrowCopiesScript returns -1 when the book is missing, 0 when there are not
// enough copies, otherwise the book hash after the decrement.
var borrowCopiesScript = redis.NewScript(`
local key = KEYS[1]
local quantity = tonumber(ARGV[1])

if redis.call('EXISTS', key) == 0 then
	return -1
end

local copies = tonumber(redis.call('HGET', key, 'copies'))
if copies < quantity then
	return 0
end

copies = copies - quantity
local available = '0'
if copies > 0 then
	available = '1'
end

redis.call('HSET', key, 'copies', copies, 'available', available, 'updatedAt', ARGV[2])
redis.call('HINCRBY', key, 'version', 1)
return redis.call('HGETALL', key)
`)

var returnCopiesScript = redis.NewScript(`
local key = KEYS[1]

if redis.call('EXISTS', key) == 0 then
	return 0
end

redis.call('HINCRBY', key, 'copies', tonumber(ARGV[1]))
redis.call('HSET', key, 'available', '1', 'updatedAt', ARGV[2])
redis.call('HINCRBY', key, 'version', 1)
return 1
`)

// RedisAdapter keeps each book as a hash, reserves ISBNs with SETNX and
// appends borrow records as JSON to a list.
type RedisAdapter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *RedisAdapter) CreateBook(ctx context.Context, book domain.Book) error {
	ok, err := r.client.SetNX(ctx, isbnKeyPrefix+book.ISBN, book.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("reserve isbn: %w", err)
	}
	if !ok {
		return domain.ErrDuplicate
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, bookKeyPrefix+book.ID, bookHash(book))
		pipe.SAdd(ctx, booksSetKey, book.ID)
		return nil
	})
	if err != nil {
		r.client.Del(ctx, isbnKeyPrefix+book.ISBN)
		return fmt.Errorf("save book: %w", err)
	}
	return nil
}

func (r *RedisAdapter) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	fields, err := r.client.HGetAll(ctx, bookKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	book, err := parseBookHash(fields)
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *RedisAdapter) FindBooks(ctx context.Context, q query.Query) ([]domain.Book, error) {
	books, err := r.allBooks(ctx)
	if err != nil {
		return nil, err
	}
	return query.Apply(q, books, domain.Book.Document), nil
}

func (r *RedisAdapter) CountBooks(ctx context.Context, q query.Query) (int64, error) {
	books, err := r.allBooks(ctx)
	if err != nil {
		return 0, err
	}
	return query.Count(q, books, domain.Book.Document), nil
}

func (r *RedisAdapter) allBooks(ctx context.Context) ([]domain.Book, error) {
	ids, err := r.client.SMembers(ctx, booksSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list book ids: %w", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, bookKeyPrefix+id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load books: %w", err)
	}

	books := make([]domain.Book, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		book, err := parseBookHash(fields)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, nil
}

func (r *RedisAdapter) ExistsBook(ctx context.Context, key domain.BookKey, excludeID string) (bool, error) {
	books, err := r.allBooks(ctx)
	if err != nil {
		return false, err
	}
	for _, b := range books {
		if b.ID != excludeID && b.Key() == key {
			return true, nil
		}
	}
	return false, nil
}

// UpdateBook writes book inside a WATCH transaction on the book hash and both
// ISBN reservations. A version mismatch or a concurrent write aborts with
// ErrConflict.
func (r *RedisAdapter) UpdateBook(ctx context.Context, book domain.Book) error {
	bookKey := bookKeyPrefix + book.ID
	newISBNKey := isbnKeyPrefix + book.ISBN

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, bookKey).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return domain.ErrConflict
		}
		current, err := parseBookHash(fields)
		if err != nil {
			return err
		}
		if current.Version != book.Version {
			return domain.ErrConflict
		}

		owner, err := tx.Get(ctx, newISBNKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if owner != "" && owner != book.ID {
			return domain.ErrDuplicate
		}

		next := book
		next.Version++
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if current.ISBN != book.ISBN {
				pipe.Del(ctx, isbnKeyPrefix+current.ISBN)
				pipe.Set(ctx, newISBNKey, book.ID, 0)
			}
			pipe.HSet(ctx, bookKey, bookHash(next))
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, txf, bookKey, newISBNKey)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrConflict
	}
	if err != nil && !errors.Is(err, domain.ErrConflict) && !errors.Is(err, domain.ErrDuplicate) {
		return fmt.Errorf("update book: %w", err)
	}
	return err
}

// DeleteBook removes the hash, its ISBN reservation and the set entry under a
// WATCH on the hash, so a concurrent ISBN change cannot leave a stale
// reservation behind.
func (r *RedisAdapter) DeleteBook(ctx context.Context, id string) (bool, error) {
	bookKey := bookKeyPrefix + id

	var deleted bool
	txf := func(tx *redis.Tx) error {
		deleted = false

		isbn, err := tx.HGet(ctx, bookKey, "isbn").Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, bookKey)
			pipe.Del(ctx, isbnKeyPrefix+isbn)
			pipe.SRem(ctx, booksSetKey, id)
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}

	for attempt := 0; attempt < maxWatchAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, bookKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("delete book: %w", err)
		}
		return deleted, nil
	}
	return false, domain.ErrConflict
}

func (r *RedisAdapter) BorrowCopies(ctx context.Context, id string, quantity int) (*domain.Book, error) {
	res, err := borrowCopiesScript.Run(ctx, r.client, []string{bookKeyPrefix + id},
		quantity, formatTime(r.now())).Result()
	if err != nil {
		return nil, fmt.Errorf("borrow copies: %w", err)
	}

	switch v := res.(type) {
	case int64:
		if v < 0 {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrInsufficientCopies
	case []any:
		fields := make(map[string]string, len(v)/2)
		for i := 0; i+1 < len(v); i += 2 {
			fields[fmt.Sprint(v[i])] = fmt.Sprint(v[i+1])
		}
		book, err := parseBookHash(fields)
		if err != nil {
			return nil, err
		}
		return &book, nil
	}
	return nil, fmt.Errorf("borrow copies: unexpected script reply %T", res)
}

func (r *RedisAdapter) ReturnCopies(ctx context.Context, id string, quantity int) error {
	ok, err := returnCopiesScript.Run(ctx, r.client, []string{bookKeyPrefix + id},
		quantity, formatTime(r.now())).Int()
	if err != nil {
		return fmt.Errorf("return copies: %w", err)
	}
	if ok == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *RedisAdapter) CreateBorrow(ctx context.Context, record domain.BorrowRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode borrow: %w", err)
	}
	if err := r.client.RPush(ctx, borrowsKey, raw).Err(); err != nil {
		return fmt.Errorf("save borrow: %w", err)
	}
	return nil
}

func (r *RedisAdapter) SummarizeBorrows(ctx context.Context) ([]domain.BorrowSummary, error) {
	raws, err := r.client.LRange(ctx, borrowsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list borrows: %w", err)
	}

	records := make([]domain.BorrowRecord, 0, len(raws))
	for _, raw := range raws {
		var rec domain.BorrowRecord
		if err := json.UnmarshalFromString(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode borrow: %w", err)
		}
		records = append(records, rec)
	}

	books, err := r.allBooks(ctx)
	if err != nil {
		return nil, err
	}
	refs := make(map[string]domain.BookRef, len(books))
	for _, b := range books {
		refs[b.ID] = domain.BookRef{Title: b.Title, ISBN: b.ISBN}
	}

	return summarize(records, func(id string) (domain.BookRef, bool) {
		ref, ok := refs[id]
		return ref, ok
	}), nil
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisAdapter) Close() error {
	return r.client.Close()
}

func bookHash(b domain.Book) map[string]any {
	available := "0"
	if b.Available {
		available = "1"
	}
	return map[string]any{
		"id":          b.ID,
		"title":       b.Title,
		"author":      b.Author,
		"genre":       string(b.Genre),
		"isbn":        b.ISBN,
		"description": b.Description,
		"copies":      b.Copies,
		"available":   available,
		"version":     b.Version,
		"createdAt":   formatTime(b.CreatedAt),
		"updatedAt":   formatTime(b.UpdatedAt),
	}
}

func parseBookHash(f map[string]string) (domain.Book, error) {
	copies, err := strconv.Atoi(f["copies"])
	if err != nil {
		return domain.Book{}, fmt.Errorf("parse copies of book %s: %w", f["id"], err)
	}
	version, err := strconv.Atoi(f["version"])
	if err != nil {
		return domain.Book{}, fmt.Errorf("parse version of book %s: %w", f["id"], err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, f["createdAt"])
	if err != nil {
		return domain.Book{}, fmt.Errorf("parse createdAt of book %s: %w", f["id"], err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, f["updatedAt"])
	if err != nil {
		return domain.Book{}, fmt.Errorf("parse updatedAt of book %s: %w", f["id"], err)
	}

	return domain.Book{
		ID:          f["id"],
		Title:       f["title"],
		Author:      f["author"],
		Genre:       domain.Genre(f["genre"]),
		ISBN:        f["isbn"],
		Description: f["description"],
		Copies:      copies,
		Available:   f["available"] == "1",
		Version:     version,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
