package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"    // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/rl1809/library-management/internal/core/domain"
	"github.com/rl1809/library-management/internal/core/query"
)

const (
	tableBooks   = "books"
	tableBorrows = "borrows"

	colID        = "id"
	colTitle     = "title"
	colAuthor    = "author"
	colGenre     = "genre"
	colISBN      = "isbn"
	colDesc      = "description"
	colCopies    = "copies"
	colAvailable = "available"
	colVersion   = "version"
	colCreatedAt = "created_at"
	colUpdatedAt = "updated_at"
)

// bookColumns maps query field names to book columns.
var bookColumns = map[string]string{
	domain.FieldID:          colID,
	domain.FieldTitle:       colTitle,
	domain.FieldAuthor:      colAuthor,
	domain.FieldGenre:       colGenre,
	domain.FieldISBN:        colISBN,
	domain.FieldDescription: colDesc,
	domain.FieldCopies:      colCopies,
	domain.FieldAvailable:   colAvailable,
	domain.FieldVersion:     colVersion,
	domain.FieldCreatedAt:   colCreatedAt,
	domain.FieldUpdatedAt:   colUpdatedAt,
}

var bookSelect = []any{
	colID, colTitle, colAuthor, colGenre, colISBN, colDesc,
	colCopies, colAvailable, colVersion, colCreatedAt, colUpdatedAt,
}

// SQLAdapter stores books and borrow records in a relational database. SQL is
// generated by goqu for the configured dialect and executed through sqlx.
type SQLAdapter struct {
	db       *sqlx.DB
	dialect  Dialect
	builder  goqu.DialectWrapper
	contains string // substring position function: INSTR or STRPOS
	lower    string
	now      func() time.Time
}

func NewSQLAdapter(db *sqlx.DB, dialect Dialect) (*SQLAdapter, error) {
	if !dialect.Valid() {
		return nil, ErrUnknownDialect
	}
	contains, lower := "INSTR", "LOWER"
	switch dialect {
	case DialectPostgres:
		contains = "STRPOS"
	case DialectSQLite:
		lower = sqliteLowerFunc
	}
	return &SQLAdapter{
		db:       db,
		dialect:  dialect,
		builder:  goqu.Dialect(string(dialect)),
		contains: contains,
		lower:    lower,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *SQLAdapter) CreateBook(ctx context.Context, book domain.Book) error {
	stmt, args, err := s.builder.Insert(tableBooks).Prepared(true).Rows(bookRecord(book)).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert book: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

func (s *SQLAdapter) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	return s.getBook(ctx, s.db, id)
}

func (s *SQLAdapter) getBook(ctx context.Context, q sqlx.QueryerContext, id string) (*domain.Book, error) {
	stmt, args, err := s.builder.From(tableBooks).Prepared(true).
		Select(bookSelect...).
		Where(goqu.C(colID).Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select book: %w", err)
	}

	var books []domain.Book
	if err := sqlx.SelectContext(ctx, q, &books, stmt, args...); err != nil {
		return nil, fmt.Errorf("query book: %w", err)
	}
	if len(books) == 0 {
		return nil, nil
	}
	return &books[0], nil
}

func (s *SQLAdapter) FindBooks(ctx context.Context, q query.Query) ([]domain.Book, error) {
	ds := s.builder.From(tableBooks).Prepared(true).
		Select(bookSelect...).
		Where(s.predicate(q)...)

	for _, f := range q.Sort {
		col, ok := bookColumns[f.Field]
		if !ok {
			continue
		}
		if f.Desc {
			ds = ds.OrderAppend(goqu.C(col).Desc())
		} else {
			ds = ds.OrderAppend(goqu.C(col).Asc())
		}
	}
	if q.Limit > 0 {
		ds = ds.Limit(uint(q.Limit)).Offset(uint(q.Skip))
	}

	stmt, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build find books: %w", err)
	}

	books := []domain.Book{}
	if err := s.db.SelectContext(ctx, &books, stmt, args...); err != nil {
		return nil, fmt.Errorf("find books: %w", err)
	}
	return books, nil
}

func (s *SQLAdapter) CountBooks(ctx context.Context, q query.Query) (int64, error) {
	stmt, args, err := s.builder.From(tableBooks).Prepared(true).
		Select(goqu.COUNT(goqu.Star())).
		Where(s.predicate(q)...).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build count books: %w", err)
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, stmt, args...); err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return total, nil
}

// predicate compiles the search and filter part of q. Filters that can never
// match become a false literal so the result set is empty, as for an unknown
// field in a document store.
func (s *SQLAdapter) predicate(q query.Query) []exp.Expression {
	var exprs []exp.Expression

	for _, c := range q.Filters {
		col, ok := bookColumns[c.Field]
		if c.Never || !ok {
			exprs = append(exprs, goqu.L("1 = 0"))
			continue
		}
		exprs = append(exprs, goqu.C(col).Eq(c.Value))
	}

	if q.Search != nil {
		term := strings.ToLower(q.Search.Term)
		var ors []exp.Expression
		for _, f := range q.Search.Fields {
			col, ok := bookColumns[f]
			if !ok {
				continue
			}
			ors = append(ors, goqu.Func(s.contains, goqu.Func(s.lower, goqu.C(col)), term).Gt(0))
		}
		if len(ors) > 0 {
			exprs = append(exprs, goqu.Or(ors...))
		}
	}
	return exprs
}

func (s *SQLAdapter) ExistsBook(ctx context.Context, key domain.BookKey, excludeID string) (bool, error) {
	where := []exp.Expression{
		goqu.C(colTitle).Eq(key.Title),
		goqu.C(colAuthor).Eq(key.Author),
		goqu.C(colGenre).Eq(string(key.Genre)),
	}
	if excludeID != "" {
		where = append(where, goqu.C(colID).Neq(excludeID))
	}

	stmt, args, err := s.builder.From(tableBooks).Prepared(true).
		Select(goqu.COUNT(goqu.Star())).
		Where(where...).
		ToSQL()
	if err != nil {
		return false, fmt.Errorf("build exists book: %w", err)
	}

	var n int64
	if err := s.db.GetContext(ctx, &n, stmt, args...); err != nil {
		return false, fmt.Errorf("exists book: %w", err)
	}
	return n > 0, nil
}

func (s *SQLAdapter) UpdateBook(ctx context.Context, book domain.Book) error {
	record := bookRecord(book)
	delete(record, colID)
	delete(record, colCreatedAt)
	record[colVersion] = goqu.L("? + 1", goqu.C(colVersion))

	stmt, args, err := s.builder.Update(tableBooks).Prepared(true).
		Set(record).
		Where(goqu.C(colID).Eq(book.ID), goqu.C(colVersion).Eq(book.Version)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update book: %w", err)
	}

	result, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("update book: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (s *SQLAdapter) DeleteBook(ctx context.Context, id string) (bool, error) {
	stmt, args, err := s.builder.Delete(tableBooks).Prepared(true).
		Where(goqu.C(colID).Eq(id)).
		ToSQL()
	if err != nil {
		return false, fmt.Errorf("build delete book: %w", err)
	}

	result, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("delete book: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// BorrowCopies decrements copies with a single conditional UPDATE guarded by
// copies >= quantity and reads the new row back in the same transaction.
func (s *SQLAdapter) BorrowCopies(ctx context.Context, id string, quantity int) (*domain.Book, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// goqu emits record columns in sorted order, so available is assigned
	// from the pre-update copies on every dialect (MySQL applies SET left to right).
	stmt, args, err := s.builder.Update(tableBooks).Prepared(true).
		Set(goqu.Record{
			colAvailable: goqu.L("? > ?", goqu.C(colCopies), quantity),
			colCopies:    goqu.L("? - ?", goqu.C(colCopies), quantity),
			colUpdatedAt: s.now(),
			colVersion:   goqu.L("? + 1", goqu.C(colVersion)),
		}).
		Where(goqu.C(colID).Eq(id), goqu.C(colCopies).Gte(quantity)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build borrow copies: %w", err)
	}

	result, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("update copies: %w", err)
	}

	rows, _ := result.RowsAffected()
	book, err := s.getBook(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, domain.ErrNotFound
	}
	if rows == 0 {
		return nil, domain.ErrInsufficientCopies
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return book, nil
}

func (s *SQLAdapter) ReturnCopies(ctx context.Context, id string, quantity int) error {
	stmt, args, err := s.builder.Update(tableBooks).Prepared(true).
		Set(goqu.Record{
			colAvailable: true,
			colCopies:    goqu.L("? + ?", goqu.C(colCopies), quantity),
			colUpdatedAt: s.now(),
			colVersion:   goqu.L("? + 1", goqu.C(colVersion)),
		}).
		Where(goqu.C(colID).Eq(id)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build return copies: %w", err)
	}

	result, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("return copies: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLAdapter) CreateBorrow(ctx context.Context, record domain.BorrowRecord) error {
	stmt, args, err := s.builder.Insert(tableBorrows).Prepared(true).
		Rows(goqu.Record{
			"id":         record.ID,
			"book_id":    record.BookID,
			"quantity":   record.Quantity,
			"due_date":   record.DueDate,
			"created_at": record.CreatedAt,
			"updated_at": record.UpdatedAt,
		}).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build insert borrow: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert borrow: %w", err)
	}
	return nil
}

type summaryRow struct {
	Title         string `db:"title"`
	ISBN          string `db:"isbn"`
	TotalQuantity int    `db:"total_quantity"`
}

// SummarizeBorrows groups borrows per book and inner-joins books, so records
// of deleted books drop out.
func (s *SQLAdapter) SummarizeBorrows(ctx context.Context) ([]domain.BorrowSummary, error) {
	stmt, args, err := s.builder.From(goqu.T(tableBorrows).As("r")).Prepared(true).
		Join(goqu.T(tableBooks).As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("r.book_id")))).
		Select(
			goqu.I("b.title").As("title"),
			goqu.I("b.isbn").As("isbn"),
			goqu.SUM(goqu.I("r.quantity")).As("total_quantity"),
		).
		GroupBy(goqu.I("r.book_id"), goqu.I("b.title"), goqu.I("b.isbn")).
		Order(goqu.I("b.title").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build summarize borrows: %w", err)
	}

	var rows []summaryRow
	if err := s.db.SelectContext(ctx, &rows, stmt, args...); err != nil {
		return nil, fmt.Errorf("summarize borrows: %w", err)
	}

	summary := make([]domain.BorrowSummary, 0, len(rows))
	for _, r := range rows {
		summary = append(summary, domain.BorrowSummary{
			Book:          domain.BookRef{Title: r.Title, ISBN: r.ISBN},
			TotalQuantity: r.TotalQuantity,
		})
	}
	return summary, nil
}

func (s *SQLAdapter) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLAdapter) Close() error {
	return s.db.Close()
}

func bookRecord(b domain.Book) goqu.Record {
	return goqu.Record{
		colID:        b.ID,
		colTitle:     b.Title,
		colAuthor:    b.Author,
		colGenre:     string(b.Genre),
		colISBN:      b.ISBN,
		colDesc:      b.Description,
		colCopies:    b.Copies,
		colAvailable: b.Available,
		colVersion:   b.Version,
		colCreatedAt: b.CreatedAt,
		colUpdatedAt: b.UpdatedAt,
	}
}

func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
