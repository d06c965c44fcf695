package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rl1809/library-management/internal/core/domain"
	"github.com/rl1809/library-management/internal/core/query"
)

const (
	collectionBooks   = "books"
	collectionBorrows = "borrows"
)

// MongoAdapter stores books and borrow records as documents. Book documents
// use the same field names as the query layer, so filters and sorts need no
// mapping.
type MongoAdapter struct {
	db      *mongo.Database
	books   *mongo.Collection
	borrows *mongo.Collection
	now     func() time.Time
}

func NewMongoAdapter(db *mongo.Database) *MongoAdapter {
	return &MongoAdapter{
		db:      db,
		books:   db.Collection(collectionBooks),
		borrows: db.Collection(collectionBorrows),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIndexes creates the unique ISBN index and the lookup indexes. It is
// idempotent.
func (m *MongoAdapter) EnsureIndexes(ctx context.Context) error {
	_, err := m.books.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: domain.FieldISBN, Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: domain.FieldTitle, Value: 1},
				{Key: domain.FieldAuthor, Value: 1},
				{Key: domain.FieldGenre, Value: 1},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create book indexes: %w", err)
	}

	_, err = m.borrows.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "book", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create borrow indexes: %w", err)
	}
	return nil
}

func (m *MongoAdapter) CreateBook(ctx context.Context, book domain.Book) error {
	if _, err := m.books.InsertOne(ctx, book); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

func (m *MongoAdapter) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	var book domain.Book
	err := m.books.FindOne(ctx, bson.M{domain.FieldID: id}).Decode(&book)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find book: %w", err)
	}
	return &book, nil
}

func (m *MongoAdapter) FindBooks(ctx context.Context, q query.Query) ([]domain.Book, error) {
	opts := options.Find()
	if len(q.Sort) > 0 {
		sort := make(bson.D, 0, len(q.Sort))
		for _, f := range q.Sort {
			dir := 1
			if f.Desc {
				dir = -1
			}
			sort = append(sort, bson.E{Key: f.Field, Value: dir})
		}
		opts.SetSort(sort)
	}
	if q.Limit > 0 {
		opts.SetSkip(int64(q.Skip)).SetLimit(int64(q.Limit))
	}

	cur, err := m.books.Find(ctx, bookFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("find books: %w", err)
	}

	books := []domain.Book{}
	if err := cur.All(ctx, &books); err != nil {
		return nil, fmt.Errorf("decode books: %w", err)
	}
	return books, nil
}

func (m *MongoAdapter) CountBooks(ctx context.Context, q query.Query) (int64, error) {
	n, err := m.books.CountDocuments(ctx, bookFilter(q))
	if err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return n, nil
}

// bookFilter compiles the search and filters of q into a find filter. Search
// terms are quoted so they match literally.
func bookFilter(q query.Query) bson.M {
	var and bson.A

	for _, c := range q.Filters {
		if c.Never {
			and = append(and, bson.M{domain.FieldID: bson.M{"$in": bson.A{}}})
			continue
		}
		and = append(and, bson.M{c.Field: c.Value})
	}

	if q.Search != nil && len(q.Search.Fields) > 0 {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(q.Search.Term), Options: "i"}
		or := make(bson.A, 0, len(q.Search.Fields))
		for _, f := range q.Search.Fields {
			or = append(or, bson.M{f: re})
		}
		and = append(and, bson.M{"$or": or})
	}

	if len(and) == 0 {
		return bson.M{}
	}
	return bson.M{"$and": and}
}

func (m *MongoAdapter) ExistsBook(ctx context.Context, key domain.BookKey, excludeID string) (bool, error) {
	filter := bson.M{
		domain.FieldTitle:  key.Title,
		domain.FieldAuthor: key.Author,
		domain.FieldGenre:  key.Genre,
	}
	if excludeID != "" {
		filter[domain.FieldID] = bson.M{"$ne": excludeID}
	}

	n, err := m.books.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("exists book: %w", err)
	}
	return n > 0, nil
}

func (m *MongoAdapter) UpdateBook(ctx context.Context, book domain.Book) error {
	next := book
	next.Version++

	res, err := m.books.ReplaceOne(ctx,
		bson.M{domain.FieldID: book.ID, domain.FieldVersion: book.Version},
		next,
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("replace book: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (m *MongoAdapter) DeleteBook(ctx context.Context, id string) (bool, error) {
	res, err := m.books.DeleteOne(ctx, bson.M{domain.FieldID: id})
	if err != nil {
		return false, fmt.Errorf("delete book: %w", err)
	}
	return res.DeletedCount > 0, nil
}

// BorrowCopies decrements copies with a pipeline update guarded by
// copies >= quantity, so the availability flip reads the new count in the
// same atomic write.
func (m *MongoAdapter) BorrowCopies(ctx context.Context, id string, quantity int) (*domain.Book, error) {
	filter := bson.M{
		domain.FieldID:     id,
		domain.FieldCopies: bson.M{"$gte": quantity},
	}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			domain.FieldCopies:    bson.M{"$subtract": bson.A{"$" + domain.FieldCopies, quantity}},
			domain.FieldVersion:   bson.M{"$add": bson.A{"$" + domain.FieldVersion, 1}},
			domain.FieldUpdatedAt: m.now(),
		}}},
		{{Key: "$set", Value: bson.M{
			domain.FieldAvailable: bson.M{"$gt": bson.A{"$" + domain.FieldCopies, 0}},
		}}},
	}

	var book domain.Book
	err := m.books.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&book)
	if err == nil {
		return &book, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("borrow copies: %w", err)
	}

	n, err := m.books.CountDocuments(ctx, bson.M{domain.FieldID: id})
	if err != nil {
		return nil, fmt.Errorf("check book: %w", err)
	}
	if n == 0 {
		return nil, domain.ErrNotFound
	}
	return nil, domain.ErrInsufficientCopies
}

func (m *MongoAdapter) ReturnCopies(ctx context.Context, id string, quantity int) error {
	res, err := m.books.UpdateOne(ctx,
		bson.M{domain.FieldID: id},
		bson.M{
			"$inc": bson.M{domain.FieldCopies: quantity, domain.FieldVersion: 1},
			"$set": bson.M{domain.FieldAvailable: true, domain.FieldUpdatedAt: m.now()},
		},
	)
	if err != nil {
		return fmt.Errorf("return copies: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (m *MongoAdapter) CreateBorrow(ctx context.Context, record domain.BorrowRecord) error {
	if _, err := m.borrows.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("insert borrow: %w", err)
	}
	return nil
}

// SummarizeBorrows groups records per book and joins the book document; the
// unwind drops groups whose book was deleted.
func (m *MongoAdapter) SummarizeBorrows(ctx context.Context) ([]domain.BorrowSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":           "$book",
			"totalQuantity": bson.M{"$sum": "$quantity"},
		}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         collectionBooks,
			"localField":   "_id",
			"foreignField": domain.FieldID,
			"as":           "book",
		}}},
		{{Key: "$unwind", Value: "$book"}},
		{{Key: "$sort", Value: bson.D{{Key: "book.title", Value: 1}}}},
		{{Key: "$project", Value: bson.M{
			"_id":           0,
			"book":          bson.M{"title": "$book.title", "isbn": "$book.isbn"},
			"totalQuantity": 1,
		}}},
	}

	cur, err := m.borrows.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate borrows: %w", err)
	}

	rows := []domain.BorrowSummary{}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return rows, nil
}

func (m *MongoAdapter) Ping(ctx context.Context) error {
	return m.db.Client().Ping(ctx, nil)
}

func (m *MongoAdapter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.db.Client().Disconnect(ctx)
}
