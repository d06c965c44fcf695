package domain

import (
	"strings"
	"time"

	"github.com/rl1809/library-management/internal/core/query"
)

type Genre string

const (
	GenreFiction    Genre = "FICTION"
	GenreNonFiction Genre = "NON_FICTION"
	GenreScience    Genre = "SCIENCE"
	GenreHistory    Genre = "HISTORY"
	GenreBiography  Genre = "BIOGRAPHY"
	GenreFantasy    Genre = "FANTASY"
)

var Genres = []Genre{
	GenreFiction,
	GenreNonFiction,
	GenreScience,
	GenreHistory,
	GenreBiography,
	GenreFantasy,
}

func (g Genre) Valid() bool {
	for _, known := range Genres {
		if g == known {
			return true
		}
	}
	return false
}

// NormalizeGenre upper-cases and trims raw client input.
func NormalizeGenre(raw string) Genre {
	return Genre(strings.ToUpper(strings.TrimSpace(raw)))
}

type Book struct {
	ID          string    `json:"_id" db:"id" bson:"_id"`
	Title       string    `json:"title" db:"title" bson:"title"`
	Author      string    `json:"author" db:"author" bson:"author"`
	Genre       Genre     `json:"genre" db:"genre" bson:"genre"`
	ISBN        string    `json:"isbn" db:"isbn" bson:"isbn"`
	Description string    `json:"description" db:"description" bson:"description"`
	Copies      int       `json:"copies" db:"copies" bson:"copies"`
	Available   bool      `json:"available" db:"available" bson:"available"`
	Version     int       `json:"version" db:"version" bson:"version"` // optimistic locking
	CreatedAt   time.Time `json:"createdAt" db:"created_at" bson:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at" bson:"updatedAt"`
}

// BookKey is the (title, author, genre) triple that must be unique across books.
type BookKey struct {
	Title  string
	Author string
	Genre  Genre
}

func (b Book) Key() BookKey {
	return BookKey{Title: b.Title, Author: b.Author, Genre: b.Genre}
}

// SetCopies replaces the copy count and re-derives availability.
func (b *Book) SetCopies(copies int) {
	b.Copies = copies
	b.Available = copies > 0
}

// Borrow applies the available -> (available | unavailable) transition for a
// loan of quantity copies. The book is left untouched when it fails.
func (b *Book) Borrow(quantity int) error {
	if quantity <= 0 {
		return NewError(ErrValidation, "Quantity must be a positive number.")
	}
	if quantity > b.Copies {
		return ErrInsufficientCopies
	}
	b.SetCopies(b.Copies - quantity)
	return nil
}

// Return puts quantity copies back on the shelf.
func (b *Book) Return(quantity int) {
	b.SetCopies(b.Copies + quantity)
}

// Document is the field-name keyed view of a book used for in-process query
// evaluation and response projection.
func (b Book) Document() map[string]any {
	return map[string]any{
		FieldID:          b.ID,
		FieldTitle:       b.Title,
		FieldAuthor:      b.Author,
		FieldGenre:       string(b.Genre),
		FieldISBN:        b.ISBN,
		FieldDescription: b.Description,
		FieldCopies:      b.Copies,
		FieldAvailable:   b.Available,
		FieldVersion:     b.Version,
		FieldCreatedAt:   b.CreatedAt,
		FieldUpdatedAt:   b.UpdatedAt,
	}
}

const (
	FieldID          = query.IDField
	FieldTitle       = "title"
	FieldAuthor      = "author"
	FieldGenre       = "genre"
	FieldISBN        = "isbn"
	FieldDescription = "description"
	FieldCopies      = "copies"
	FieldAvailable   = "available"
	FieldVersion     = query.VersionField
	FieldCreatedAt   = "createdAt"
	FieldUpdatedAt   = "updatedAt"
)

// BookSchema types every queryable book field.
var BookSchema = query.Schema{
	FieldID:          query.String,
	FieldTitle:       query.String,
	FieldAuthor:      query.String,
	FieldGenre:       query.String,
	FieldISBN:        query.String,
	FieldDescription: query.String,
	FieldCopies:      query.Int,
	FieldAvailable:   query.Bool,
	FieldVersion:     query.Int,
	FieldCreatedAt:   query.Time,
	FieldUpdatedAt:   query.Time,
}

// SearchableBookFields are matched by the free-text search parameter.
var SearchableBookFields = []string{FieldTitle, FieldAuthor, FieldGenre, FieldISBN, FieldDescription}
