package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rl1809/library-management/internal/core/domain"
	"github.com/rl1809/library-management/internal/core/service"
)

type CreateBookRequest struct {
	Title       string `json:"title" validate:"required,max=100"`
	Author      string `json:"author" validate:"required,max=100"`
	Genre       string `json:"genre" validate:"required,genre"`
	ISBN        string `json:"isbn" validate:"required,min=10,max=13"`
	Description string `json:"description"`
	Copies      *int   `json:"copies" validate:"required,min=0"`
}

func (r *CreateBookRequest) normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Author = strings.TrimSpace(r.Author)
	r.Genre = string(domain.NormalizeGenre(r.Genre))
	r.ISBN = strings.TrimSpace(r.ISBN)
}

func (r CreateBookRequest) toNewBook() service.NewBook {
	return service.NewBook{
		Title:       r.Title,
		Author:      r.Author,
		Genre:       domain.Genre(r.Genre),
		ISBN:        r.ISBN,
		Description: r.Description,
		Copies:      *r.Copies,
	}
}

// UpdateBookRequest carries a partial update; absent fields stay untouched.
type UpdateBookRequest struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=100"`
	Author      *string `json:"author" validate:"omitempty,min=1,max=100"`
	Genre       *string `json:"genre" validate:"omitempty,genre"`
	ISBN        *string `json:"isbn" validate:"omitempty,min=10,max=13"`
	Description *string `json:"description"`
	Copies      *int    `json:"copies" validate:"omitempty,min=0"`
}

func (r *UpdateBookRequest) normalize() {
	trim := func(s *string) {
		if s != nil {
			*s = strings.TrimSpace(*s)
		}
	}
	trim(r.Title)
	trim(r.Author)
	trim(r.ISBN)
	if r.Genre != nil {
		*r.Genre = string(domain.NormalizeGenre(*r.Genre))
	}
}

func (r UpdateBookRequest) toPatch() service.BookPatch {
	patch := service.BookPatch{
		Title:       r.Title,
		Author:      r.Author,
		ISBN:        r.ISBN,
		Description: r.Description,
		Copies:      r.Copies,
	}
	if r.Genre != nil {
		g := domain.Genre(*r.Genre)
		patch.Genre = &g
	}
	return patch
}

type BorrowBookRequest struct {
	Book     string `json:"book" validate:"required"`
	Quantity *int   `json:"quantity" validate:"required,gt=0"`
	DueDate  string `json:"dueDate" validate:"required,duedate"`
}

func (r *BorrowBookRequest) normalize() {
	r.Book = strings.TrimSpace(r.Book)
	r.DueDate = strings.TrimSpace(r.DueDate)
}

func (r BorrowBookRequest) toBorrowRequest() service.BorrowRequest {
	// validated by the duedate rule
	due, _ := domain.ParseDueDate(r.DueDate)
	return service.BorrowRequest{
		BookID:   r.Book,
		Quantity: *r.Quantity,
		DueDate:  due,
	}
}

// fieldMessages maps "<json field>.<rule>" to the message shown to clients.
var fieldMessages = map[string]string{
	"title.required":    "Title is required.",
	"title.min":         "Title is required.",
	"title.max":         "Title cannot exceed 100 characters.",
	"author.required":   "Author is required.",
	"author.min":        "Author is required.",
	"author.max":        "Author name cannot exceed 100 characters.",
	"genre.required":    "Please provide a valid genre.",
	"genre.genre":       "Please provide a valid genre.",
	"isbn.required":     "ISBN is required.",
	"isbn.min":          "ISBN must be at least 10 characters long.",
	"isbn.max":          "ISBN must be at most 13 characters long.",
	"copies.required":   "Number of copies is required.",
	"copies.min":        "Number of copies cannot be negative.",
	"book.required":     "Book ID is required.",
	"quantity.required": "Quantity is required.",
	"quantity.gt":       "Quantity must be a positive number.",
	"dueDate.required":  "Due date is required.",
	"dueDate.duedate":   "Due date must be a valid date.",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterValidation("genre", func(fl validator.FieldLevel) bool {
		return domain.Genre(fl.Field().String()).Valid()
	})
	v.RegisterValidation("duedate", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseDueDate(fl.Field().String())
		return err == nil
	})

	return v
}

// validationErrors flattens validator output into field -> message.
func validationErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"body": err.Error()}
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if _, seen := out[field]; seen {
			continue
		}
		msg, ok := fieldMessages[field+"."+fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("%s is invalid.", field)
		}
		out[field] = msg
	}
	return out
}
