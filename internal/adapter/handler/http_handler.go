package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/rl1809/library-management/internal/core/service"
)

const maxBodyBytes = 10 << 20

type HTTPHandler struct {
	books    *service.BookService
	borrows  *service.BorrowService
	validate *validator.Validate
}

func NewHTTPHandler(books *service.BookService, borrows *service.BorrowService) *HTTPHandler {
	return &HTTPHandler{
		books:    books,
		borrows:  borrows,
		validate: newValidator(),
	}
}

// Routes returns the full HTTP surface wrapped in the request middleware.
func (h *HTTPHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("POST /api/books", h.CreateBook)
	mux.HandleFunc("GET /api/books", h.ListBooks)
	mux.HandleFunc("GET /api/books/{bookId}", h.GetBook)
	mux.HandleFunc("PUT /api/books/{bookId}", h.UpdateBook)
	mux.HandleFunc("DELETE /api/books/{bookId}", h.DeleteBook)
	mux.HandleFunc("POST /api/borrow", h.BorrowBook)
	mux.HandleFunc("GET /api/borrow", h.BorrowSummary)
	mux.HandleFunc("/", h.NotFound)

	return requestID(logRequests(recoverPanics(mux)))
}

func (h *HTTPHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{
		Success: true,
		Message: "Library Management server is running",
	})
}

func (h *HTTPHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, MessageResponse{
		Success: false,
		Message: fmt.Sprintf("Route %s not found", r.URL.RequestURI()),
	})
}

func (h *HTTPHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if !h.bind(w, r, &req, req.normalize) {
		return
	}

	book, err := h.books.Create(r.Context(), req.toNewBook())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, http.StatusCreated, "Book created successfully", bookView(book))
}

func (h *HTTPHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	docs, meta, err := h.books.List(r.Context(), r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, DataResponse{
		Success: true,
		Message: "Books retrieved successfully",
		Data:    docs,
		Meta:    &meta,
	})
}

func (h *HTTPHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.books.Get(r.Context(), r.PathValue("bookId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, "Book retrieved successfully", bookView(book))
}

func (h *HTTPHandler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	var req UpdateBookRequest
	if !h.bind(w, r, &req, req.normalize) {
		return
	}

	book, err := h.books.Update(r.Context(), r.PathValue("bookId"), req.toPatch())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, "Book updated successfully", bookView(book))
}

func (h *HTTPHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := h.books.Delete(r.Context(), r.PathValue("bookId")); err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, "Book deleted successfully", nil)
}

func (h *HTTPHandler) BorrowBook(w http.ResponseWriter, r *http.Request) {
	var req BorrowBookRequest
	if !h.bind(w, r, &req, req.normalize) {
		return
	}

	record, err := h.borrows.Borrow(r.Context(), req.toBorrowRequest())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, "Book borrowed successfully", record)
}

func (h *HTTPHandler) BorrowSummary(w http.ResponseWriter, r *http.Request) {
	rows, err := h.borrows.Summary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, "Borrowed books summary retrieved successfully", rows)
}

// bind decodes the size-limited JSON body into dst, normalizes and validates
// it. It writes the 4xx response itself and reports false on failure.
func (h *HTTPHandler) bind(w http.ResponseWriter, r *http.Request, dst any, normalize func()) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, MessageResponse{
				Success: false,
				Message: "Request body too large",
			})
			return false
		}
		writeJSON(w, http.StatusBadRequest, MessageResponse{
			Success: false,
			Message: "Invalid request body",
		})
		return false
	}

	normalize()

	if err := h.validate.StructCtx(r.Context(), dst); err != nil {
		writeValidation(w, validationErrors(err))
		return false
	}
	return true
}
