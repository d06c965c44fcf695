package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/library-management/internal/adapter/storage"
	"github.com/rl1809/library-management/internal/core/service"
)

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    any               `json:"data"`
	Meta    map[string]any    `json:"meta"`
	Errors  map[string]string `json:"errors"`
}

func newTestServer() http.Handler {
	store := storage.NewMemoryAdapter()
	return NewHTTPHandler(
		service.NewBookService(store),
		service.NewBorrowService(store, store),
	).Routes()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec, env
}

const hobbitJSON = `{
	"title": "  The Hobbit ",
	"author": "J.R.R. Tolkien",
	"genre": "fantasy",
	"isbn": "9780547928227",
	"copies": 5,
	"available": false
}`

func createHobbit(t *testing.T, h http.Handler) string {
	t.Helper()
	rec, env := do(t, h, http.MethodPost, "/api/books", hobbitJSON)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	return env.Data.(map[string]any)["_id"].(string)
}

func TestRoot(t *testing.T) {
	rec, env := do(t, newTestServer(), http.MethodGet, "/", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "Library Management server is running", env.Message)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestUnknownRoute(t *testing.T) {
	rec, env := do(t, newTestServer(), http.MethodGet, "/api/authors?x=1", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "Route /api/authors?x=1 not found", env.Message)
}

func TestRequestIDIsEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	newTestServer().ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestCreateBook(t *testing.T) {
	h := newTestServer()

	rec, env := do(t, h, http.MethodPost, "/api/books", hobbitJSON)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Book created successfully", env.Message)

	book := env.Data.(map[string]any)
	assert.Equal(t, "The Hobbit", book["title"])
	assert.Equal(t, "FANTASY", book["genre"])
	assert.Equal(t, float64(5), book["copies"])
	assert.Equal(t, true, book["available"], "availability is derived from copies")
	assert.Equal(t, "", book["description"])
	assert.NotContains(t, book, "version")

	// same title, author and genre
	rec, env = do(t, h, http.MethodPost, "/api/books", strings.Replace(hobbitJSON, "9780547928227", "9780261103344", 1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Book already exists", env.Message)

	// same isbn
	rec, env = do(t, h, http.MethodPost, "/api/books", strings.Replace(hobbitJSON, "The Hobbit", "The Hobbit II", 1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ISBN must be unique.", env.Message)
}

func TestCreateBook_Validation(t *testing.T) {
	h := newTestServer()

	tests := []struct {
		name   string
		body   string
		errors map[string]string
	}{
		{
			name: "missing fields",
			body: `{}`,
			errors: map[string]string{
				"title":  "Title is required.",
				"author": "Author is required.",
				"genre":  "Please provide a valid genre.",
				"isbn":   "ISBN is required.",
				"copies": "Number of copies is required.",
			},
		},
		{
			name: "bad values",
			body: `{"title":"   ","author":"A","genre":"POETRY","isbn":"123","copies":-1}`,
			errors: map[string]string{
				"title":  "Title is required.",
				"genre":  "Please provide a valid genre.",
				"isbn":   "ISBN must be at least 10 characters long.",
				"copies": "Number of copies cannot be negative.",
			},
		},
		{
			name: "too long",
			body: `{"title":"` + strings.Repeat("t", 101) + `","author":"A","genre":"SCIENCE","isbn":"12345678901234","copies":1}`,
			errors: map[string]string{
				"title": "Title cannot exceed 100 characters.",
				"isbn":  "ISBN must be at most 13 characters long.",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, h, http.MethodPost, "/api/books", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "Validation failed", env.Message)
			assert.Equal(t, tt.errors, env.Errors)
		})
	}

	rec, env := do(t, h, http.MethodPost, "/api/books", `{"copies": 2.5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", env.Message)
}

func TestListBooks(t *testing.T) {
	h := newTestServer()

	rec, env := do(t, h, http.MethodGet, "/api/books", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Books not found!", env.Message)

	createHobbit(t, h)
	_, _ = do(t, h, http.MethodPost, "/api/books",
		`{"title":"Cosmos","author":"Carl Sagan","genre":"SCIENCE","isbn":"9780345539434","copies":0}`)

	rec, env = do(t, h, http.MethodGet, "/api/books?sort=title&size=1&page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Books retrieved successfully", env.Message)
	data := env.Data.([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "The Hobbit", data[0].(map[string]any)["title"])
	assert.Equal(t, map[string]any{
		"page": float64(2), "size": float64(1), "total": float64(2), "totalPage": float64(2),
	}, env.Meta)

	rec, env = do(t, h, http.MethodGet, "/api/books?search=sagan&fields=title", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data = env.Data.([]any)
	require.Len(t, data, 1)
	assert.Len(t, data[0], 2)

	rec, env = do(t, h, http.MethodGet, "/api/books?available=false", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.Data, 1)
	assert.Equal(t, float64(1), env.Meta["total"])
}

func TestGetUpdateDeleteBook(t *testing.T) {
	h := newTestServer()
	id := createHobbit(t, h)

	rec, env := do(t, h, http.MethodGet, "/api/books/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Book retrieved successfully", env.Message)

	rec, env = do(t, h, http.MethodPut, "/api/books/"+id, `{"copies":0,"description":"There and back again"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Book updated successfully", env.Message)
	book := env.Data.(map[string]any)
	assert.Equal(t, float64(0), book["copies"])
	assert.Equal(t, false, book["available"])
	assert.Equal(t, "The Hobbit", book["title"])

	rec, env = do(t, h, http.MethodPut, "/api/books/"+id, `{"isbn":"12"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ISBN must be at least 10 characters long.", env.Errors["isbn"])

	rec, env = do(t, h, http.MethodDelete, "/api/books/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Book deleted successfully", env.Message)
	assert.Contains(t, rec.Body.String(), `"data":null`)

	rec, env = do(t, h, http.MethodDelete, "/api/books/"+id, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid book id", env.Message)

	rec, env = do(t, h, http.MethodGet, "/api/books/"+id, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Book not found!", env.Message)

	rec, env = do(t, h, http.MethodGet, "/api/books/not-an-id", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Resource not found. Invalid: _id", env.Message)
}

func TestBorrowFlow(t *testing.T) {
	h := newTestServer()
	id := createHobbit(t, h)

	rec, env := do(t, h, http.MethodGet, "/api/borrow", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No borrowed book records found", env.Message)

	rec, env = do(t, h, http.MethodPost, "/api/borrow",
		`{"book":"`+id+`","quantity":5,"dueDate":"2025-07-18T00:00:00.000Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	assert.Equal(t, "Book borrowed successfully", env.Message)
	record := env.Data.(map[string]any)
	assert.Equal(t, id, record["book"])
	assert.Equal(t, float64(5), record["quantity"])

	_, env = do(t, h, http.MethodGet, "/api/books/"+id, "")
	book := env.Data.(map[string]any)
	assert.Equal(t, float64(0), book["copies"])
	assert.Equal(t, false, book["available"])

	rec, env = do(t, h, http.MethodPost, "/api/borrow",
		`{"book":"`+id+`","quantity":1,"dueDate":"2025-07-18"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Not enough copies available.", env.Message)

	rec, env = do(t, h, http.MethodGet, "/api/borrow", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Borrowed books summary retrieved successfully", env.Message)
	assert.Equal(t, []any{
		map[string]any{
			"book":          map[string]any{"title": "The Hobbit", "isbn": "9780547928227"},
			"totalQuantity": float64(5),
		},
	}, env.Data)
}

func TestBorrow_Errors(t *testing.T) {
	h := newTestServer()

	rec, env := do(t, h, http.MethodPost, "/api/borrow", `{"quantity":0,"dueDate":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]string{
		"book":     "Book ID is required.",
		"quantity": "Quantity must be a positive number.",
		"dueDate":  "Due date must be a valid date.",
	}, env.Errors)

	rec, env = do(t, h, http.MethodPost, "/api/borrow",
		`{"book":"`+uuid.NewString()+`","quantity":1,"dueDate":"2025-07-18"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Book not found.", env.Message)

	rec, env = do(t, h, http.MethodPost, "/api/borrow", `{"book":"42","quantity":1,"dueDate":"2025-07-18"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Resource not found. Invalid: book", env.Message)
}
