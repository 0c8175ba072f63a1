package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"library/internal/data"
	"library/internal/lending"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApplication(t *testing.T) *application {
	t.Helper()

	var cfg config
	cfg.env = "testing"
	cfg.limiter.enabled = false

	models := data.NewMemoryModels()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &application{
		config:  cfg,
		logger:  logger,
		models:  models,
		lending: lending.New(models, logger),
	}
}

type testServer struct {
	*httptest.Server
}

func newTestServer(t *testing.T, h http.Handler) *testServer {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return &testServer{ts}
}

func (ts *testServer) request(t *testing.T, method, urlPath string, body string) (int, string) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}

	req, err := http.NewRequest(method, ts.URL+urlPath, reader)
	require.NoError(t, err)

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(respBody)
}

func (ts *testServer) createBook(t *testing.T, title string, copies int) int64 {
	t.Helper()

	body := fmt.Sprintf(`{"title": %q, "author": "Test Author", "total_copies": %d}`, title, copies)
	status, resp := ts.request(t, http.MethodPost, "/api/books", body)
	require.Equal(t, http.StatusCreated, status, resp)

	var out struct {
		Book data.Book `json:"book"`
	}
	require.NoError(t, json.UnmarshalFromString(resp, &out))
	return out.Book.ID
}

func (ts *testServer) createMember(t *testing.T, name, email string) int64 {
	t.Helper()

	body := fmt.Sprintf(`{"name": %q, "email": %q}`, name, email)
	status, resp := ts.request(t, http.MethodPost, "/api/members", body)
	require.Equal(t, http.StatusCreated, status, resp)

	var out struct {
		Member data.Member `json:"member"`
	}
	require.NoError(t, json.UnmarshalFromString(resp, &out))
	return out.Member.ID
}

func TestHealthcheck(t *testing.T) {
	app := newTestApplication(t)
	ts := newTestServer(t, app.routes())

	status, body := ts.request(t, http.MethodGet, "/api/healthcheck", "")

	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"available"`)
}

func TestCreateBookValidation(t *testing.T) {
	app := newTestApplication(t)
	ts := newTestServer(t, app.routes())

	testCases := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid", `{"title": "T", "author": "A", "total_copies": 1}`, http.StatusCreated},
		{"missing title", `{"author": "A", "total_copies": 1}`, http.StatusUnprocessableEntity},
		{"negative copies", `{"title": "T", "author": "A", "total_copies": -1}`, http.StatusUnprocessableEntity},
		{"malformed json", `{"title": `, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"unknown key", `{"title": "T", "author": "A", "total_copies": 1, "rating": 5}`, http.StatusBadRequest},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ts.request(t, http.MethodPost, "/api/books", tt.body)
			assert.Equal(t, tt.wantStatus, status, body)
		})
	}
}

func TestBorrowAndReturnFlow(t *testing.T) {
	app := newTestApplication(t)
	ts := newTestServer(t, app.routes())

	bookID := ts.createBook(t, "Lend Me", 1)
	aliceID := ts.createMember(t, "Alice", "alice@example.com")
	bobID := ts.createMember(t, "Bob", "bob@example.com")

	// Alice takes the only copy.
	status, body := ts.request(t, http.MethodPost, "/api/borrow",
		fmt.Sprintf(`{"book_id": %d, "member_id": %d}`, bookID, aliceID))
	require.Equal(t, http.StatusCreated, status, body)

	var out struct {
		Record data.Loan `json:"record"`
	}
	require.NoError(t, json.UnmarshalFromString(body, &out))
	assert.Nil(t, out.Record.ReturnDate)

	// Bob is out of luck.
	status, body = ts.request(t, http.MethodPost, "/api/borrow",
		fmt.Sprintf(`{"book_id": %d, "member_id": %d}`, bookID, bobID))
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body, "no copies")

	// The open loan shows up in the listing, joined with book and member.
	status, body = ts.request(t, http.MethodGet, "/api/borrowed-books", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"Lend Me"`)
	assert.Contains(t, body, `"Alice"`)

	// Deleting the book while the copy is out is refused.
	status, _ = ts.request(t, http.MethodDelete, fmt.Sprintf("/api/books/%d", bookID), "")
	assert.Equal(t, http.StatusConflict, status)

	// Return it.
	status, body = ts.request(t, http.MethodPost, fmt.Sprintf("/api/return/%d", out.Record.ID), "")
	require.Equal(t, http.StatusOK, status, body)

	var returned struct {
		Record data.Loan `json:"record"`
	}
	require.NoError(t, json.UnmarshalFromString(body, &returned))
	assert.NotNil(t, returned.Record.ReturnDate)

	// A second return is a conflict, not a no-op.
	status, body = ts.request(t, http.MethodPost, fmt.Sprintf("/api/return/%d", out.Record.ID), "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body, "already been returned")

	// With the copy back, the delete goes through.
	status, _ = ts.request(t, http.MethodDelete, fmt.Sprintf("/api/books/%d", bookID), "")
	assert.Equal(t, http.StatusNoContent, status)
}

func TestBorrowUnknownIDs(t *testing.T) {
	app := newTestApplication(t)
	ts := newTestServer(t, app.routes())

	memberID := ts.createMember(t, "Alice", "alice@example.com")

	status, _ := ts.request(t, http.MethodPost, "/api/borrow",
		fmt.Sprintf(`{"book_id": 999, "member_id": %d}`, memberID))
	assert.Equal(t, http.StatusNotFound, status)

	bookID := ts.createBook(t, "T", 1)
	status, _ = ts.request(t, http.MethodPost, "/api/borrow",
		fmt.Sprintf(`{"book_id": %d, "member_id": 999}`, bookID))
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = ts.request(t, http.MethodPost, "/api/borrow", `{"book_id": 0, "member_id": 0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestReturnUnknownRecord(t *testing.T) {
	app := newTestApplication(t)
	ts := newTestServer(t, app.routes())

	status, _ := ts.request(t, http.MethodPost, "/api/return/999", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = ts.request(t, http.MethodPost, "/api/return/abc", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMemberBorrowedBooks(t *testing.T) {
	app := newTestApplication(t)
	ts := newTestServer(t, app.routes())

	bookID := ts.createBook(t, "Hers", 1)
	aliceID := ts.createMember(t, "Alice", "alice@example.com")
	bobID := ts.createMember(t, "Bob", "bob@example.com")

	status, _ := ts.request(t, http.MethodPost, "/api/borrow",
		fmt.Sprintf(`{"book_id": %d, "member_id": %d}`, bookID, aliceID))
	require.Equal(t, http.StatusCreated, status)

	status, body := ts.request(t, http.MethodGet, fmt.Sprintf("/api/members/%d/borrowed-books", aliceID), "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"Hers"`)

	status, body = ts.request(t, http.MethodGet, fmt.Sprintf("/api/members/%d/borrowed-books", bobID), "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"borrowed_books": []`)

	status, _ = ts.request(t, http.MethodGet, "/api/members/999/borrowed-books", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestUpdateBookPartial(t *testing.T) {
	app := newTestApplication(t)
	ts := newTestServer(t, app.routes())

	bookID := ts.createBook(t, "Before", 2)

	status, body := ts.request(t, http.MethodPatch, fmt.Sprintf("/api/books/%d", bookID), `{"title": "After"}`)
	require.Equal(t, http.StatusOK, status, body)

	var out struct {
		Book data.Book `json:"book"`
	}
	require.NoError(t, json.UnmarshalFromString(body, &out))
	assert.Equal(t, "After", out.Book.Title)
	assert.Equal(t, "Test Author", out.Book.Author)
	assert.Equal(t, 2, out.Book.TotalCopies)
}

func TestShrinkTotalCopiesBelowOpenLoans(t *testing.T) {
	app := newTestApplication(t)
	ts := newTestServer(t, app.routes())

	bookID := ts.createBook(t, "Shrink", 1)
	memberID := ts.createMember(t, "Alice", "alice@example.com")

	status, _ := ts.request(t, http.MethodPost, "/api/borrow",
		fmt.Sprintf(`{"book_id": %d, "member_id": %d}`, bookID, memberID))
	require.Equal(t, http.StatusCreated, status)

	status, body := ts.request(t, http.MethodPut, fmt.Sprintf("/api/books/%d", bookID), `{"total_copies": 0}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body, "on loan")
}

func TestDeleteMemberGuard(t *testing.T) {
	app := newTestApplication(t)
	ts := newTestServer(t, app.routes())

	bookID := ts.createBook(t, "Guard", 1)
	memberID := ts.createMember(t, "Alice", "alice@example.com")

	status, body := ts.request(t, http.MethodPost, "/api/borrow",
		fmt.Sprintf(`{"book_id": %d, "member_id": %d}`, bookID, memberID))
	require.Equal(t, http.StatusCreated, status)

	status, _ = ts.request(t, http.MethodDelete, fmt.Sprintf("/api/members/%d", memberID), "")
	assert.Equal(t, http.StatusConflict, status)

	var out struct {
		Record data.Loan `json:"record"`
	}
	require.NoError(t, json.UnmarshalFromString(body, &out))
	status, _ = ts.request(t, http.MethodPost, fmt.Sprintf("/api/return/%d", out.Record.ID), "")
	require.Equal(t, http.StatusOK, status)

	status, _ = ts.request(t, http.MethodDelete, fmt.Sprintf("/api/members/%d", memberID), "")
	assert.Equal(t, http.StatusNoContent, status)
}

func TestDuplicateMemberEmail(t *testing.T) {
	app := newTestApplication(t)
	ts := newTestServer(t, app.routes())

	ts.createMember(t, "Alice", "alice@example.com")

	status, body := ts.request(t, http.MethodPost, "/api/members", `{"name": "Clone", "email": "alice@example.com"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, body, "already exists")
}
