package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"library/internal/validator"
	"strings"
	"time"
)

type Book struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"-"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	ISBN      *string   `json:"isbn,omitempty"`
	// TotalCopies is set by catalog edits; AvailableCopies is derived state
	// maintained by the lending core and reconciled on updates.
	TotalCopies     int   `json:"total_copies"`
	AvailableCopies int   `json:"available_copies"`
	Version         int32 `json:"version"`
}

func ValidateBook(v *validator.Validator, book *Book) {
	v.Check(book.Title != "", "title", "must be provided")
	v.Check(len(book.Title) <= 500, "title", "must not be more than 500 bytes long")
	v.Check(book.Author != "", "author", "must be provided")
	v.Check(len(book.Author) <= 500, "author", "must not be more than 500 bytes long")
	if book.ISBN != nil {
		v.Check(*book.ISBN != "", "isbn", "must not be empty when provided")
		v.Check(len(*book.ISBN) <= 20, "isbn", "must not be more than 20 bytes long")
	}
	v.Check(book.TotalCopies >= 0, "total_copies", "must not be negative")
	v.Check(book.TotalCopies <= 10_000, "total_copies", "must be a maximum of 10,000")
}

type BookModel struct {
	DB *sql.DB
}

func (m BookModel) Insert(book *Book) error {
	query := `
INSERT INTO books (title, author, isbn, total_copies, available_copies)
VALUES ($1, $2, $3, $4, $4)
RETURNING id, created_at, available_copies, version`
	args := []interface{}{book.Title, book.Author, book.ISBN, book.TotalCopies}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := m.DB.QueryRowContext(ctx, query, args...).Scan(&book.ID, &book.CreatedAt, &book.AvailableCopies, &book.Version)
	if err != nil {
		switch {
		case strings.Contains(err.Error(), `violates unique constraint "books_isbn_key"`):
			return ErrDuplicateISBN
		default:
			return err
		}
	}
	return nil
}

func (m BookModel) Get(id int64) (*Book, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}
	query := `
SELECT id, created_at, title, author, isbn, total_copies, available_copies, version
FROM books
WHERE id = $1`
	var book Book

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&book.ID,
		&book.CreatedAt,
		&book.Title,
		&book.Author,
		&book.ISBN,
		&book.TotalCopies,
		&book.AvailableCopies,
		&book.Version,
	)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return &book, nil
}

func (m BookModel) GetAll(title string, filters Filters) ([]*Book, Metadata, error) {
	query := fmt.Sprintf(`
SELECT count(*) OVER(), id, created_at, title, author, isbn, total_copies, available_copies, version
FROM books
WHERE (to_tsvector('simple', title) @@ plainto_tsquery('simple', $1) OR $1 = '')
ORDER BY %s %s, id ASC
LIMIT $2 OFFSET $3`, filters.sortColumn(), filters.sortDirection())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	args := []interface{}{title, filters.limit(), filters.offset()}
	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Metadata{}, err
	}
	defer rows.Close()

	totalRecords := 0
	books := []*Book{}
	for rows.Next() {
		var book Book
		err := rows.Scan(
			&totalRecords,
			&book.ID,
			&book.CreatedAt,
			&book.Title,
			&book.Author,
			&book.ISBN,
			&book.TotalCopies,
			&book.AvailableCopies,
			&book.Version,
		)
		if err != nil {
			return nil, Metadata{}, err
		}
		books = append(books, &book)
	}
	if err = rows.Err(); err != nil {
		return nil, Metadata{}, err
	}

	metadata := calculateMetadata(totalRecords, filters.Page, filters.PageSize)

	return books, metadata, nil
}

// Update applies a catalog edit under the optimistic version check. When
// total_copies changes, available_copies is reconciled in the same statement
// against the number of open loans in the ledger; the table check constraint
// rejects a total below the outstanding loans.
func (m BookModel) Update(book *Book) error {
	query := `
UPDATE books
SET title = $1, author = $2, isbn = $3, total_copies = $4,
    available_copies = $4 - (SELECT count(*) FROM loans WHERE loans.book_id = books.id AND loans.return_date IS NULL),
    version = version + 1
WHERE id = $5 AND version = $6
RETURNING available_copies, version`
	args := []interface{}{
		book.Title,
		book.Author,
		book.ISBN,
		book.TotalCopies,
		book.ID,
		book.Version,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := m.DB.QueryRowContext(ctx, query, args...).Scan(&book.AvailableCopies, &book.Version)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrEditConflict
		case strings.Contains(err.Error(), `violates check constraint "books_available_copies_check"`):
			return ErrOpenLoans
		case strings.Contains(err.Error(), `violates unique constraint "books_isbn_key"`):
			return ErrDuplicateISBN
		default:
			return err
		}
	}
	return nil
}

// Delete removes a book, refusing while open loans reference it. The guard
// and the delete run as one statement so no window exists between them.
// Closed loans are retained; the ledger has no foreign keys on purpose.
func (m BookModel) Delete(id int64) error {
	if id < 1 {
		return ErrRecordNotFound
	}
	query := `
DELETE FROM books
WHERE id = $1
AND NOT EXISTS (SELECT 1 FROM loans WHERE book_id = $1 AND return_date IS NULL)`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result, err := m.DB.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		if _, err := m.Get(id); err != nil {
			return err
		}
		return ErrOpenLoans
	}
	return nil
}

// DecrementAvailable takes one copy out of circulation. The availability
// check and the decrement are a single conditional update, so two callers
// racing over the last copy cannot both succeed.
func (m BookModel) DecrementAvailable(id int64) (*Book, error) {
	query := `
UPDATE books
SET available_copies = available_copies - 1, version = version + 1
WHERE id = $1 AND available_copies > 0
RETURNING id, created_at, title, author, isbn, total_copies, available_copies, version`

	book, err := m.conditionalUpdate(query, id)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, getErr := m.Get(id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrNoCopiesAvailable
		default:
			return nil, err
		}
	}
	return book, nil
}

// IncrementAvailable puts one copy back. It never pushes available_copies
// past total_copies: hitting that ceiling on an existing book means the
// catalog and ledger have desynchronized, which is surfaced, not clamped.
func (m BookModel) IncrementAvailable(id int64) (*Book, error) {
	query := `
UPDATE books
SET available_copies = available_copies + 1, version = version + 1
WHERE id = $1 AND available_copies < total_copies
RETURNING id, created_at, title, author, isbn, total_copies, available_copies, version`

	book, err := m.conditionalUpdate(query, id)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, getErr := m.Get(id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrInconsistentCounts
		default:
			return nil, err
		}
	}
	return book, nil
}

func (m BookModel) conditionalUpdate(query string, id int64) (*Book, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}
	var book Book

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&book.ID,
		&book.CreatedAt,
		&book.Title,
		&book.Author,
		&book.ISBN,
		&book.TotalCopies,
		&book.AvailableCopies,
		&book.Version,
	)
	if err != nil {
		return nil, err
	}
	return &book, nil
}
