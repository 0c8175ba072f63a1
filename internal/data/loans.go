package data

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Loan is one lending event. A loan starts open (ReturnDate nil) and is
// closed exactly once; closed is terminal and the record is never deleted.
type Loan struct {
	ID         int64      `json:"id"`
	BookID     int64      `json:"book_id"`
	MemberID   int64      `json:"member_id"`
	BorrowDate time.Time  `json:"borrow_date"`
	ReturnDate *time.Time `json:"return_date"`
}

// Open reports whether the loan is still outstanding.
func (l *Loan) Open() bool {
	return l.ReturnDate == nil
}

// LoanDetail is a loan joined with the book and member it references, the
// shape the borrowed-books listings return.
type LoanDetail struct {
	Record Loan   `json:"record"`
	Book   Book   `json:"book"`
	Member Member `json:"member"`
}

type LoanModel struct {
	DB *sql.DB
}

func (m LoanModel) CreateOpenRecord(bookID, memberID int64, borrowDate time.Time) (*Loan, error) {
	query := `
INSERT INTO loans (book_id, member_id, borrow_date)
VALUES ($1, $2, $3)
RETURNING id, book_id, member_id, borrow_date, return_date`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var loan Loan
	err := m.DB.QueryRowContext(ctx, query, bookID, memberID, borrowDate).Scan(
		&loan.ID,
		&loan.BookID,
		&loan.MemberID,
		&loan.BorrowDate,
		&loan.ReturnDate,
	)
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (m LoanModel) Get(id int64) (*Loan, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}
	query := `
SELECT id, book_id, member_id, borrow_date, return_date
FROM loans
WHERE id = $1`
	var loan Loan

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&loan.ID,
		&loan.BookID,
		&loan.MemberID,
		&loan.BorrowDate,
		&loan.ReturnDate,
	)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return &loan, nil
}

// CloseRecord sets the return date, but only on a still-open record. The
// condition lives in the statement itself so a record can never be closed
// twice no matter how calls interleave.
func (m LoanModel) CloseRecord(id int64, returnDate time.Time) (*Loan, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}
	query := `
UPDATE loans
SET return_date = $2
WHERE id = $1 AND return_date IS NULL
RETURNING id, book_id, member_id, borrow_date, return_date`

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var loan Loan
	err := m.DB.QueryRowContext(ctx, query, id, returnDate).Scan(
		&loan.ID,
		&loan.BookID,
		&loan.MemberID,
		&loan.BorrowDate,
		&loan.ReturnDate,
	)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, getErr := m.Get(id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrAlreadyReturned
		default:
			return nil, err
		}
	}
	return &loan, nil
}

func (m LoanModel) GetAllOpen() ([]*LoanDetail, error) {
	query := `
SELECT l.id, l.book_id, l.member_id, l.borrow_date, l.return_date,
       b.id, b.created_at, b.title, b.author, b.isbn, b.total_copies, b.available_copies, b.version,
       m.id, m.created_at, m.name, m.email, m.phone, m.version
FROM loans l
INNER JOIN books b ON b.id = l.book_id
INNER JOIN members m ON m.id = l.member_id
WHERE l.return_date IS NULL
ORDER BY l.borrow_date ASC, l.id ASC`

	return m.queryDetails(query)
}

func (m LoanModel) GetAllOpenForMember(memberID int64) ([]*LoanDetail, error) {
	query := `
SELECT l.id, l.book_id, l.member_id, l.borrow_date, l.return_date,
       b.id, b.created_at, b.title, b.author, b.isbn, b.total_copies, b.available_copies, b.version,
       m.id, m.created_at, m.name, m.email, m.phone, m.version
FROM loans l
INNER JOIN books b ON b.id = l.book_id
INNER JOIN members m ON m.id = l.member_id
WHERE l.return_date IS NULL AND l.member_id = $1
ORDER BY l.borrow_date ASC, l.id ASC`

	return m.queryDetails(query, memberID)
}

func (m LoanModel) queryDetails(query string, args ...interface{}) ([]*LoanDetail, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	details := []*LoanDetail{}
	for rows.Next() {
		var d LoanDetail
		err := rows.Scan(
			&d.Record.ID,
			&d.Record.BookID,
			&d.Record.MemberID,
			&d.Record.BorrowDate,
			&d.Record.ReturnDate,
			&d.Book.ID,
			&d.Book.CreatedAt,
			&d.Book.Title,
			&d.Book.Author,
			&d.Book.ISBN,
			&d.Book.TotalCopies,
			&d.Book.AvailableCopies,
			&d.Book.Version,
			&d.Member.ID,
			&d.Member.CreatedAt,
			&d.Member.Name,
			&d.Member.Email,
			&d.Member.Phone,
			&d.Member.Version,
		)
		if err != nil {
			return nil, err
		}
		details = append(details, &d)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return details, nil
}
