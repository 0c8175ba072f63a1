package data

import (
	"database/sql"
	"errors"
	"time"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrEditConflict   = errors.New("edit conflict")

	// ErrNoCopiesAvailable is returned by DecrementAvailable when every copy
	// of the book is already out on loan.
	ErrNoCopiesAvailable = errors.New("no copies available")

	// ErrAlreadyReturned is returned by CloseRecord when the loan has a
	// return date set. Returning a book twice is a caller bug, never a no-op.
	ErrAlreadyReturned = errors.New("loan already returned")

	// ErrOpenLoans is returned when deleting a book or member that still has
	// outstanding loans, or when shrinking total_copies below them.
	ErrOpenLoans = errors.New("open loans exist")

	ErrDuplicateISBN  = errors.New("duplicate isbn")
	ErrDuplicateEmail = errors.New("duplicate email")

	// ErrInconsistentCounts means the catalog and the ledger disagree, e.g.
	// an increment that would push available_copies past total_copies. It
	// signals corruption and must be surfaced, never swallowed.
	ErrInconsistentCounts = errors.New("catalog and ledger counts disagree")
)

// Catalog owns book records and their copy counts. DecrementAvailable and
// IncrementAvailable are conditional updates: they never leave
// available_copies outside [0, total_copies] regardless of interleaving.
type Catalog interface {
	Insert(book *Book) error
	Get(id int64) (*Book, error)
	GetAll(title string, filters Filters) ([]*Book, Metadata, error)
	Update(book *Book) error
	Delete(id int64) error
	DecrementAvailable(id int64) (*Book, error)
	IncrementAvailable(id int64) (*Book, error)
}

// Directory owns member records. The lending core only reads it; the CRUD
// surface exists for the API.
type Directory interface {
	Insert(member *Member) error
	Get(id int64) (*Member, error)
	GetAll(filters Filters) ([]*Member, Metadata, error)
	Update(member *Member) error
	Delete(id int64) error
}

// Ledger is the append-mostly loan history. Records are created open,
// closed exactly once, and never deleted.
type Ledger interface {
	CreateOpenRecord(bookID, memberID int64, borrowDate time.Time) (*Loan, error)
	Get(id int64) (*Loan, error)
	CloseRecord(id int64, returnDate time.Time) (*Loan, error)
	GetAllOpen() ([]*LoanDetail, error)
	GetAllOpenForMember(memberID int64) ([]*LoanDetail, error)
}

type Models struct {
	Books   Catalog
	Members Directory
	Loans   Ledger
}

func NewModels(db *sql.DB) Models {
	return Models{
		Books:   BookModel{DB: db},
		Members: MemberModel{DB: db},
		Loans:   LoanModel{DB: db},
	}
}
