// Package lending implements the transactional core of the library: the
// state machine that moves book copies between available and checked out
// while keeping the catalog counts and the loan ledger in agreement.
package lending

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"library/internal/data"
)

// Coordinator performs Borrow and Return as atomic units scoped to one book
// id. All operations touching the same book are serialized by a per-book
// mutex; operations on different books run fully in parallel. Within the
// store the copy-count mutations are conditional updates, so even a writer
// bypassing the coordinator cannot drive a count out of range.
type Coordinator struct {
	catalog   data.Catalog
	directory data.Directory
	ledger    data.Ledger
	logger    *slog.Logger
	locks     keyedMutex

	// now is swappable for tests.
	now func() time.Time
}

func New(models data.Models, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		catalog:   models.Books,
		directory: models.Members,
		ledger:    models.Loans,
		logger:    logger,
		now:       time.Now,
	}
}

// Borrow checks one copy of a book out to a member. It fails with
// data.ErrRecordNotFound when either id is unknown and with
// data.ErrNoCopiesAvailable when every copy is out; on success the catalog
// count has decreased by exactly one and the ledger holds one new open
// record. The check-and-decrement and the ledger insert happen under the
// book's lock, so two borrows racing over the last copy resolve to exactly
// one success.
func (c *Coordinator) Borrow(bookID, memberID int64) (*data.Loan, error) {
	if _, err := c.directory.Get(memberID); err != nil {
		return nil, err
	}

	unlock := c.locks.lock(bookID)
	defer unlock()

	book, err := c.catalog.DecrementAvailable(bookID)
	if err != nil {
		return nil, err
	}

	loan, err := c.ledger.CreateOpenRecord(bookID, memberID, c.now())
	if err != nil {
		// Put the copy back so the failed borrow leaves no trace.
		if _, compErr := c.catalog.IncrementAvailable(bookID); compErr != nil {
			c.logger.Error("failed to compensate catalog after ledger error",
				"book_id", bookID, "ledger_error", err, "catalog_error", compErr)
			return nil, data.ErrInconsistentCounts
		}
		return nil, err
	}

	c.logger.Info("loan opened", "loan_id", loan.ID, "book_id", bookID,
		"member_id", memberID, "available_copies", book.AvailableCopies)
	return loan, nil
}

// Return closes an open loan and puts the copy back into circulation.
// A second return of the same record fails with data.ErrAlreadyReturned;
// the first call's state is untouched. An increment that would exceed
// total_copies means the ledger and catalog disagree: the record is left
// open and the disagreement is logged and surfaced rather than masked.
func (c *Coordinator) Return(recordID int64) (*data.Loan, error) {
	loan, err := c.ledger.Get(recordID)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.lock(loan.BookID)
	defer unlock()

	// Re-read under the lock: the record may have been closed while this
	// call waited for it.
	loan, err = c.ledger.Get(recordID)
	if err != nil {
		return nil, err
	}
	if !loan.Open() {
		return nil, data.ErrAlreadyReturned
	}

	// Restore the copy before closing the record. A failed close can be
	// compensated by taking the copy back out, but a closed record cannot
	// be reopened, so this order is the one that survives a store error
	// in the middle.
	book, err := c.catalog.IncrementAvailable(loan.BookID)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			// The book was removed while this loan was open, which the
			// delete guard should have prevented. The record stays
			// open; the count has nowhere to go.
			c.logger.Error("open loan references missing book",
				"loan_id", recordID, "book_id", loan.BookID)
			return nil, data.ErrInconsistentCounts
		case errors.Is(err, data.ErrInconsistentCounts):
			c.logger.Error("available_copies would exceed total_copies",
				"loan_id", recordID, "book_id", loan.BookID)
			return nil, err
		default:
			return nil, err
		}
	}

	closed, err := c.ledger.CloseRecord(recordID, c.now())
	if err != nil {
		// Take the copy back out so the failed return leaves no trace.
		if _, compErr := c.catalog.DecrementAvailable(loan.BookID); compErr != nil {
			c.logger.Error("failed to compensate catalog after ledger error",
				"loan_id", recordID, "book_id", loan.BookID,
				"ledger_error", err, "catalog_error", compErr)
			return nil, data.ErrInconsistentCounts
		}
		return nil, err
	}

	c.logger.Info("loan closed", "loan_id", closed.ID, "book_id", loan.BookID,
		"member_id", loan.MemberID, "available_copies", book.AvailableCopies)
	return closed, nil
}

// UpdateBook writes a catalog entry under the book's lock. The store
// reconciles available_copies against the open loan count when total_copies
// changes, so the write must not interleave with a borrow or return that is
// between its count mutation and its ledger write.
func (c *Coordinator) UpdateBook(book *data.Book) error {
	unlock := c.locks.lock(book.ID)
	defer unlock()

	return c.catalog.Update(book)
}

// RemoveBook deletes a catalog entry under the book's lock so the delete
// guard cannot interleave with an in-flight borrow on the same book.
func (c *Coordinator) RemoveBook(bookID int64) error {
	unlock := c.locks.lock(bookID)
	defer unlock()

	return c.catalog.Delete(bookID)
}

// RemoveMember deletes a directory entry; the store refuses while the
// member holds open loans.
func (c *Coordinator) RemoveMember(memberID int64) error {
	return c.directory.Delete(memberID)
}

// keyedMutex hands out one mutex per book id. Entries are reference counted
// and removed once the last holder releases, so the map stays bounded by the
// number of books with in-flight operations, not by catalog size.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[int64]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (km *keyedMutex) lock(key int64) (unlock func()) {
	km.mu.Lock()
	if km.entries == nil {
		km.entries = make(map[int64]*lockEntry)
	}
	e, ok := km.entries[key]
	if !ok {
		e = &lockEntry{}
		km.entries[key] = e
	}
	e.refs++
	km.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		km.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(km.entries, key)
		}
		km.mu.Unlock()
	}
}
