package data

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory implementation of the Catalog,
// Directory and Ledger interfaces sharing one lock, so each operation is as
// atomic as its SQL counterpart. The test suites run against it; it mirrors
// the Postgres models' semantics exactly, including the conditional
// decrement/increment and the open-loan delete guards.
type MemoryStore struct {
	mu           sync.RWMutex
	books        map[int64]*Book
	members      map[int64]*Member
	loans        map[int64]*Loan
	nextBookID   int64
	nextMemberID int64
	nextLoanID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:   make(map[int64]*Book),
		members: make(map[int64]*Member),
		loans:   make(map[int64]*Loan),
	}
}

// NewMemoryModels returns a Models aggregate backed by a fresh MemoryStore.
func NewMemoryModels() Models {
	s := NewMemoryStore()
	return Models{
		Books:   (*memoryCatalog)(s),
		Members: (*memoryDirectory)(s),
		Loans:   (*memoryLedger)(s),
	}
}

func (s *MemoryStore) openLoanCountForBook(bookID int64) int {
	n := 0
	for _, l := range s.loans {
		if l.BookID == bookID && l.ReturnDate == nil {
			n++
		}
	}
	return n
}

func (s *MemoryStore) openLoanCountForMember(memberID int64) int {
	n := 0
	for _, l := range s.loans {
		if l.MemberID == memberID && l.ReturnDate == nil {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

type memoryCatalog MemoryStore

func (c *memoryCatalog) Insert(book *Book) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if book.ISBN != nil {
		for _, b := range c.books {
			if b.ISBN != nil && *b.ISBN == *book.ISBN {
				return ErrDuplicateISBN
			}
		}
	}

	c.nextBookID++
	book.ID = c.nextBookID
	book.CreatedAt = time.Now()
	book.AvailableCopies = book.TotalCopies
	book.Version = 1

	clone := *book
	c.books[book.ID] = &clone
	return nil
}

func (c *memoryCatalog) Get(id int64) (*Book, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	book, ok := c.books[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	clone := *book
	return &clone, nil
}

func (c *memoryCatalog) GetAll(title string, filters Filters) ([]*Book, Metadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	matched := []*Book{}
	for _, b := range c.books {
		if title == "" || strings.Contains(strings.ToLower(b.Title), strings.ToLower(title)) {
			clone := *b
			matched = append(matched, &clone)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	matched = paginate(matched, filters)
	return matched, calculateMetadata(total, filters.Page, filters.PageSize), nil
}

func (c *memoryCatalog) Update(book *Book) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.books[book.ID]
	if !ok || current.Version != book.Version {
		return ErrEditConflict
	}
	if book.ISBN != nil {
		for id, b := range c.books {
			if id != book.ID && b.ISBN != nil && *b.ISBN == *book.ISBN {
				return ErrDuplicateISBN
			}
		}
	}

	open := (*MemoryStore)(c).openLoanCountForBook(book.ID)
	if book.TotalCopies < open {
		return ErrOpenLoans
	}

	current.Title = book.Title
	current.Author = book.Author
	current.ISBN = book.ISBN
	current.TotalCopies = book.TotalCopies
	current.AvailableCopies = book.TotalCopies - open
	current.Version++

	book.AvailableCopies = current.AvailableCopies
	book.Version = current.Version
	return nil
}

func (c *memoryCatalog) Delete(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.books[id]; !ok {
		return ErrRecordNotFound
	}
	if (*MemoryStore)(c).openLoanCountForBook(id) > 0 {
		return ErrOpenLoans
	}
	delete(c.books, id)
	return nil
}

func (c *memoryCatalog) DecrementAvailable(id int64) (*Book, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	book, ok := c.books[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if book.AvailableCopies <= 0 {
		return nil, ErrNoCopiesAvailable
	}
	book.AvailableCopies--
	book.Version++
	clone := *book
	return &clone, nil
}

func (c *memoryCatalog) IncrementAvailable(id int64) (*Book, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	book, ok := c.books[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if book.AvailableCopies >= book.TotalCopies {
		return nil, ErrInconsistentCounts
	}
	book.AvailableCopies++
	book.Version++
	clone := *book
	return &clone, nil
}

// ---------------------------------------------------------------------------
// Directory
// ---------------------------------------------------------------------------

type memoryDirectory MemoryStore

func (d *memoryDirectory) Insert(member *Member) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, m := range d.members {
		if strings.EqualFold(m.Email, member.Email) {
			return ErrDuplicateEmail
		}
	}

	d.nextMemberID++
	member.ID = d.nextMemberID
	member.CreatedAt = time.Now()
	member.Version = 1

	clone := *member
	d.members[member.ID] = &clone
	return nil
}

func (d *memoryDirectory) Get(id int64) (*Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	member, ok := d.members[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	clone := *member
	return &clone, nil
}

func (d *memoryDirectory) GetAll(filters Filters) ([]*Member, Metadata, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	all := []*Member{}
	for _, m := range d.members {
		clone := *m
		all = append(all, &clone)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	total := len(all)
	all = paginate(all, filters)
	return all, calculateMetadata(total, filters.Page, filters.PageSize), nil
}

func (d *memoryDirectory) Update(member *Member) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, ok := d.members[member.ID]
	if !ok || current.Version != member.Version {
		return ErrEditConflict
	}
	for id, m := range d.members {
		if id != member.ID && strings.EqualFold(m.Email, member.Email) {
			return ErrDuplicateEmail
		}
	}

	current.Name = member.Name
	current.Email = member.Email
	current.Phone = member.Phone
	current.Version++

	member.Version = current.Version
	return nil
}

func (d *memoryDirectory) Delete(id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.members[id]; !ok {
		return ErrRecordNotFound
	}
	if (*MemoryStore)(d).openLoanCountForMember(id) > 0 {
		return ErrOpenLoans
	}
	delete(d.members, id)
	return nil
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

type memoryLedger MemoryStore

func (l *memoryLedger) CreateOpenRecord(bookID, memberID int64, borrowDate time.Time) (*Loan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextLoanID++
	loan := &Loan{
		ID:         l.nextLoanID,
		BookID:     bookID,
		MemberID:   memberID,
		BorrowDate: borrowDate,
	}
	l.loans[loan.ID] = loan

	clone := *loan
	return &clone, nil
}

func (l *memoryLedger) Get(id int64) (*Loan, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	loan, ok := l.loans[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	clone := *loan
	return &clone, nil
}

func (l *memoryLedger) CloseRecord(id int64, returnDate time.Time) (*Loan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	loan, ok := l.loans[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if loan.ReturnDate != nil {
		return nil, ErrAlreadyReturned
	}
	rd := returnDate
	loan.ReturnDate = &rd

	clone := *loan
	return &clone, nil
}

func (l *memoryLedger) GetAllOpen() ([]*LoanDetail, error) {
	return l.openDetails(func(*Loan) bool { return true })
}

func (l *memoryLedger) GetAllOpenForMember(memberID int64) ([]*LoanDetail, error) {
	return l.openDetails(func(loan *Loan) bool { return loan.MemberID == memberID })
}

func (l *memoryLedger) openDetails(match func(*Loan) bool) ([]*LoanDetail, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	details := []*LoanDetail{}
	for _, loan := range l.loans {
		if loan.ReturnDate != nil || !match(loan) {
			continue
		}
		book, ok := l.books[loan.BookID]
		if !ok {
			continue
		}
		member, ok := l.members[loan.MemberID]
		if !ok {
			continue
		}
		details = append(details, &LoanDetail{Record: *loan, Book: *book, Member: *member})
	}
	sort.Slice(details, func(i, j int) bool { return details[i].Record.ID < details[j].Record.ID })
	return details, nil
}

func paginate[T any](items []*T, filters Filters) []*T {
	if filters.PageSize == 0 {
		return items
	}
	start := filters.offset()
	if start >= len(items) {
		return []*T{}
	}
	end := start + filters.limit()
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
