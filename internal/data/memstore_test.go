package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isbn(s string) *string { return &s }

func TestCatalogInsertSetsAvailableToTotal(t *testing.T) {
	models := NewMemoryModels()

	book := &Book{Title: "T", Author: "A", TotalCopies: 4}
	require.NoError(t, models.Books.Insert(book))

	assert.NotZero(t, book.ID)
	assert.Equal(t, 4, book.AvailableCopies)
	assert.EqualValues(t, 1, book.Version)
}

func TestCatalogDuplicateISBN(t *testing.T) {
	models := NewMemoryModels()

	require.NoError(t, models.Books.Insert(&Book{Title: "T", Author: "A", ISBN: isbn("978-0"), TotalCopies: 1}))

	err := models.Books.Insert(&Book{Title: "U", Author: "B", ISBN: isbn("978-0"), TotalCopies: 1})
	assert.ErrorIs(t, err, ErrDuplicateISBN)
}

func TestCatalogDecrementStopsAtZero(t *testing.T) {
	models := NewMemoryModels()

	book := &Book{Title: "T", Author: "A", TotalCopies: 2}
	require.NoError(t, models.Books.Insert(book))

	for i := 0; i < 2; i++ {
		_, err := models.Books.DecrementAvailable(book.ID)
		require.NoError(t, err)
	}

	_, err := models.Books.DecrementAvailable(book.ID)
	assert.ErrorIs(t, err, ErrNoCopiesAvailable)

	got, err := models.Books.Get(book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableCopies)
}

func TestCatalogIncrementStopsAtTotal(t *testing.T) {
	models := NewMemoryModels()

	book := &Book{Title: "T", Author: "A", TotalCopies: 1}
	require.NoError(t, models.Books.Insert(book))

	_, err := models.Books.IncrementAvailable(book.ID)
	assert.ErrorIs(t, err, ErrInconsistentCounts)
}

func TestCatalogDecrementUnknownBook(t *testing.T) {
	models := NewMemoryModels()

	_, err := models.Books.DecrementAvailable(42)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestCatalogUpdateReconcilesAvailable(t *testing.T) {
	models := NewMemoryModels()

	book := &Book{Title: "T", Author: "A", TotalCopies: 3}
	require.NoError(t, models.Books.Insert(book))

	member := &Member{Name: "Alice", Email: "alice@example.com"}
	require.NoError(t, models.Members.Insert(member))

	_, err := models.Books.DecrementAvailable(book.ID)
	require.NoError(t, err)
	_, err = models.Loans.CreateOpenRecord(book.ID, member.ID, time.Now())
	require.NoError(t, err)

	// Shrink total to 2: one copy out, so one remains available.
	current, err := models.Books.Get(book.ID)
	require.NoError(t, err)
	current.TotalCopies = 2
	require.NoError(t, models.Books.Update(current))
	assert.Equal(t, 1, current.AvailableCopies)

	// Shrinking below the open loan count is refused.
	current.TotalCopies = 0
	err = models.Books.Update(current)
	assert.ErrorIs(t, err, ErrOpenLoans)
}

func TestCatalogUpdateVersionConflict(t *testing.T) {
	models := NewMemoryModels()

	book := &Book{Title: "T", Author: "A", TotalCopies: 1}
	require.NoError(t, models.Books.Insert(book))

	stale := *book
	book.Title = "T2"
	require.NoError(t, models.Books.Update(book))

	stale.Title = "T3"
	err := models.Books.Update(&stale)
	assert.ErrorIs(t, err, ErrEditConflict)
}

func TestDirectoryDuplicateEmailCaseInsensitive(t *testing.T) {
	models := NewMemoryModels()

	require.NoError(t, models.Members.Insert(&Member{Name: "Alice", Email: "alice@example.com"}))

	err := models.Members.Insert(&Member{Name: "Other", Email: "Alice@Example.com"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestLedgerCloseRecordOnce(t *testing.T) {
	models := NewMemoryModels()

	book := &Book{Title: "T", Author: "A", TotalCopies: 1}
	require.NoError(t, models.Books.Insert(book))
	member := &Member{Name: "Alice", Email: "alice@example.com"}
	require.NoError(t, models.Members.Insert(member))

	loan, err := models.Loans.CreateOpenRecord(book.ID, member.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, loan.Open())

	closed, err := models.Loans.CloseRecord(loan.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, closed.Open())

	_, err = models.Loans.CloseRecord(loan.ID, time.Now())
	assert.ErrorIs(t, err, ErrAlreadyReturned)
}

func TestLedgerCloseUnknownRecord(t *testing.T) {
	models := NewMemoryModels()

	_, err := models.Loans.CloseRecord(7, time.Now())
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestLedgerOpenListingsJoinBookAndMember(t *testing.T) {
	models := NewMemoryModels()

	book := &Book{Title: "Joined", Author: "A", TotalCopies: 2}
	require.NoError(t, models.Books.Insert(book))
	alice := &Member{Name: "Alice", Email: "alice@example.com"}
	require.NoError(t, models.Members.Insert(alice))
	bob := &Member{Name: "Bob", Email: "bob@example.com"}
	require.NoError(t, models.Members.Insert(bob))

	first, err := models.Loans.CreateOpenRecord(book.ID, alice.ID, time.Now())
	require.NoError(t, err)
	_, err = models.Loans.CreateOpenRecord(book.ID, bob.ID, time.Now())
	require.NoError(t, err)

	all, err := models.Loans.GetAllOpen()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Joined", all[0].Book.Title)
	assert.Equal(t, "Alice", all[0].Member.Name)

	_, err = models.Loans.CloseRecord(first.ID, time.Now())
	require.NoError(t, err)

	forBob, err := models.Loans.GetAllOpenForMember(bob.ID)
	require.NoError(t, err)
	require.Len(t, forBob, 1)
	assert.Equal(t, bob.ID, forBob[0].Record.MemberID)

	forAlice, err := models.Loans.GetAllOpenForMember(alice.ID)
	require.NoError(t, err)
	assert.Empty(t, forAlice)
}

func TestGetAllBooksTitleFilterAndPagination(t *testing.T) {
	models := NewMemoryModels()

	titles := []string{"Go in Action", "The Go Programming Language", "Rust in Action"}
	for _, title := range titles {
		require.NoError(t, models.Books.Insert(&Book{Title: title, Author: "A", TotalCopies: 1}))
	}

	filters := Filters{Page: 1, PageSize: 20, Sort: "id", SortSafelist: []string{"id"}}

	books, metadata, err := models.Books.GetAll("go", filters)
	require.NoError(t, err)
	assert.Len(t, books, 2)
	assert.Equal(t, 2, metadata.TotalRecords)

	filters.PageSize = 1
	filters.Page = 2
	books, _, err = models.Books.GetAll("", filters)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "The Go Programming Language", books[0].Title)
}
