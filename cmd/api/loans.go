package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"library/internal/data"
	"library/internal/validator"
)

func (app *application) borrowBookHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		BookID   int64 `json:"book_id"`
		MemberID int64 `json:"member_id"`
	}

	err := app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	v := validator.New()
	v.Check(input.BookID > 0, "book_id", "must be provided and positive")
	v.Check(input.MemberID > 0, "member_id", "must be provided and positive")
	if !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	loan, err := app.lending.Borrow(input.BookID, input.MemberID)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		case errors.Is(err, data.ErrNoCopiesAvailable):
			app.conflictResponse(w, r, "no copies of this book are available")
		case errors.Is(err, data.ErrInconsistentCounts):
			app.serverErrorResponse(w, r, err)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	app.sendReceipt(loan.ID, "loan_receipt.tmpl", func(book *data.Book, member *data.Member) map[string]interface{} {
		return map[string]interface{}{
			"memberName": member.Name,
			"bookTitle":  book.Title,
			"bookAuthor": book.Author,
			"loanID":     loan.ID,
			"borrowDate": loan.BorrowDate.Format(time.RFC1123),
		}
	})

	headers := make(http.Header)
	headers.Set("Location", fmt.Sprintf("/api/loans/%d", loan.ID))

	err = app.writeJSON(w, http.StatusCreated, envelope{"record": loan}, headers)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *application) returnBookHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.notFoundResponse(w, r)
		return
	}

	loan, err := app.lending.Return(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		case errors.Is(err, data.ErrAlreadyReturned):
			app.conflictResponse(w, r, "this loan has already been returned")
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	app.sendReceipt(loan.ID, "return_receipt.tmpl", func(book *data.Book, member *data.Member) map[string]interface{} {
		returned := ""
		if loan.ReturnDate != nil {
			returned = loan.ReturnDate.Format(time.RFC1123)
		}
		return map[string]interface{}{
			"memberName": member.Name,
			"bookTitle":  book.Title,
			"bookAuthor": book.Author,
			"loanID":     loan.ID,
			"returnDate": returned,
		}
	})

	err = app.writeJSON(w, http.StatusOK, envelope{"record": loan}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *application) showLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.notFoundResponse(w, r)
		return
	}

	loan, err := app.models.Loans.Get(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"record": loan}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

func (app *application) listBorrowedBooksHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := app.models.Loans.GetAllOpen()
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"borrowed_books": loans}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// sendReceipt emails the member about a loan event in the background. A
// failure is logged and never affects the request that triggered it.
func (app *application) sendReceipt(loanID int64, templateFile string, buildData func(*data.Book, *data.Member) map[string]interface{}) {
	if app.config.smtp.host == "" {
		return
	}

	app.background(func() {
		loan, err := app.models.Loans.Get(loanID)
		if err != nil {
			app.logger.Error("receipt: fetch loan", "loan_id", loanID, "error", err.Error())
			return
		}
		book, err := app.models.Books.Get(loan.BookID)
		if err != nil {
			app.logger.Error("receipt: fetch book", "loan_id", loanID, "error", err.Error())
			return
		}
		member, err := app.models.Members.Get(loan.MemberID)
		if err != nil {
			app.logger.Error("receipt: fetch member", "loan_id", loanID, "error", err.Error())
			return
		}

		err = app.mailer.Send(member.Email, templateFile, buildData(book, member))
		if err != nil {
			app.logger.Error("receipt: send", "loan_id", loanID, "error", err.Error())
		}
	})
}
