package main

import (
	"expvar"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

func (app *application) routes() http.Handler {
	router := httprouter.New()

	router.NotFound = http.HandlerFunc(app.notFoundResponse)
	router.MethodNotAllowed = http.HandlerFunc(app.methodNotAllowedResponse)

	router.HandlerFunc(http.MethodGet, "/api/healthcheck", app.healthcheckHandler)

	router.HandlerFunc(http.MethodGet, "/api/books", app.listBooksHandler)
	router.HandlerFunc(http.MethodPost, "/api/books", app.createBookHandler)
	router.HandlerFunc(http.MethodGet, "/api/books/:id", app.showBookHandler)
	router.HandlerFunc(http.MethodPut, "/api/books/:id", app.updateBookHandler)
	router.HandlerFunc(http.MethodPatch, "/api/books/:id", app.updateBookHandler)
	router.HandlerFunc(http.MethodDelete, "/api/books/:id", app.deleteBookHandler)

	router.HandlerFunc(http.MethodGet, "/api/members", app.listMembersHandler)
	router.HandlerFunc(http.MethodPost, "/api/members", app.createMemberHandler)
	router.HandlerFunc(http.MethodGet, "/api/members/:id", app.showMemberHandler)
	router.HandlerFunc(http.MethodPut, "/api/members/:id", app.updateMemberHandler)
	router.HandlerFunc(http.MethodPatch, "/api/members/:id", app.updateMemberHandler)
	router.HandlerFunc(http.MethodDelete, "/api/members/:id", app.deleteMemberHandler)
	router.HandlerFunc(http.MethodGet, "/api/members/:id/borrowed-books", app.listMemberBorrowedBooksHandler)

	router.HandlerFunc(http.MethodGet, "/api/borrowed-books", app.listBorrowedBooksHandler)
	router.HandlerFunc(http.MethodPost, "/api/borrow", app.borrowBookHandler)
	router.HandlerFunc(http.MethodPost, "/api/return/:id", app.returnBookHandler)
	router.HandlerFunc(http.MethodGet, "/api/loans/:id", app.showLoanHandler)

	router.Handler(http.MethodGet, "/debug/vars", expvar.Handler())

	return app.metrics(app.recoverPanic(app.requestID(app.enableCORS(app.rateLimit(router)))))
}
