// Package httpapi exposes the REST API over the application services. It is
// also where role and ownership rules are enforced; the services behind it
// are authorization-agnostic.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	app "github.com/openshelf/library-service/internal/app"
	"github.com/openshelf/library-service/internal/app/domain/book"
	"github.com/openshelf/library-service/internal/app/domain/category"
	"github.com/openshelf/library-service/internal/app/domain/user"
	"github.com/openshelf/library-service/internal/errors"
	"github.com/openshelf/library-service/internal/httputil"
	"github.com/openshelf/library-service/internal/logging"
	"github.com/openshelf/library-service/internal/middleware"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logging.Logger
}

// NewHandler returns a router exposing the core REST API. Authentication is
// expected to run before this handler; routes consult the identity the auth
// middleware placed on the context.
func NewHandler(application *app.Application, log *logging.Logger) http.Handler {
	if log == nil {
		log = logging.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	r.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)

	r.HandleFunc("/books", h.listBooks).Methods(http.MethodGet)
	r.HandleFunc("/books", h.createBook).Methods(http.MethodPost)
	r.HandleFunc("/books/{id}", h.getBook).Methods(http.MethodGet)
	r.HandleFunc("/books/{id}", h.updateBook).Methods(http.MethodPut)
	r.HandleFunc("/books/{id}", h.deleteBook).Methods(http.MethodDelete)

	r.HandleFunc("/categories", h.listCategories).Methods(http.MethodGet)
	r.HandleFunc("/categories", h.createCategory).Methods(http.MethodPost)
	r.HandleFunc("/categories/{id}", h.getCategory).Methods(http.MethodGet)
	r.HandleFunc("/categories/{id}", h.updateCategory).Methods(http.MethodPut)
	r.HandleFunc("/categories/{id}", h.deleteCategory).Methods(http.MethodDelete)

	r.HandleFunc("/users", h.listUsers).Methods(http.MethodGet)
	r.HandleFunc("/users/me", h.currentUser).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}", h.getUser).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}", h.updateUser).Methods(http.MethodPut)
	r.HandleFunc("/users/{id}", h.deleteUser).Methods(http.MethodDelete)

	r.HandleFunc("/borrows", h.borrow).Methods(http.MethodPost)
	r.HandleFunc("/borrows", h.listLoans).Methods(http.MethodGet)
	r.HandleFunc("/borrows/user/{userId}", h.listUserLoans).Methods(http.MethodGet)
	r.HandleFunc("/borrows/{id}", h.getLoan).Methods(http.MethodGet)
	r.HandleFunc("/borrows/{id}/return", h.returnLoan).Methods(http.MethodPut)

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	u, err := h.app.Identity.Register(r.Context(), payload.Username, payload.Password, user.RoleMember)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, u)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	u, token, err := h.app.Identity.Login(r.Context(), payload.Username, payload.Password)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  u,
	})
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

type bookPayload struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	ISBN        string `json:"isbn"`
	Description string `json:"description"`
	CategoryID  string `json:"category_id"`
	TotalCopies int    `json:"total_copies"`
}

func (h *handler) listBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	books, err := h.app.Catalog.List(r.Context(), q.Get("category"), q.Get("title"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, books)
}

func (h *handler) getBook(w http.ResponseWriter, r *http.Request) {
	b, err := h.app.Catalog.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, b)
}

func (h *handler) createBook(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var payload bookPayload
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	created, err := h.app.Catalog.Add(r.Context(), book.Book{
		Title:       payload.Title,
		Author:      payload.Author,
		ISBN:        payload.ISBN,
		Description: payload.Description,
		CategoryID:  payload.CategoryID,
		TotalCopies: payload.TotalCopies,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) updateBook(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var payload bookPayload
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	updated, err := h.app.Catalog.Update(r.Context(), book.Book{
		ID:          mux.Vars(r)["id"],
		Title:       payload.Title,
		Author:      payload.Author,
		ISBN:        payload.ISBN,
		Description: payload.Description,
		CategoryID:  payload.CategoryID,
		TotalCopies: payload.TotalCopies,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteBook(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	if err := h.app.Catalog.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Categories
// ---------------------------------------------------------------------------

type categoryPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *handler) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.app.Categories.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cats)
}

func (h *handler) getCategory(w http.ResponseWriter, r *http.Request) {
	c, err := h.app.Categories.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *handler) createCategory(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var payload categoryPayload
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	created, err := h.app.Categories.Add(r.Context(), category.Category{
		Name:        payload.Name,
		Description: payload.Description,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) updateCategory(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var payload categoryPayload
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	updated, err := h.app.Categories.Update(r.Context(), category.Category{
		ID:          mux.Vars(r)["id"],
		Name:        payload.Name,
		Description: payload.Description,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	if err := h.app.Categories.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	users, err := h.app.Identity.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, users)
}

func (h *handler) currentUser(w http.ResponseWriter, r *http.Request) {
	callerID := middleware.GetUserID(r.Context())
	if callerID == "" {
		httputil.Unauthorized(w, "")
		return
	}
	u, err := h.app.Identity.Get(r.Context(), callerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.requireSelfOrAdmin(w, r, id) {
		return
	}
	u, err := h.app.Identity.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.requireSelfOrAdmin(w, r, id) {
		return
	}

	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	// Only admins may grant or revoke roles.
	role := user.Role(payload.Role)
	if role != "" && !h.isAdmin(r) {
		httputil.WriteError(w, errors.Forbidden("role changes require admin"))
		return
	}

	updated, err := h.app.Identity.Update(r.Context(), id, payload.Username, payload.Password, role)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	if err := h.app.Identity.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Borrows
// ---------------------------------------------------------------------------

func (h *handler) borrow(w http.ResponseWriter, r *http.Request) {
	callerID := middleware.GetUserID(r.Context())
	if callerID == "" {
		httputil.Unauthorized(w, "")
		return
	}

	var payload struct {
		BookID string `json:"book_id"`
		UserID string `json:"user_id"`
	}
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	userID := callerID
	if payload.UserID != "" && payload.UserID != callerID {
		if !h.isAdmin(r) {
			httputil.WriteError(w, errors.Forbidden("cannot borrow on behalf of another user"))
			return
		}
		userID = payload.UserID
	}

	l, err := h.app.Lending.Borrow(r.Context(), userID, payload.BookID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, l)
}

func (h *handler) returnLoan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	l, err := h.app.Lending.FindByID(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !h.requireSelfOrAdmin(w, r, l.UserID) {
		return
	}

	returned, err := h.app.Lending.Return(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, returned)
}

func (h *handler) listLoans(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	loans, err := h.app.Lending.FindAll(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, loans)
}

func (h *handler) getLoan(w http.ResponseWriter, r *http.Request) {
	l, err := h.app.Lending.FindByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !h.requireSelfOrAdmin(w, r, l.UserID) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, l)
}

func (h *handler) listUserLoans(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if !h.requireSelfOrAdmin(w, r, userID) {
		return
	}
	loans, err := h.app.Lending.FindByUser(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, loans)
}

// ---------------------------------------------------------------------------
// Authorization helpers
// ---------------------------------------------------------------------------

func (h *handler) isAdmin(r *http.Request) bool {
	return user.Role(middleware.GetUserRole(r.Context())) == user.RoleAdmin
}

func (h *handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if middleware.GetUserID(r.Context()) == "" {
		httputil.Unauthorized(w, "")
		return false
	}
	if !h.isAdmin(r) {
		httputil.WriteError(w, errors.Forbidden("admin required"))
		return false
	}
	return true
}

// requireSelfOrAdmin allows the resource owner and admins through.
func (h *handler) requireSelfOrAdmin(w http.ResponseWriter, r *http.Request, ownerID string) bool {
	callerID := middleware.GetUserID(r.Context())
	if callerID == "" {
		httputil.Unauthorized(w, "")
		return false
	}
	if callerID != ownerID && !h.isAdmin(r) {
		httputil.WriteError(w, errors.Forbidden("access denied"))
		return false
	}
	return true
}
