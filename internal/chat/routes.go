// internal/chat/routes.go

package chat

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all chat routes
func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware mux.MiddlewareFunc) {
	api := router.PathPrefix("/api/v1/chats").Subrouter()
	api.Use(authMiddleware)

	api.HandleFunc("", handler.ListChats).Methods("GET")
	api.HandleFunc("", handler.CreateChat).Methods("POST")
	api.HandleFunc("/unread", handler.GetUnreadTotal).Methods("GET")
	api.HandleFunc("/{id:[0-9]+}/messages", handler.ListMessages).Methods("GET")
	api.HandleFunc("/{id:[0-9]+}/messages", handler.SendMessage).Methods("POST")
	api.HandleFunc("/{id:[0-9]+}/read", handler.MarkRead).Methods("POST")
	api.HandleFunc("/{id:[0-9]+}/leave", handler.LeaveChat).Methods("POST")
	api.HandleFunc("/{id:[0-9]+}/permissions", handler.GetPermissions).Methods("GET")

	messages := router.PathPrefix("/api/v1/messages").Subrouter()
	messages.Use(authMiddleware)
	messages.HandleFunc("/{id:[0-9]+}", handler.EditMessage).Methods("PUT", "PATCH")
}
