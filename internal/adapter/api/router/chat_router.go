package router

import (
	"github.com/labstack/echo/v4"

	"campusmarket/internal/adapter/api/handler"
	"campusmarket/internal/adapter/api/middleware"
)

// SetupChatRouter sets up all chat-related routes (excluding WebSocket)
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware) {
	// Synchronous send fallback, usable without a live session
	messageGroup := e.Group("/v1/messages")
	messageGroup.Use(authMiddleware.Authenticate)
	messageGroup.POST("", chatHandler.SendMessage) // POST /v1/messages

	chatGroup := e.Group("/v1/chats")
	chatGroup.Use(authMiddleware.Authenticate)

	chatGroup.POST("", chatHandler.StartConversation) // POST /v1/chats - start conversation for a listing
	chatGroup.GET("", chatHandler.ListChats)          // GET /v1/chats - list user's chats
	chatGroup.GET("/:id", chatHandler.GetChatByID)    // GET /v1/chats/:id - chat with message history

	chatGroup.PUT("/:id/messages/:messageId/read", chatHandler.MarkMessageRead) // PUT .../read - mark message read
}
