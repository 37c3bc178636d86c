package handlers

import (
	"net/http"
	"strings"

	"optiroute/internal/http/middleware"
	"optiroute/internal/realtime"
	"optiroute/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type ChatHandler struct {
	Gateway  *realtime.Gateway
	Upgrader websocket.Upgrader
}

// NewChatHandler accepts websocket handshakes from allowedOrigins; "*" allows any.
func NewChatHandler(g *realtime.Gateway, allowedOrigins []string) *ChatHandler {
	allowed := map[string]bool{}
	for _, o := range allowedOrigins {
		allowed[strings.TrimSpace(o)] = true
	}
	return &ChatHandler{
		Gateway: g,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

// GET /api/ws
// The credential comes from the Authorization header or the token query
// parameter since browsers cannot set headers on websocket handshakes.
func (h *ChatHandler) Connect(c *gin.Context) {
	token := utils.BearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = strings.TrimSpace(c.Query("token"))
	}

	ws, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.LogEvent(middleware.GetRequestID(c), "CHAT", "upgrade", "websocket upgrade failed: "+err.Error())
		return
	}

	conn, err := h.Gateway.Connect(token, ws)
	if err != nil {
		return
	}
	h.Gateway.Serve(c.Request.Context(), conn)
}

// GET /api/chat/online
func (h *ChatHandler) Online(c *gin.Context) {
	ids := h.Gateway.OnlineSubjects()
	c.JSON(http.StatusOK, gin.H{"subjects": ids, "count": len(ids)})
}
