package hub

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/markb/chatsync/internal/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (CORS handled elsewhere)
	},
}

// HandleWebSocket upgrades an HTTP request into a hub connection. The
// principal id arrives as a query parameter; when a JWT secret is
// configured the token is mandatory and its sub claim overrides the
// parameter. Authentication itself lives outside this layer; only the
// principal id matters here.
func (s *Service) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	principalID := r.URL.Query().Get("principal_id")
	userName := r.URL.Query().Get("user_name")

	if s.jwtSecret != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		claims, err := s.validateToken(token)
		if err != nil {
			log.Debug("hub: rejected connection", "error", err.Error())
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if sub, _ := claims["sub"].(string); sub != "" {
			principalID = sub
		}
		if name, _ := claims["name"].(string); name != "" && userName == "" {
			userName = name
		}
	}

	if principalID == "" {
		http.Error(w, "principal_id required", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("hub: upgrade failed", "error", err.Error())
		return
	}

	conn := s.hub.NewConn(ws, principalID, userName)
	log.Debug("hub: new connection", "conn_id", conn.ID(), "principal_id", principalID)

	go conn.WritePump()
	go conn.ReadPump()
}

// validateToken validates a JWT and returns its claims.
func (s *Service) validateToken(tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
