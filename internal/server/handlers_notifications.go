package server

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// subscribePush stores a browser push descriptor opaquely. No delivery
// happens server-side; the sender runs elsewhere. A storage failure is
// logged and the call still succeeds so the client never retries in a loop.
func (a *App) subscribePush(c *gin.Context) {
	var payload pushSubscribeRequest
	if !mustJSON(c, &payload) {
		return
	}

	endpoint := strings.TrimSpace(payload.Endpoint)
	if endpoint == "" {
		writeError(c, http.StatusBadRequest, "endpoint is required")
		return
	}

	var userRef any
	if user, authed := authUserFromContext(c); authed {
		userRef = user.ID
	}

	keys := payload.Keys
	if keys == nil {
		keys = map[string]string{}
	}

	if _, err := a.db.Exec(
		c.Request.Context(),
		`INSERT INTO push_subscriptions (id, user_id, endpoint, keys, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (endpoint) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			keys = EXCLUDED.keys`,
		uuid.NewString(),
		userRef,
		endpoint,
		mustMarshalJSON(keys),
	); err != nil {
		log.Printf("push subscription save failed endpoint=%s err=%v", truncate(endpoint, 80), err)
	}

	c.JSON(http.StatusOK, gin.H{"status": "subscribed"})
}
