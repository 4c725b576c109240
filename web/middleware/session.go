package middleware

import (
	"net/http"

	"sensor-agent/database"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const SessionCookieName = "sensor_agent_session"
const CookieMaxAge = 30 * 24 * 60 * 60 // 30 days

// SessionMiddleware resolves or creates the caller's session and stores its
// id under "sessionID" in the request context. With a nil store the session
// exists only in the cookie; persistence features degrade gracefully.
func SessionMiddleware(store *database.PostgresStore, workspaceDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Cookie(SessionCookieName)
		var sessionID uuid.UUID

		switch {
		case err == http.ErrNoCookie:
			if store != nil {
				sessionID, err = store.CreateSession(c.Request.Context(), workspaceDir)
				if err != nil {
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
					return
				}
			} else {
				sessionID = uuid.New()
			}
			c.SetCookie(SessionCookieName, sessionID.String(), CookieMaxAge, "/", "", false, true)
		case err != nil:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to parse session cookie"})
			return
		default:
			sessionID, err = uuid.Parse(cookie)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid session ID"})
				return
			}
		}

		c.Set("sessionID", sessionID)
		c.Next()
	}
}

// SessionID extracts the session id installed by SessionMiddleware.
func SessionID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get("sessionID")
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
