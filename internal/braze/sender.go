package braze

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// messageGroup keeps all profile updates in one FIFO ordering group.
const messageGroup = "newspassid"

// Sender is the POST /braze/users route: it enqueues a profile update for
// the processor instead of calling the Braze API inline.
type Sender struct {
	Queue Queue
	Now   func() time.Time
	Log   zerolog.Logger
}

// Handle accepts {userId, attributes} and enqueues it with a
// time-salted dedup id.
func (s *Sender) Handle(c echo.Context) error {
	var req QueueMessage
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
	}
	if req.UserID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "userId is required"})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to queue message"})
	}

	sum := sha256.Sum256(fmt.Appendf(nil, "%s-%d", req.UserID, s.Now().UnixMilli()))
	msgID, err := s.Queue.Send(c.Request().Context(), string(body), messageGroup, hex.EncodeToString(sum[:]))
	if err != nil {
		s.Log.Error().Err(err).Str("user_id", req.UserID).Msg("enqueue profile update")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to queue message"})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"messageId": msgID,
		"message":   "Successfully queued user profile update",
	})
}
