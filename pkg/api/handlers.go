package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/tarsy/pkg/session"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: "ok", Version: versionString()})
}

type sessionSummary struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	IssueID   string `json:"issue_id,omitempty"`
	Status    string `json:"status"`
	Activity  string `json:"activity"`
	Branch    string `json:"branch"`
}

func (s *Server) handleListSessions(c *gin.Context) {
	projectID := c.Query("project_id")
	sessions, err := s.sessions.List(projectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toSummary(sess))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) handleGetSession(c *gin.Context) {
	id := c.Param("id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toSummary(sess))
}

func toSummary(sess *session.Session) sessionSummary {
	return sessionSummary{
		ID:        sess.ID,
		ProjectID: sess.ProjectID,
		IssueID:   sess.IssueID,
		Status:    string(sess.Status),
		Activity:  string(sess.Activity),
		Branch:    sess.Branch,
	}
}

// handleWebSocket upgrades to a read-only event-bus tail (SPEC_FULL §2).
// No control messages are accepted beyond subscribe/unsubscribe — the
// ConnectionManager itself enforces that boundary.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-origin operator tooling, no browser CORS boundary to enforce here
	})
	if err != nil {
		return
	}
	s.conns.HandleConnection(c.Request.Context(), conn)
}
