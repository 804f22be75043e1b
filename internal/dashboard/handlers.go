package dashboard

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rcliao/chat-relay/internal/admin"
)

func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, admin.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, admin.ErrUnauthorized):
		status = http.StatusForbidden
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) totalMessages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"totalMessages": s.admin.Statistics().TotalMessages})
}

func (s *Server) messagesPerUser(c *gin.Context) {
	c.JSON(http.StatusOK, s.admin.Statistics().MessagesPerUser)
}

func (s *Server) messagesPerChannel(c *gin.Context) {
	c.JSON(http.StatusOK, s.admin.Statistics().MessagesPerChannel)
}

func (s *Server) uptime(c *gin.Context) {
	up := s.admin.Statistics().Uptime
	c.JSON(http.StatusOK, gin.H{"uptime": up.String(), "uptimeSeconds": int64(up.Seconds())})
}

func (s *Server) clearStats(c *gin.Context) {
	if err := s.admin.ClearStatistics(dashboardCaller); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Statistics cleared."})
}

func (s *Server) clearDB(c *gin.Context) {
	n, err := s.admin.ClearTranscript(c.Request.Context(), dashboardCaller)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Database cleared.", "deleted": n})
}

func (s *Server) updatePrompt(c *gin.Context) {
	if _, err := s.admin.ReloadPrompt(c.Request.Context(), dashboardCaller); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Prompt updated."})
}

func (s *Server) setHistoryLimit(c *gin.Context) {
	limit, err := strconv.Atoi(c.Param("limit"))
	if err != nil {
		s.fail(c, fmt.Errorf("%w: limit must be an integer", admin.ErrInvalidArgument))
		return
	}
	if err := s.admin.SetWindowSize(dashboardCaller, limit); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Message history limit set to %d", limit)})
}

func (s *Server) getHistoryLimit(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messageHistoryLimit": s.admin.WindowSize()})
}

func (s *Server) setStatus(c *gin.Context) {
	if err := s.admin.SetStatus(c.Request.Context(), dashboardCaller, c.Param("status")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}
