package server

import (
	"net/http"

	bookingdomain "github.com/fstopclub/fstop/internal/booking/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) BookEvent(c *gin.Context) {
	eventID, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}

	var req bookingdomain.BookRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if s.limiter.Enabled() {
		allowed, err := s.limiter.AllowBooking(c.Request.Context(), req.UserID.String())
		if err != nil {
			s.log.Warn("booking rate limit check failed", zap.Error(err))
		} else if !allowed {
			AbortWithError(c, ErrTooManyRequests)
			return
		}
	}

	result, err := s.bookingSvc.Book(c.Request.Context(), eventID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	// Business rejections ride the 200: the result body carries the
	// outcome the UI shows.
	c.JSON(http.StatusOK, result)
}

func (s *Server) CancelBooking(c *gin.Context) {
	eventID, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}
	userID, ok := parseID(c, c.Param("userId"))
	if !ok {
		return
	}

	if err := s.bookingSvc.Cancel(c.Request.Context(), eventID, userID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) GetUserBooking(c *gin.Context) {
	eventID, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}
	userID, ok := parseID(c, c.Param("userId"))
	if !ok {
		return
	}

	active, err := s.bookingSvc.HasActiveBooking(c.Request.Context(), userID, eventID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booked": active})
}
