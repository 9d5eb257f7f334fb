package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/fstopclub/fstop/internal/event/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateEvent(c *gin.Context) {
	var req eventdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	view, err := s.eventSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (s *Server) ListEvents(c *gin.Context) {
	views, err := s.eventSvc.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": views})
}

func (s *Server) GetEvent(c *gin.Context) {
	id, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}

	view, err := s.eventSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) GetBookable(c *gin.Context) {
	id, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}

	bookability, err := s.bookingSvc.Bookable(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookability)
}

func (s *Server) ExportBookings(c *gin.Context) {
	id, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="bookings.csv"`)
	if err := s.exportSvc.WriteBookingsCSV(c.Request.Context(), c.Writer, id); err != nil {
		AbortWithError(c, err)
	}
}

func parseID(c *gin.Context, raw string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(raw)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return id, true
}
