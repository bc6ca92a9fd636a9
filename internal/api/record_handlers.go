package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/annel0/mmo-replay/internal/replay"
)

// SizeRequest потолок буфера в мегабайтах
type SizeRequest struct {
	MBytes *int `json:"mbytes" binding:"required"`
}

// RateRequest период снимков в секундах
type RateRequest struct {
	Seconds *int `json:"seconds" binding:"required"`
}

// SaveRequest имя файла и автор. Seconds используется только для buffer.
type SaveRequest struct {
	Name     string `json:"name" binding:"required"`
	Seconds  int    `json:"seconds"`
	Player   uint32 `json:"player"`
	CallSign string `json:"callsign"`
	Motto    string `json:"motto"`
}

func (r SaveRequest) author(operator string) replay.Author {
	a := replay.Author{Player: r.Player, CallSign: r.CallSign, Motto: r.Motto}
	if a.CallSign == "" {
		a.CallSign = operator
	}
	return a
}

func badRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, GenericResponse{Message: "Неверный формат запроса"})
}

func (s *Server) recordStats(c *gin.Context, message string) {
	var stats replay.RecordStats
	if err := s.do(c, func(e *replay.Engine) error {
		stats = e.Recorder().Stats()
		return nil
	}); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, message, gin.H{"stats": stats, "lines": stats.Lines()})
}

func (s *Server) handleRecordStart(c *gin.Context) {
	if err := s.do(c, func(e *replay.Engine) error { return e.Recorder().Start() }); err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info("🎬 %s включил запись", c.GetString("operator"))
	s.recordStats(c, "Recording started")
}

func (s *Server) handleRecordStop(c *gin.Context) {
	if err := s.do(c, func(e *replay.Engine) error { return e.Recorder().Stop() }); err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info("⏹️ %s остановил запись", c.GetString("operator"))
	s.ok(c, "Recording stopped", nil)
}

func (s *Server) handleRecordSize(c *gin.Context) {
	var req SizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if err := s.do(c, func(e *replay.Engine) error { return e.Recorder().SetSize(*req.MBytes) }); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: err.Error()})
		return
	}
	s.recordStats(c, "Record size updated")
}

func (s *Server) handleRecordRate(c *gin.Context) {
	var req RateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if err := s.do(c, func(e *replay.Engine) error { return e.Recorder().SetRate(*req.Seconds) }); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: err.Error()})
		return
	}
	s.recordStats(c, "Record rate updated")
}

func (s *Server) handleRecordFile(c *gin.Context) {
	var req SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	author := req.author(c.GetString("operator"))
	if err := s.do(c, func(e *replay.Engine) error { return e.Recorder().SaveFile(req.Name, author) }); err != nil {
		s.fail(c, err)
		return
	}
	s.recordStats(c, "Recording to file "+req.Name)
}

func (s *Server) handleRecordBuffer(c *gin.Context) {
	var req SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	author := req.author(c.GetString("operator"))
	if err := s.do(c, func(e *replay.Engine) error {
		return e.Recorder().SaveBuffer(req.Name, req.Seconds, author)
	}); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, "Buffer saved to "+req.Name, nil)
}

func (s *Server) handleRecordStats(c *gin.Context) {
	s.recordStats(c, "Record stats")
}
