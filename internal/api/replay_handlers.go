package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/annel0/mmo-replay/internal/replay"
)

// LoadRequest имя файла или "#N"
type LoadRequest struct {
	Name string `json:"name" binding:"required"`
}

// SkipRequest смещение в секундах, 0 синхронизирует зрителей на текущей позиции
type SkipRequest struct {
	Seconds float64 `json:"seconds"`
}

func (s *Server) handleReplaySize(c *gin.Context) {
	var req SizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if err := s.do(c, func(e *replay.Engine) error { return e.Replayer().SetSize(*req.MBytes) }); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: err.Error()})
		return
	}
	s.replayStats(c, "Replay window size updated", nil)
}

func (s *Server) replayStats(c *gin.Context, message string, extra gin.H) {
	var stats replay.ReplayStats
	if err := s.do(c, func(e *replay.Engine) error {
		stats = e.Replayer().Stats()
		return nil
	}); err != nil {
		s.fail(c, err)
		return
	}
	data := gin.H{"stats": stats, "lines": stats.Lines()}
	for k, v := range extra {
		data[k] = v
	}
	s.ok(c, message, data)
}

func (s *Server) handleReplayFiles(c *gin.Context) {
	order, err := replay.ParseSortOrder(c.Query("sort"))
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: err.Error()})
		return
	}
	opts := replay.ListOptions{Sort: order, Pattern: c.Query("pattern")}

	var files []replay.Summary
	if err := s.do(c, func(e *replay.Engine) error {
		var lerr error
		files, lerr = e.ListFiles(opts)
		return lerr
	}); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: err.Error()})
		return
	}
	if files == nil {
		files = []replay.Summary{}
	}
	s.ok(c, "Files listed", gin.H{"files": files, "count": len(files)})
}

func (s *Server) handleReplayLoad(c *gin.Context) {
	var req LoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if err := s.do(c, func(e *replay.Engine) error { return e.Replayer().LoadFile(req.Name) }); err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info("📼 %s загрузил %s", c.GetString("operator"), req.Name)
	s.replayStats(c, "Loaded "+req.Name, nil)
}

func (s *Server) handleReplayUnload(c *gin.Context) {
	if err := s.do(c, func(e *replay.Engine) error { return e.Replayer().Unload() }); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, "Replay unloaded", nil)
}

func (s *Server) handleReplayPlay(c *gin.Context) {
	if err := s.do(c, func(e *replay.Engine) error { return e.Replayer().Play() }); err != nil {
		s.fail(c, err)
		return
	}
	s.replayStats(c, "Replay started", nil)
}

func (s *Server) handleReplayLoop(c *gin.Context) {
	if err := s.do(c, func(e *replay.Engine) error { return e.Replayer().Loop() }); err != nil {
		s.fail(c, err)
		return
	}
	s.replayStats(c, "Replay looping", nil)
}

func (s *Server) handleReplayPause(c *gin.Context) {
	if err := s.do(c, func(e *replay.Engine) error { return e.Replayer().Pause() }); err != nil {
		s.fail(c, err)
		return
	}
	s.replayStats(c, "Replay paused", nil)
}

func (s *Server) handleReplaySkip(c *gin.Context) {
	var req SkipRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c)
			return
		}
	}
	var result replay.SkipResult
	if err := s.do(c, func(e *replay.Engine) error {
		var serr error
		result, serr = e.Replayer().Skip(req.Seconds)
		return serr
	}); err != nil {
		s.fail(c, err)
		return
	}
	s.replayStats(c, "Skipped", gin.H{"result": result.String()})
}

func (s *Server) handleReplayStats(c *gin.Context) {
	s.replayStats(c, "Replay stats", nil)
}
