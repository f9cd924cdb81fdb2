package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/woxQAQ/wasmllm/pkg/protocol"
)

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/api/version", s.VersionHandler)
	r.GET("/api/models", s.ListHandler)
	r.GET("/api/models/:name", s.ShowHandler)
	r.POST("/api/infer", s.InferHandler)
	r.POST("/api/infer/batch", s.BatchHandler)

	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) VersionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.versionInfo())
}

func (s *Server) ListHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.listModels())
}

func (s *Server) ShowHandler(c *gin.Context) {
	info, err := s.showModel(c.Param("name"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) InferHandler(c *gin.Context) {
	var req protocol.InferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, protocol.ErrorResponse{Error: err.Error()})
		return
	}

	resp, err := s.infer(c.Request.Context(), req)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) BatchHandler(c *gin.Context) {
	var req protocol.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, protocol.ErrorResponse{Error: err.Error()})
		return
	}

	resp, err := s.inferBatch(c.Request.Context(), req)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) abort(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, protocol.ErrorResponse{Error: err.Error()})
}
