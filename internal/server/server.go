package server

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forPelevin/autoshort/internal/pipeline"
	"github.com/forPelevin/autoshort/internal/types"
)

const DefaultMaxUpload = 2 << 30 // 2 GiB

// Assembler runs one short assembly. *pipeline.Pipeline satisfies it.
type Assembler interface {
	AssembleShort(ctx context.Context, inputVideo, description string) pipeline.Result
}

type Config struct {
	Addr      string
	UploadDir string
	MaxUpload int64
}

type Server struct {
	cfg    Config
	asm    Assembler
	log    zerolog.Logger
	engine *gin.Engine
}

func New(cfg Config, asm Assembler, log zerolog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(os.TempDir(), "autoshort-uploads")
	}
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = DefaultMaxUpload
	}
	if log.GetLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{cfg: cfg, asm: asm, log: log}
	engine := gin.New()
	engine.MaxMultipartMemory = 32 << 20
	engine.Use(requestID(), s.recovery(), s.requestLogger())
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.POST("/v1/shorts", s.createShort)
	s.engine = engine
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("upload dir: %w", err)
	}
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.log.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type createShortRequest struct {
	Video       *multipart.FileHeader `form:"video" binding:"required"`
	Description string                `form:"description" binding:"required"`
}

type createShortResponse struct {
	Output   string   `json:"output"`
	Script   string   `json:"script"`
	Warnings []string `json:"warnings"`
}

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

func (s *Server) createShort(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUpload)

	var req createShortRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "description is empty"})
		return
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "upload dir unavailable"})
		return
	}
	ext := strings.ToLower(filepath.Ext(req.Video.Filename))
	if ext == "" {
		ext = ".mp4"
	}
	upload := filepath.Join(s.cfg.UploadDir, uuid.NewString()+ext)
	if err := c.SaveUploadedFile(req.Video, upload); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: fmt.Sprintf("save upload: %v", err)})
		return
	}
	defer func() {
		if err := os.Remove(upload); err != nil && !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", upload).Msg("upload cleanup failed")
		}
	}()

	res := s.asm.AssembleShort(c.Request.Context(), upload, req.Description)
	if !res.OK {
		c.JSON(statusFor(res.Stage), errorResponse{Error: res.Message, Stage: string(res.Stage)})
		return
	}
	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	c.JSON(http.StatusOK, createShortResponse{Output: res.OutputPath, Script: res.Script, Warnings: warnings})
}

func statusFor(stage types.Stage) int {
	switch stage {
	case "":
		return http.StatusBadRequest
	case types.StageScript, types.StageNarration:
		return http.StatusBadGateway
	case types.StageDecode, types.StageTimeline:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
