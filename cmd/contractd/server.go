package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	contracts "github.com/vivaneiona/genkit-contracts"
)

const maxUploadBytes = 20 << 20

// Server exposes the extraction pipeline over HTTP.
type Server struct {
	echo     *echo.Echo
	cfg      *contracts.Config
	pipeline *contracts.Pipeline
	qa       *contracts.SectionQA
	gatherer prometheus.Gatherer
	log      *slog.Logger
}

// NewServer registers every route. gatherer may be nil to disable /metrics.
func NewServer(cfg *contracts.Config, p *contracts.Pipeline, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", maxUploadBytes>>20)))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			log.Info("http request",
				"method", c.Request().Method,
				"uri", c.Request().RequestURI,
				"status", c.Response().Status,
				"duration", time.Since(start),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			return nil
		}
	})

	s := &Server{
		echo:     e,
		cfg:      cfg,
		pipeline: p,
		gatherer: gatherer,
		log:      log,
	}
	if p.Client() != nil {
		s.qa = contracts.NewSectionQA(p.Client(), p.Prompts(), cfg.LLM, log)
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/status", s.handleStatus)
	s.echo.GET("/config", s.handleConfig)
	s.echo.GET("/schema", s.handleSchema)
	s.echo.GET("/models", s.handleModels)
	s.echo.GET("/version", s.handleVersion)
	s.echo.GET("/plan", s.handlePlan)
	s.echo.POST("/check", s.handleCheck)
	s.echo.POST("/test", s.handleTest)
	s.echo.POST("/qa", s.handleQA)
	if s.gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

// ServeHTTP makes the server usable with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.echo.ServeHTTP(w, r) }

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("starting http server", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	Status     string `json:"status"`
	UseLLM     bool   `json:"use_llm"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	OllamaHost string `json:"ollama_host"`
}

// CheckRequest is the JSON body of POST /check and GET /plan.
type CheckRequest struct {
	Text string `json:"text"`
}

// CheckResponse is the response body for POST /check.
type CheckResponse struct {
	OK               bool                        `json:"ok"`
	Data             contracts.Record            `json:"data"`
	Warnings         []contracts.Warning         `json:"warnings"`
	ValidationErrors []contracts.ValidationError `json:"validation_errors,omitempty"`
	Debug            contracts.Diagnostics       `json:"debug"`
}

// TestResponse is the response body for POST /test.
type TestResponse struct {
	OK               bool                        `json:"ok"`
	Table            []contracts.ComparisonRow   `json:"table"`
	Summary          contracts.ComparisonSummary `json:"summary"`
	Warnings         []contracts.Warning         `json:"warnings"`
	ValidationErrors []contracts.ValidationError `json:"validation_errors,omitempty"`
	Debug            contracts.Diagnostics       `json:"debug"`
}

// QARequest is the JSON body of POST /qa. Sections name the parts to use
// (part_0, part_1, ...); empty means the whole document.
type QARequest struct {
	Text     string   `json:"text"`
	Sections []string `json:"sections"`
	Question string   `json:"question"`
	Keys     []string `json:"keys"`
}

// QAResponse is the response body for POST /qa.
type QAResponse struct {
	OK       bool              `json:"ok"`
	Answers  map[string]string `json:"answers"`
	Sections []string          `json:"sections"`
	Debug    map[string]string `json:"debug"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:     "ok",
		UseLLM:     s.pipeline.ModelExtraction(),
		Provider:   s.cfg.LLM.Provider,
		Model:      s.cfg.LLM.Model,
		OllamaHost: s.cfg.LLM.Host,
	})
}

func (s *Server) handleConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, s.cfg.Public())
}

func (s *Server) handleSchema(c echo.Context) error {
	return c.JSON(http.StatusOK, s.pipeline.EnabledSchema())
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"version": version, "app": appName})
}

func (s *Server) handleModels(c echo.Context) error {
	client := s.pipeline.Client()
	if client == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "inference service is not configured")
	}
	models, err := client.ListModels(c.Request().Context())
	if err != nil {
		s.log.Warn("list models failed", "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, fmt.Sprintf("inference service error: %v", err))
	}
	if models == nil {
		models = []contracts.ModelInfo{}
	}
	return c.JSON(http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handlePlan(c echo.Context) error {
	format := contracts.FormatType(c.QueryParam("format"))
	if format == "" {
		format = contracts.FormatJSON
	}
	plan, err := s.pipeline.Explain(c.QueryParam("text"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if format == contracts.FormatJSON {
		return c.JSON(http.StatusOK, plan)
	}
	out, err := contracts.FormatPlan(plan, format)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.String(http.StatusOK, out)
}

func (s *Server) handleCheck(c echo.Context) error {
	text, err := s.checkText(c)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Empty text")
	}

	res, err := s.pipeline.Run(c.Request().Context(), text)
	if err != nil {
		return s.runError(err)
	}
	body := CheckResponse{
		OK:               res.Valid(),
		Data:             res.Record,
		Warnings:         res.Warnings,
		ValidationErrors: res.Errors,
		Debug:            res.Diagnostics,
	}
	if !res.Valid() {
		return c.JSON(http.StatusUnprocessableEntity, body)
	}
	return c.JSON(http.StatusOK, body)
}

// checkText reads the document from a multipart "file" or a JSON body.
func (s *Server) checkText(c echo.Context) (string, error) {
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		if _, err := c.FormFile("file"); err == nil {
			return s.readUpload(c, "file")
		}
	}
	var req CheckRequest
	if err := c.Bind(&req); err != nil || c.Request().ContentLength == 0 {
		return "", echo.NewHTTPError(http.StatusBadRequest, "Provide a text file or JSON body with {'text': '...'}")
	}
	return req.Text, nil
}

func (s *Server) handleTest(c echo.Context) error {
	text, err := s.readUpload(c, "text_file")
	if err != nil {
		return err
	}
	goldText, err := s.readUpload(c, "gold_json")
	if err != nil {
		return err
	}
	gold, keys, err := contracts.DecodeGold([]byte(goldText))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Empty text")
	}

	res, err := s.pipeline.Run(c.Request().Context(), text)
	if err != nil {
		return s.runError(err)
	}
	rows, summary := contracts.CompareRecords(gold, res.Record, s.cfg.Pipeline.NumericTolerance, keys...)
	return c.JSON(http.StatusOK, TestResponse{
		OK:               true,
		Table:            rows,
		Summary:          summary,
		Warnings:         res.Warnings,
		ValidationErrors: res.Errors,
		Debug:            res.Diagnostics,
	})
}

func (s *Server) handleQA(c echo.Context) error {
	if s.qa == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "inference service is not configured")
	}
	var req QARequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" || strings.TrimSpace(req.Question) == "" || len(req.Keys) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "text, question and keys are required")
	}

	all := contracts.NameSections(contracts.SplitSections(req.Text))
	selected, err := contracts.SelectSections(all, req.Sections)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := s.qa.Ask(c.Request().Context(), selected, req.Question, req.Keys)
	if err != nil {
		return s.runError(err)
	}
	names := make([]string, len(selected))
	for i, sec := range selected {
		names[i] = sec.Name
	}
	return c.JSON(http.StatusOK, QAResponse{
		OK:       true,
		Answers:  res.Answers,
		Sections: names,
		Debug:    map[string]string{"prompt": res.Prompt, "raw": res.Raw},
	})
}

func (s *Server) readUpload(c echo.Context, field string) (string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("multipart field %q is required", field))
	}
	f, err := fh.Open()
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	text, err := contracts.DecodeText(fh.Filename, data)
	if err != nil {
		return "", s.runError(err)
	}
	return text, nil
}

// runError maps pipeline failures to HTTP statuses.
func (s *Server) runError(err error) error {
	switch {
	case errors.Is(err, contracts.ErrInferenceUnavailable):
		s.log.Warn("inference service failed", "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, fmt.Sprintf("inference service error: %v", err))
	case errors.Is(err, contracts.ErrEmptyDocument):
		return echo.NewHTTPError(http.StatusBadRequest, "Empty text")
	case errors.Is(err, contracts.ErrUnsupportedFormat):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	default:
		s.log.Error("request failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
