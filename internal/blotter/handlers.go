// Package blotter is the HTTP callback surface client-side code uses to read
// its experiment buckets and to score conversions.
//
// Both endpoints share one wire contract: a missing or malformed
// parameter answers 400 with the body "hc svnt dracones", an unknown
// experiment or undeclared conversion answers 404 with no body.
package blotter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dyluth/bingo/internal/engine"
	"github.com/gin-gonic/gin"
)

const (
	contentType = "text/json"

	// badRequestBody is returned verbatim with every 400.
	badRequestBody = `"hc svnt dracones"`
)

// Engine is the part of the bingo engine the handlers call.
type Engine interface {
	ABTest(ctx context.Context, caller engine.Caller, name string, def *engine.Definition) (engine.Result, error)
	Bingo(ctx context.Context, caller engine.Caller, conversion string) (int, error)
	Ping(ctx context.Context) error
}

// Handler serves the blotter endpoints.
type Handler struct {
	engine Engine
	logger *slog.Logger
}

// NewHandler creates the blotter handlers.
func NewHandler(eng Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: eng, logger: logger.With("component", "blotter")}
}

// ABTest handles POST|GET /blotter/ab_test.
//
// Parameters (form or query): canonical_name, and on creation only
// alternative_params and conversion_names (legacy: conversion_name).
// Answers 201 with the caller's alternative when this request created the
// experiment, 200 when it already existed.
func (h *Handler) ABTest(c *gin.Context) {
	c.Header("Content-Type", contentType)

	name := param(c, "canonical_name")
	if name == "" {
		badRequest(c)
		return
	}

	conversions := param(c, "conversion_names")
	if conversions == "" {
		conversions = param(c, "conversion_name")
	}

	def, err := engine.ParseDefinition(param(c, "alternative_params"), conversions)
	if err != nil {
		h.logger.Debug("rejected ab_test parameters", "experiment", name, "error", err)
		badRequest(c)
		return
	}

	res, err := h.engine.ABTest(c.Request.Context(), callerFrom(c), name, def)
	if err != nil {
		h.fail(c, "ab_test", err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
		h.logger.Info("blotter created ab_test", "event_type", "experiment_created", "experiment", name)
	}
	c.Data(status, contentType, res.Alternative)
}

// Bingo handles POST /blotter/bingo.
//
// The convert parameter is a JSON string naming the conversion. Answers 204
// whenever some live experiment declares the conversion, whether or not the
// caller was enrolled in any of them.
func (h *Handler) Bingo(c *gin.Context) {
	c.Header("Content-Type", contentType)

	raw := param(c, "convert")
	if raw == "" {
		badRequest(c)
		return
	}

	var conversion string
	if err := json.Unmarshal([]byte(raw), &conversion); err != nil || conversion == "" {
		badRequest(c)
		return
	}

	if _, err := h.engine.Bingo(c.Request.Context(), callerFrom(c), conversion); err != nil {
		h.fail(c, "bingo", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Health handles GET /healthz.
// Returns 200 OK if the store is reachable, 503 Service Unavailable otherwise.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.engine.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status: "unhealthy",
			Store:  "disconnected",
			Error:  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Store: "connected"})
}

// fail maps engine result kinds onto the wire contract.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		badRequest(c)
	case errors.Is(err, engine.ErrNotFound):
		c.Status(http.StatusNotFound)
	default:
		h.logger.Error("blotter request failed", "event_type", "request_failed", "op", op, "error", err)
		c.Status(http.StatusInternalServerError)
	}
}

func badRequest(c *gin.Context) {
	c.Data(http.StatusBadRequest, contentType, []byte(badRequestBody))
}

// param reads a form value, falling back to the query string.
func param(c *gin.Context, key string) string {
	if v, ok := c.GetPostForm(key); ok && v != "" {
		return v
	}
	return c.Query(key)
}
