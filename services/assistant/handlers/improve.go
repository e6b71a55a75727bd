// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/akaki911/ai-bakhmaro-sub001/services/assistant/datatypes"
	"github.com/akaki911/ai-bakhmaro-sub001/services/assistant/observability"
	"github.com/akaki911/ai-bakhmaro-sub001/services/autopatch"
)

// historyTailSize is how many recent log entries ride along on an apply
// response.
const historyTailSize = 5

// ImproveHandler serves the self-improvement endpoints: proposal
// registration, patch application, and the execution history.
type ImproveHandler struct {
	store   *autopatch.Store
	applier *autopatch.Applier
	metrics *observability.Metrics
	tracer  oteltrace.Tracer
}

// NewImproveHandler wires the improve endpoints.
func NewImproveHandler(store *autopatch.Store, applier *autopatch.Applier, metrics *observability.Metrics) *ImproveHandler {
	return &ImproveHandler{
		store:   store,
		applier: applier,
		metrics: metrics,
		tracer:  otel.Tracer("assistant/handlers"),
	}
}

// HandlePropose serves POST /v1/improve/proposals.
//
// # Description
//
// Registers a change proposal. The patch must parse as a unified diff
// before the proposal is accepted; nothing touches disk here.
func (h *ImproveHandler) HandlePropose(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "improve.propose")
	defer span.End()

	// ===== Step 1: Parse and validate =====
	var req datatypes.ProposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// ===== Step 2: The patch must at least parse =====
	parsed, err := autopatch.ParsePatch(req.Patch)
	if err != nil {
		h.metrics.PatchApplies.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	files := make([]string, 0, len(parsed))
	for _, fp := range parsed {
		files = append(files, fp.Path)
	}

	// ===== Step 3: Store =====
	p := h.store.Remember(&autopatch.Proposal{
		Title:    req.Title,
		Summary:  req.Summary,
		Severity: req.Severity,
		Evidence: req.Evidence,
		Files:    files,
		Patch:    req.Patch,
	})
	h.metrics.ProposalCount.Set(float64(h.store.Len()))
	span.SetAttributes(attribute.String("proposal.id", p.ID))
	slog.Info("proposal registered", "proposal_id", p.ID, "title", p.Title, "files", len(files))

	c.JSON(http.StatusCreated, gin.H{"id": p.ID, "status": p.Status})
}

// HandleApply serves POST /v1/improve/proposals/:id/apply.
//
// # Description
//
// Applies the proposal's patch (or a body override) through the strict
// applier. 200 when every file applied, 207 on a partial result, 422
// when every file failed. The proposal becomes applied only on a fully
// clean run.
func (h *ImproveHandler) HandleApply(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "improve.apply")
	defer span.End()

	// ===== Step 1: Look up the proposal =====
	id := c.Param("id")
	proposal, ok := h.store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal not found"})
		return
	}
	span.SetAttributes(attribute.String("proposal.id", id))

	// ===== Step 2: Resolve the patch source =====
	var override datatypes.ApplyRequest
	if err := c.ShouldBindJSON(&override); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	patch, patchSource := override.ResolvePatch(proposal.Patch)
	span.SetAttributes(attribute.String("patch.source", patchSource))

	// ===== Step 3: Apply =====
	report, err := h.applier.ApplyPatch(ctx, id, patch)
	if err != nil {
		h.metrics.PatchApplies.WithLabelValues("rejected").Inc()
		span.SetStatus(codes.Error, err.Error())

		var parseErr *autopatch.ParseError
		var pathErr *autopatch.PathError
		switch {
		case errors.Is(err, autopatch.ErrEmptyPatch), errors.As(err, &parseErr), errors.As(err, &pathErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	// ===== Step 4: Record the outcome =====
	allApplied := report.AllApplied()
	h.store.Update(id, func(p *autopatch.Proposal) {
		if allApplied {
			p.Status = autopatch.StatusApplied
		}
		p.LastExecution = report
	})
	h.metrics.PatchDuration.Observe(report.Duration.Seconds())

	status := http.StatusOK
	outcome := "applied"
	switch {
	case allApplied:
	case len(report.AppliedFiles) > 0:
		status = http.StatusMultiStatus
		outcome = "partial"
	default:
		status = http.StatusUnprocessableEntity
		outcome = "failed"
	}
	h.metrics.PatchApplies.WithLabelValues(outcome).Inc()

	c.JSON(status, gin.H{
		"success":      allApplied,
		"appliedFiles": report.AppliedFiles,
		"failedFiles":  report.FailedFiles,
		"results":      report.Results,
		"patchSource":  patchSource,
		"historyTail":  h.applier.Log().Recent(historyTailSize),
		"durationMs":   report.Duration.Milliseconds(),
	})
}

// HandleHistory serves GET /v1/improve/history.
func (h *ImproveHandler) HandleHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	entries := h.applier.Log().Recent(limit)
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// HandleGetProposal serves GET /v1/improve/proposals/:id.
func (h *ImproveHandler) HandleGetProposal(c *gin.Context) {
	proposal, ok := h.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal not found"})
		return
	}
	c.JSON(http.StatusOK, proposal)
}
