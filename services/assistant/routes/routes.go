// Copyright (C) 2025 Bakhmaro AI Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes maps the assistant HTTP surface onto its handlers.
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akaki911/ai-bakhmaro-sub001/services/assistant/handlers"
)

// SetupRoutes registers every endpoint of the assistant service.
//
// # Inputs
//
//   - router: The gin engine, already carrying middleware.
//   - stream: Streaming session handler.
//   - improve: Autopatch handler.
func SetupRoutes(router *gin.Engine, stream *handlers.StreamHandler, improve *handlers.ImproveHandler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "assistant"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/assist/stream", stream.HandleAssistStream)

		improveGroup := v1.Group("/improve")
		{
			improveGroup.POST("/proposals", improve.HandlePropose)
			improveGroup.GET("/proposals/:id", improve.HandleGetProposal)
			improveGroup.POST("/proposals/:id/apply", improve.HandleApply)
			improveGroup.GET("/history", improve.HandleHistory)
		}
	}
}
