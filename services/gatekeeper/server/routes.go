// Copyright (C) 2026 Tessellate AI (oss@tessellate.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"github.com/gin-gonic/gin"
)

// NewRouter builds the service router.
//
// Endpoints:
//
//	POST /api/v1/validate - Validate a candidate patch
//	GET  /healthz - Health check
func NewRouter(handlers *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	{
		v1.POST("/validate", handlers.HandleValidate)
	}
	router.GET("/healthz", handlers.HandleHealth)

	return router
}
