// Copyright (C) 2025 RxSage Health (engineering@rxsage.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package prescription

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the prescription endpoints with the router group.
//
// # Description
//
// Paths are flat (no version prefix): they are the wire contract with the
// deployed review frontend and predate this service.
//
// Endpoints:
//
//	POST /extract - Extract, validate, and persist a prescription
//	GET  /appointments - List stored appointment summaries
//	GET  /prescription/:appointment_id - Load one stored prescription
//	POST /update-prescription/:appointment_id - Replace a stored document
//	GET  /sku-list - Medicine catalog dump
//	GET  /procedure-sku-list - Procedure catalog dump
//	POST /smart_advice - Precaution/follow-up advice for a diagnosis
//	GET  /health - Liveness check
//	GET  /ready - Readiness check (catalogs loaded)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	rg.POST("/extract", handlers.HandleExtract)
	rg.GET("/appointments", handlers.HandleAppointments)
	rg.GET("/prescription/:appointment_id", handlers.HandlePrescription)
	rg.POST("/update-prescription/:appointment_id", handlers.HandleUpdate)
	rg.GET("/sku-list", handlers.HandleSKUList)
	rg.GET("/procedure-sku-list", handlers.HandleProcedureSKUList)
	rg.POST("/smart_advice", handlers.HandleSmartAdvice)
	rg.GET("/health", handlers.HandleHealth)
	rg.GET("/ready", handlers.HandleReady)
}
