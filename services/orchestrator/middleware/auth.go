// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides gin middleware for the homeops API.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	RequestID ──► X-Request-ID echoed, id stored in the gin context
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► token from "Authorization: Bearer <token>"
//	   ├─► provider.Validate(ctx, token)
//	   └─► AuthInfo stored in the gin context
//	           │
//	           ▼
//	       Handler (GetAuthInfo)
//
// With the default NopAuthProvider every request is the local user, so a
// homeowner running the server on their own machine needs no token.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/homeops/pkg/extensions"
	"github.com/gin-gonic/gin"
)

const authInfoKey = "homeops_auth_info"

// SetAuthInfo stores the caller identity in the gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the caller identity, or nil when the request did not
// pass through AuthMiddleware.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// AuthMiddleware validates the bearer token with provider and aborts with
// 401 on failure. The response body never says why a token was rejected.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo, err := provider.Validate(c.Request.Context(), extractBearerToken(c))
		if err != nil {
			if !errors.Is(err, extensions.ErrUnauthorized) {
				slog.Error("auth provider failed", "error", err, "request_id", GetRequestID(c))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// extractBearerToken returns the token from "Authorization: Bearer <token>"
// (scheme case-insensitive) or "" when absent or malformed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
