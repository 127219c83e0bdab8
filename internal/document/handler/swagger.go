package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the collaboration API.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(r gin.IRoutes) {
	r.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	r.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>cirkel-collab - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// Minimal OpenAPI document for the collaboration endpoints. Every /api route
// takes a bearer token.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "cirkel-collab", "version": "v0.1.0" },
  "components": { "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer" } } },
  "security": [ { "bearer": [] } ],
  "paths": {
    "/api/documents": {
      "get": { "summary": "List documents visible to the caller", "responses": { "200": { "description": "documents" } } },
      "post": {
        "summary": "Create a draft document",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"title":{"type":"string"},"content":{"type":"string"},"collaborators":{"type":"array","items":{"type":"string"}},"permissions":{"type":"object"}}}}}},
        "responses": { "201": { "description": "created" }, "400": { "description": "invalid argument" } }
      }
    },
    "/api/documents/{id}": {
      "get": { "summary": "Get a document", "responses": { "200": { "description": "document" }, "403": { "description": "permission denied" }, "404": { "description": "not found" } } },
      "delete": { "summary": "Delete a document (creator only)", "responses": { "204": { "description": "deleted" } } }
    },
    "/api/documents/{id}/grants": {
      "post": { "summary": "Grant access (creator only)", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"collaborators":{"type":"array","items":{"type":"string"}},"canEdit":{"type":"array","items":{"type":"string"}},"canComment":{"type":"array","items":{"type":"string"}},"canApprove":{"type":"array","items":{"type":"string"}}}}}}}, "responses": { "200": { "description": "document" } } }
    },
    "/api/documents/{id}/edits": {
      "get": { "summary": "Edit log", "responses": { "200": { "description": "edits" } } },
      "post": {
        "summary": "Apply an edit",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["kind"],"properties":{"kind":{"type":"string","enum":["insert","delete","replace"]},"position":{"type":"integer"},"content":{"type":"string"},"previousContent":{"type":"string"}}}}}},
        "responses": { "200": { "description": "edit and updated document" }, "409": { "description": "edit conflict" }, "422": { "description": "document is published" } }
      }
    },
    "/api/documents/{id}/comments": {
      "get": { "summary": "List comments", "responses": { "200": { "description": "comments" } } },
      "post": { "summary": "Add a comment", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"content":{"type":"string"},"anchor":{"type":"integer"}}}}}}, "responses": { "201": { "description": "comment" } } }
    },
    "/api/documents/{id}/comments/{commentId}/resolve": {
      "post": { "summary": "Resolve a comment", "responses": { "200": { "description": "comment" }, "422": { "description": "already resolved" } } }
    },
    "/api/documents/{id}/session": { "get": { "summary": "Active editors", "responses": { "200": { "description": "editors" } } } },
    "/api/documents/{id}/session/join": { "post": { "summary": "Join the editing session", "responses": { "200": { "description": "editors" } } } },
    "/api/documents/{id}/session/leave": { "post": { "summary": "Leave the editing session", "responses": { "204": { "description": "left" } } } },
    "/api/documents/{id}/lock": {
      "get": { "summary": "Current lock", "responses": { "200": { "description": "lock or null" } } },
      "post": { "summary": "Acquire the advisory lock", "responses": { "200": { "description": "{\"acquired\": bool}" } } },
      "delete": { "summary": "Release the advisory lock", "responses": { "200": { "description": "{\"released\": bool}" } } }
    },
    "/api/documents/{id}/review": { "get": { "summary": "Review history", "responses": { "200": { "description": "records" } } } },
    "/api/documents/{id}/review/request": { "post": { "summary": "Request review (creator only)", "responses": { "200": { "description": "document" } } } },
    "/api/documents/{id}/review/approve": { "post": { "summary": "Approve and publish", "responses": { "200": { "description": "document" } } } },
    "/api/documents/{id}/review/reject": { "post": { "summary": "Reject back to in_progress", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"reason":{"type":"string"}}}}}}, "responses": { "200": { "description": "document" } } } },
    "/api/documents/{id}/snapshot": { "get": { "summary": "Signed link to the published snapshot", "responses": { "200": { "description": "url" }, "501": { "description": "archive not configured" } } } },
    "/api/documents/{id}/events": { "get": { "summary": "Server-sent event stream", "responses": { "200": { "description": "text/event-stream" } } } },
    "/api/auth/logout": { "post": { "summary": "Revoke the caller's access token", "responses": { "200": { "description": "logged out" } } } }
  }
}`
