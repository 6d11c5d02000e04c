// Package docs holds the Swagger document for the worker's ops API, in the
// layout produced by swaggo/swag and registered with swag at init.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/stats": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Ops"],
                "summary": "Worker statistics",
                "operationId": "stats",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.StatsResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/subscriptions/attention": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Subscriptions excluded from sweeps after repeated invalid-range failures, most recently checked first.",
                "produces": ["application/json"],
                "tags": ["Subscriptions"],
                "summary": "List flagged subscriptions",
                "operationId": "listAttention",
                "parameters": [
                    {"maximum": 500, "minimum": 1, "type": "integer", "description": "Max results (default 100)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.AttentionResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/subscriptions/{id}/reset": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Clears the attention flag and failure streak; the subscription is due on the next sweep.",
                "tags": ["Subscriptions"],
                "summary": "Reset a flagged subscription",
                "operationId": "resetSubscription",
                "parameters": [
                    {"minimum": 1, "type": "integer", "description": "Subscription ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content", "schema": {"type": "string"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Subscription not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/sweep": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Runs a sweep synchronously. Returns 409 when a sweep is already running.",
                "produces": ["application/json"],
                "tags": ["Ops"],
                "summary": "Run one sweep now",
                "operationId": "sweep",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.SweepResponse"}},
                    "404": {"description": "Scheduler not attached", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Sweep in progress", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.Subscription": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "user_id": {"type": "integer"},
                "origin": {"type": "string"},
                "destination": {"type": "string"},
                "range_from": {"type": "string"},
                "range_to": {"type": "string"},
                "direct": {"type": "boolean"},
                "max_price": {"type": "number"},
                "currency": {"type": "string"},
                "check_interval_minutes": {"type": "integer"},
                "active": {"type": "boolean"},
                "needs_attention": {"type": "boolean"},
                "consecutive_failures": {"type": "integer"},
                "last_error": {"type": "string"},
                "next_check_at": {"type": "string"},
                "last_checked_at": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "handlers.AttentionResponse": {
            "type": "object",
            "properties": {
                "count": {"type": "integer", "example": 1},
                "subscriptions": {"type": "array", "items": {"$ref": "#/definitions/domain.Subscription"}}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "not_found"},
                "message": {"type": "string", "example": "subscription not found"},
                "request_id": {"type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"}
            }
        },
        "handlers.StatsResponse": {
            "type": "object",
            "properties": {
                "total": {"type": "integer"},
                "active": {"type": "integer"},
                "due": {"type": "integer"},
                "needs_attention": {"type": "integer"},
                "dedup_records": {"type": "integer"},
                "last_checked_at": {"type": "string"},
                "scheduler": {"type": "string", "example": "idle"}
            }
        },
        "handlers.SweepResponse": {
            "type": "object",
            "properties": {
                "due": {"type": "integer", "example": 12},
                "checked": {"type": "integer", "example": 11},
                "failed": {"type": "integer", "example": 1},
                "cancelled": {"type": "integer", "example": 0},
                "notified": {"type": "integer", "example": 3},
                "purged": {"type": "integer", "example": 40}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by the ops token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Flymate Worker Ops API",
	Description:      "Operator endpoints of the flight price-watch worker.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
