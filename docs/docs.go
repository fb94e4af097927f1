// Package docs registers the OpenAPI description of the TaxAssist HTTP API.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/chat": {
            "post": {
                "description": "Streams the completion for a conversation as server-sent events: delta frames carrying text, closed by a done or an error frame.",
                "consumes": ["application/json"],
                "produces": ["text/event-stream"],
                "summary": "Stream a chat completion",
                "parameters": [
                    {
                        "in": "body",
                        "name": "request",
                        "required": true,
                        "schema": {"$ref": "#/definitions/ChatRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "event stream"},
                    "400": {"description": "invalid conversation", "schema": {"$ref": "#/definitions/Error"}},
                    "413": {"description": "request body too large", "schema": {"$ref": "#/definitions/Error"}},
                    "502": {"description": "completion model unavailable", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/api/chat/ws": {
            "get": {
                "description": "WebSocket variant of /api/chat. Each text message is a ChatRequest; replies are JSON frames of type delta, done or error. A request sent while a reply is streaming is dropped with a busy frame.",
                "summary": "Chat over a WebSocket",
                "responses": {
                    "101": {"description": "switching protocols"}
                }
            }
        },
        "/api/upload": {
            "post": {
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "summary": "Upload a tax document",
                "parameters": [
                    {"in": "formData", "name": "file", "type": "file", "required": true}
                ],
                "responses": {
                    "200": {"description": "stored", "schema": {"$ref": "#/definitions/UploadResponse"}},
                    "400": {"description": "missing or empty file", "schema": {"$ref": "#/definitions/Error"}},
                    "413": {"description": "file too large", "schema": {"$ref": "#/definitions/Error"}},
                    "415": {"description": "unsupported file type", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/api/attachments/{id}/{name}": {
            "get": {
                "summary": "Fetch an uploaded document",
                "parameters": [
                    {"in": "path", "name": "id", "type": "string", "required": true},
                    {"in": "path", "name": "name", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "document bytes"},
                    "404": {"description": "not found", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/api/suggestions": {
            "get": {
                "produces": ["application/json"],
                "summary": "Suggested starter questions",
                "responses": {
                    "200": {"description": "questions", "schema": {"$ref": "#/definitions/Suggestions"}}
                }
            }
        },
        "/health": {
            "get": {
                "summary": "Liveness probe",
                "responses": {"200": {"description": "ok"}}
            }
        }
    },
    "definitions": {
        "Attachment": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "url": {"type": "string"},
                "contentType": {"type": "string"}
            }
        },
        "Message": {
            "type": "object",
            "required": ["role", "content"],
            "properties": {
                "role": {"type": "string", "enum": ["system", "user", "assistant"]},
                "content": {"type": "string"},
                "attachments": {"type": "array", "items": {"$ref": "#/definitions/Attachment"}}
            }
        },
        "ChatRequest": {
            "type": "object",
            "required": ["messages"],
            "properties": {
                "messages": {"type": "array", "items": {"$ref": "#/definitions/Message"}},
                "document_text": {"type": "string"}
            }
        },
        "UploadResponse": {
            "type": "object",
            "properties": {
                "attachment": {"$ref": "#/definitions/Attachment"},
                "message": {"type": "string"},
                "document_text": {"type": "string"}
            }
        },
        "Suggestions": {
            "type": "object",
            "properties": {
                "questions": {"type": "array", "items": {"type": "string"}}
            }
        },
        "Error": {
            "type": "object",
            "properties": {
                "error": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "TaxAssist API",
	Description:      "Chat relay, document upload and suggestions for the TaxAssist assistant.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
