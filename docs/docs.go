// Package docs holds the swagger document served under /swagger/.
// Regenerate with: swag init -g cmd/server/main.go
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
        "/healthz": {
            "get": {
                "produces": ["text/plain"],
                "tags": ["system"],
                "summary": "Liveness probe",
                "responses": {"200": {"description": "ok", "schema": {"type": "string"}}}
            }
        },
        "/info": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Server identity",
                "responses": {"200": {"description": "OK", "schema": {"type": "string"}}}
            }
        },
        "/users": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Create user",
                "parameters": [
                    {"description": "User payload", "name": "user", "in": "body", "required": true, "schema": {"$ref": "#/definitions/model.User"}}
                ],
                "responses": {
                    "200": {"description": "id of the new user", "schema": {"type": "string"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/users/": {
            "get": {
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Get a user by id, or list every user",
                "parameters": [{"type": "string", "description": "User ID", "name": "id", "in": "query"}],
                "responses": {
                    "200": {"description": "without id", "schema": {"$ref": "#/definitions/model.UserCollection"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            },
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Update user by id",
                "parameters": [
                    {"type": "string", "description": "User ID", "name": "id", "in": "query", "required": true},
                    {"description": "Fields to change", "name": "update", "in": "body", "required": true, "schema": {"$ref": "#/definitions/model.UserUpdate"}}
                ],
                "responses": {
                    "200": {"description": "modified count", "schema": {"type": "integer"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Delete user by id",
                "parameters": [{"type": "string", "description": "User ID", "name": "id", "in": "query", "required": true}],
                "responses": {
                    "200": {"description": "deleted count", "schema": {"type": "integer"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/users/authenticate": {
            "post": {
                "description": "Returns the user whose credentials match. No token is issued.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Authenticate a user",
                "parameters": [
                    {"description": "Credentials", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/model.UserAuth"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.User"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/users/{username}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Get user by username",
                "parameters": [{"type": "string", "description": "Username", "name": "username", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.User"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            },
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Update user by username",
                "parameters": [
                    {"type": "string", "description": "Username", "name": "username", "in": "path", "required": true},
                    {"description": "Fields to change", "name": "update", "in": "body", "required": true, "schema": {"$ref": "#/definitions/model.UserUpdate"}}
                ],
                "responses": {
                    "200": {"description": "modified count", "schema": {"type": "integer"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            },
            "delete": {
                "description": "The username \"all\" deletes every user except the admin.",
                "produces": ["application/json"],
                "tags": ["users"],
                "summary": "Delete user by username",
                "parameters": [{"type": "string", "description": "Username", "name": "username", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "deleted count", "schema": {"type": "integer"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "errors.ErrorResponse": {
            "type": "object",
            "properties": {"code": {"type": "string"}, "error": {"type": "string"}}
        },
        "model.User": {
            "type": "object",
            "required": ["password", "username"],
            "properties": {
                "admin": {"type": "boolean"},
                "id": {"type": "string"},
                "password": {"type": "string", "maxLength": 72},
                "username": {"type": "string", "maxLength": 255}
            }
        },
        "model.UserAuth": {
            "type": "object",
            "required": ["password", "username"],
            "properties": {"password": {"type": "string"}, "username": {"type": "string"}}
        },
        "model.UserCollection": {
            "type": "object",
            "properties": {"users": {"type": "array", "items": {"$ref": "#/definitions/model.User"}}}
        },
        "model.UserUpdate": {
            "type": "object",
            "properties": {"password": {"type": "string", "maxLength": 72, "minLength": 1}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8000",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "User Service API",
	Description:      "User account management with credential authentication.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
