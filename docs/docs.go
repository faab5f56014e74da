// Package docs registers the OpenAPI document served at /swagger/doc.json.
// Regenerate with: swag init -g cmd/api/main.go -o docs
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
        "/callbacks/completion": {
            "post": {
                "description": "Receives a push notification from the compute vendor. Duplicates are expected and safe.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["callbacks"],
                "summary": "Upstream completion callback",
                "parameters": [
                    {
                        "description": "vendor payload",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"type": "object"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.callbackResp"}},
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/httptransport.callbackResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs": {
            "post": {
                "description": "Records a job already handed to the upstream API so completions can be matched to it.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Register a submitted generation job",
                "parameters": [
                    {
                        "description": "job",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/httptransport.registerJobDTO"}
                    }
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/httptransport.registerJobResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs/{id}": {
            "get": {
                "description": "Returns the job with its delivery bookkeeping.",
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get job by id",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.jobResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        },
        "/jobs/{id}/deliver": {
            "post": {
                "description": "Runs the atomic delivery for a succeeded job. A delivered job answers ALREADY_DELIVERED and is not resent.",
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Retry delivery of a job result",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.deliverResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httptransport.apiError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/httptransport.apiError"}}
                }
            }
        }
    },
    "definitions": {
        "httptransport.apiError": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "request_id": {"type": "string"}
            }
        },
        "httptransport.callbackResp": {
            "type": "object",
            "properties": {
                "status": {"type": "string"}
            }
        },
        "httptransport.deliverResp": {
            "type": "object",
            "properties": {
                "outcome": {"type": "string", "enum": ["DELIVERED", "ALREADY_DELIVERED", "LOCK_LOST", "FAILED_RELEASED"]}
            }
        },
        "httptransport.registerJobDTO": {
            "type": "object",
            "properties": {
                "category": {"type": "string", "enum": ["image", "video", "audio"]},
                "external_task_id": {"type": "string"},
                "user_id": {"type": "string"}
            }
        },
        "httptransport.registerJobResp": {
            "type": "object",
            "properties": {
                "id": {"type": "string"}
            }
        },
        "httptransport.jobResp": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "user_id": {"type": "string"},
                "external_task_id": {"type": "string"},
                "category": {"type": "string"},
                "state": {"type": "string"},
                "raw_status": {"type": "string"},
                "result_ref": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"},
                "received_at": {"type": "string"},
                "delivering_at": {"type": "string"},
                "delivered_at": {"type": "string"},
                "delivery_attempts": {"type": "integer"},
                "last_delivery_error": {"type": "string"}
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
	Title:            "Job Delivery Service API",
	Description:      "Delivers finished generation results to users at most once.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
