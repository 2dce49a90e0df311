// Package swagger holds the OpenAPI document served at /swagger. It is
// maintained by hand in swag's output format and should match the handler
// annotations; regenerate with `swag init -g cmd/api/main.go -o docs/swagger`.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/notifications": {
            "post": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "description": "Accepts an envelope for cluster-wide delivery. Requires a service token with the\nnotifications:publish scope; recipient tokens are rejected with 403. The\noriginator defaults to the token subject. A broker outage does not fail the\nrequest; the envelope is still delivered to streams on this instance.\nItem lifecycle types: ITEM_CREATED, ITEM_ASSIGNED, ITEM_UPDATED, ITEM_STATUS_UPDATED,\nITEM_REASSIGNED, ITEM_DELETED. Status changes use ITEM_STATUS_UPDATED, not\nITEM_UPDATED; clients matching on type should accept both.",
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "notifications"
                ],
                "summary": "Publish notification",
                "parameters": [
                    {
                        "description": "Envelope to publish",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/PublishRequest"
                        }
                    }
                ],
                "responses": {
                    "202": {
                        "description": "Accepted",
                        "schema": {
                            "$ref": "#/definitions/PublishResponse"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/ErrorResponse"
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "$ref": "#/definitions/ErrorResponse"
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "$ref": "#/definitions/ErrorResponse"
                        }
                    },
                    "422": {
                        "description": "Unprocessable Entity",
                        "schema": {
                            "$ref": "#/definitions/ErrorResponse"
                        }
                    }
                }
            }
        },
        "/notifications/presence/{recipient}": {
            "get": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "description": "Instances that recently announced open streams for the recipient, plus this instance's local view.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "notifications"
                ],
                "summary": "Recipient presence",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Recipient identity",
                        "name": "recipient",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/PresenceResponse"
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "$ref": "#/definitions/ErrorResponse"
                        }
                    },
                    "500": {
                        "description": "Internal Server Error",
                        "schema": {
                            "$ref": "#/definitions/ErrorResponse"
                        }
                    }
                }
            }
        },
        "/notifications/status": {
            "get": {
                "description": "Active streams, connected recipients, pending batched envelopes and broker health.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "notifications"
                ],
                "summary": "Instance status",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/fanout.Status"
                        }
                    }
                }
            }
        },
        "/notifications/stream": {
            "get": {
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "description": "Server-sent event stream of notifications for the authenticated recipient.\nResumes after Last-Event-ID (or lastEventId) when it is still in the replay window.",
                "produces": [
                    "text/event-stream"
                ],
                "tags": [
                    "notifications"
                ],
                "summary": "Open notification stream",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Resume after this envelope id",
                        "name": "Last-Event-ID",
                        "in": "header"
                    },
                    {
                        "type": "string",
                        "description": "Resume id for clients that cannot set headers",
                        "name": "lastEventId",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "Bearer token for clients that cannot set headers",
                        "name": "token",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "event stream",
                        "schema": {
                            "type": "string"
                        }
                    },
                    "401": {
                        "description": "Unauthorized",
                        "schema": {
                            "$ref": "#/definitions/ErrorResponse"
                        }
                    },
                    "501": {
                        "description": "Not Implemented",
                        "schema": {
                            "$ref": "#/definitions/ErrorResponse"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "string",
                    "example": "recipient is required"
                }
            }
        },
        "PresenceResponse": {
            "type": "object",
            "properties": {
                "instances": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    },
                    "example": [
                        "notifyhub-7d9f8-abcde"
                    ]
                },
                "localConnections": {
                    "type": "integer",
                    "example": 2
                },
                "recipient": {
                    "type": "string",
                    "example": "alice"
                },
                "replayLength": {
                    "type": "integer",
                    "example": 17
                }
            }
        },
        "PublishRequest": {
            "type": "object",
            "required": [
                "type"
            ],
            "properties": {
                "id": {
                    "type": "string",
                    "maxLength": 128,
                    "example": "0192f5c4-6f1e-7c3a-9d2b-5e8f1a2b3c4d"
                },
                "message": {
                    "type": "string",
                    "maxLength": 4096,
                    "example": "You were assigned \"Write docs\""
                },
                "originatorIdentity": {
                    "type": "string",
                    "maxLength": 255,
                    "example": "alice"
                },
                "recipient": {
                    "type": "string",
                    "maxLength": 255,
                    "example": "bob"
                },
                "subjectId": {
                    "type": "string",
                    "maxLength": 255,
                    "example": "42"
                },
                "subjectLabel": {
                    "type": "string",
                    "maxLength": 255,
                    "example": "Write docs"
                },
                "targetIdentity": {
                    "type": "string",
                    "maxLength": 255,
                    "example": "bob"
                },
                "type": {
                    "type": "string",
                    "maxLength": 64,
                    "example": "ITEM_ASSIGNED"
                }
            }
        },
        "PublishResponse": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string",
                    "example": "0192f5c4-6f1e-7c3a-9d2b-5e8f1a2b3c4d"
                },
                "recipient": {
                    "type": "string",
                    "example": "bob"
                },
                "timestamp": {
                    "type": "string",
                    "example": "2024-01-15T10:30:00"
                }
            }
        },
        "fanout.Status": {
            "type": "object",
            "properties": {
                "activeConnections": {
                    "type": "integer"
                },
                "connectedRecipients": {
                    "type": "integer"
                },
                "instanceId": {
                    "type": "string"
                },
                "messagingHealthy": {
                    "type": "boolean"
                },
                "pendingEnvelopes": {
                    "type": "integer"
                }
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api",
	Schemes:          []string{"http", "https"},
	Title:            "notifyhub API",
	Description:      "Real-time notification fan-out over server-sent events.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
