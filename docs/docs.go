// Package docs registers the Swagger document served under /swagger/.
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
        "/orgs/{orgId}/balance": {
            "get": {
                "description": "Retrieves the current credit balance of an organization",
                "produces": ["application/json"],
                "tags": ["wallets"],
                "summary": "Get organization balance",
                "parameters": [
                    {"type": "string", "description": "Organization ID (UUID)", "name": "orgId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.BalanceResponse"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": true}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/orgs/{orgId}/credits": {
            "post": {
                "description": "Adds credits to an organization wallet and records a credit ledger entry",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["wallets"],
                "summary": "Credit an organization wallet",
                "parameters": [
                    {"type": "string", "description": "Organization ID (UUID)", "name": "orgId", "in": "path", "required": true},
                    {"description": "Credit Request", "name": "credit", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.CreditRequestBody"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/models.CreditResponse"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": true}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/orgs/{orgId}/stats": {
            "get": {
                "description": "Aggregated message billing counters for an organization",
                "produces": ["application/json"],
                "tags": ["billing"],
                "summary": "Get billing statistics",
                "parameters": [
                    {"type": "string", "description": "Organization ID (UUID)", "name": "orgId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.BillingStats"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": true}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/orgs/{orgId}/ledger": {
            "get": {
                "description": "Newest-first ledger entries of an organization",
                "produces": ["application/json"],
                "tags": ["wallets"],
                "summary": "Get ledger history",
                "parameters": [
                    {"type": "string", "description": "Organization ID (UUID)", "name": "orgId", "in": "path", "required": true},
                    {"type": "integer", "description": "Maximum number of entries (default 50, max 500)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.LedgerResponse"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": true}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/orgs/{orgId}/ledger/verify": {
            "get": {
                "description": "Checks that the wallet balance equals credits minus debits",
                "produces": ["application/json"],
                "tags": ["wallets"],
                "summary": "Verify ledger balance",
                "parameters": [
                    {"type": "string", "description": "Organization ID (UUID)", "name": "orgId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.BalanceCheck"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": true}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/orgs/{orgId}/alerts": {
            "get": {
                "produces": ["application/json"],
                "tags": ["billing"],
                "summary": "List balance alerts",
                "parameters": [
                    {"type": "string", "description": "Organization ID (UUID)", "name": "orgId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/models.Alert"}}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": true}},
                    "500": {"description": "Internal Server Error", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/reconcile": {
            "post": {
                "description": "Sweeps pending and failed outbound messages of one organization, or of all of them with org_id \"all\"",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["billing"],
                "summary": "Reconcile message billing",
                "parameters": [
                    {"description": "Reconcile Request", "name": "reconcile", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.ReconcileRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.ReconcileSummary"}},
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/models.ReconcileAcceptedResponse"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": true}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        },
        "/messages/{messageId}/bill": {
            "post": {
                "description": "Runs the billing processor for one message and returns the outcome",
                "produces": ["application/json"],
                "tags": ["billing"],
                "summary": "Bill a message",
                "parameters": [
                    {"type": "string", "description": "Message ID", "name": "messageId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.BillingOutcome"}},
                    "402": {"description": "Payment Required", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": true}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        }
    },
    "definitions": {
        "models.Alert": {
            "type": "object",
            "properties": {
                "org_id": {"type": "string"},
                "alert_type": {"type": "string"},
                "threshold": {"type": "number"},
                "current_balance": {"type": "number"},
                "is_active": {"type": "boolean"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "models.BalanceCheck": {
            "type": "object",
            "properties": {
                "org_id": {"type": "string"},
                "balance": {"type": "number"},
                "credits": {"type": "number"},
                "debits": {"type": "number"},
                "consistent": {"type": "boolean"}
            }
        },
        "models.BalanceResponse": {
            "type": "object",
            "properties": {
                "org_id": {"type": "string"},
                "balance": {"type": "number"},
                "currency": {"type": "string"}
            }
        },
        "models.BillingOutcome": {
            "type": "object",
            "properties": {
                "message_id": {"type": "string"},
                "org_id": {"type": "string"},
                "status": {"type": "string"},
                "noop": {"type": "boolean"},
                "replayed": {"type": "boolean"},
                "reason": {"type": "string"},
                "tokens_used": {"type": "integer"},
                "cost_credits": {"type": "integer"},
                "new_balance": {"type": "number"},
                "charged_at": {"type": "string"}
            }
        },
        "models.BillingStats": {
            "type": "object",
            "properties": {
                "org_id": {"type": "string"},
                "total_messages": {"type": "integer"},
                "pending": {"type": "integer"},
                "charged": {"type": "integer"},
                "failed": {"type": "integer"},
                "skipped": {"type": "integer"},
                "total_credits_charged": {"type": "integer"},
                "total_tokens_used": {"type": "integer"}
            }
        },
        "models.CreditRequestBody": {
            "type": "object",
            "properties": {
                "amount": {"type": "number"},
                "description": {"type": "string", "maxLength": 255}
            }
        },
        "models.CreditResponse": {
            "type": "object",
            "properties": {
                "org_id": {"type": "string"},
                "new_balance": {"type": "number"},
                "currency": {"type": "string"},
                "entry_id": {"type": "string"}
            }
        },
        "models.LedgerEntry": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "org_id": {"type": "string"},
                "message_id": {"type": "string"},
                "kind": {"type": "string"},
                "amount": {"type": "number"},
                "tokens": {"type": "integer"},
                "balance_after": {"type": "number"},
                "description": {"type": "string"},
                "created_at": {"type": "string"}
            }
        },
        "models.LedgerResponse": {
            "type": "object",
            "properties": {
                "org_id": {"type": "string"},
                "entries": {"type": "array", "items": {"$ref": "#/definitions/models.LedgerEntry"}}
            }
        },
        "models.ReconcileAcceptedResponse": {
            "type": "object",
            "properties": {
                "scope": {"type": "string"},
                "status": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "models.ReconcileRequest": {
            "type": "object",
            "required": ["org_id"],
            "properties": {
                "org_id": {"type": "string"},
                "async": {"type": "boolean"}
            }
        },
        "models.ReconcileSummary": {
            "type": "object",
            "properties": {
                "scope": {"type": "string"},
                "organizations": {"type": "integer"},
                "processed": {"type": "integer"},
                "charged": {"type": "integer"},
                "failed": {"type": "integer"},
                "skipped": {"type": "integer"},
                "already_processed": {"type": "integer"},
                "errors": {"type": "integer"},
                "total_credits_charged": {"type": "integer"},
                "locked_orgs": {"type": "array", "items": {"type": "string"}},
                "error": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http"},
	Title:            "Billing API",
	Description:      "Per-organization credit wallets and message billing.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
