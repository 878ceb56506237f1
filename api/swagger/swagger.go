package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Read Aloud API",
        "description": "Reading practice backend: stories, assignments, recordings, reviews and student flags.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Auth", "description": "Login and account management"},
        {"name": "Stories", "description": "Story catalog and narration audio"},
        {"name": "Classes", "description": "Class rosters"},
        {"name": "Assignments", "description": "Assignments, join codes and progress"},
        {"name": "Recordings", "description": "Student uploads and the review workflow"},
        {"name": "Analytics", "description": "Student flags and the dashboard"},
        {"name": "Reports", "description": "CSV, JSON and PDF exports"},
        {"name": "Audio Jobs", "description": "Bulk narration generation"},
        {"name": "Health", "description": "Liveness and readiness"}
    ],
    "paths": {
        "/health": {"get": {"tags": ["Health"], "summary": "Liveness summary", "security": [], "responses": {"200": {"description": "OK"}}}},
        "/health/live": {"get": {"tags": ["Health"], "summary": "Liveness probe", "security": [], "responses": {"200": {"description": "OK"}}}},
        "/health/ready": {"get": {"tags": ["Health"], "summary": "Readiness probe", "security": [], "responses": {"200": {"description": "Ready"}, "503": {"description": "A dependency is down"}}}},
        "/health/detailed": {"get": {"tags": ["Health"], "summary": "Dependency checks, queues and counters (admin)", "responses": {"200": {"description": "OK"}}}},
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Exchange credentials for a bearer token",
                "security": [],
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Invalid credentials"}}
            }
        },
        "/auth/register": {
            "post": {
                "tags": ["Auth"],
                "summary": "Create a teacher or student account (admin)",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterRequest"}}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Email taken"}}
            }
        },
        "/auth/me": {"get": {"tags": ["Auth"], "summary": "Current user", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}},
        "/stories": {
            "get": {
                "tags": ["Stories"],
                "summary": "List active stories",
                "parameters": [
                    {"name": "grade_level", "in": "query", "type": "string"},
                    {"name": "difficulty", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "post": {
                "tags": ["Stories"],
                "summary": "Publish a story (staff)",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateStoryRequest"}}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/stories/{id}": {"get": {"tags": ["Stories"], "summary": "Get a story", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}}},
        "/stories/{id}/audio/{voice}": {
            "get": {
                "tags": ["Stories"],
                "summary": "Stream narration audio",
                "produces": ["audio/mpeg"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "voice", "in": "path", "required": true, "type": "string", "enum": ["female_1", "female_2", "male_1", "male_2"]}
                ],
                "responses": {"200": {"description": "Audio stream"}, "404": {"description": "Not generated"}}
            }
        },
        "/classes": {
            "get": {"tags": ["Classes"], "summary": "List classes in scope (staff)", "responses": {"200": {"description": "OK"}}},
            "post": {
                "tags": ["Classes"],
                "summary": "Create a class (staff)",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateClassRequest"}}],
                "responses": {"201": {"description": "Created"}}
            }
        },
        "/classes/students/search": {"get": {"tags": ["Classes"], "summary": "Find students by name or email (staff)", "parameters": [{"name": "q", "in": "query", "required": true, "type": "string", "minLength": 2}], "responses": {"200": {"description": "Up to 10 matches"}, "400": {"description": "Query too short"}}}},
        "/classes/{id}": {"get": {"tags": ["Classes"], "summary": "Get a class (staff)", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not found or out of scope"}}}},
        "/classes/{id}/students": {
            "get": {"tags": ["Classes"], "summary": "Active roster", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}},
            "post": {
                "tags": ["Classes"],
                "summary": "Enroll a student",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AddStudentRequest"}}
                ],
                "responses": {"204": {"description": "Enrolled"}}
            }
        },
        "/classes/{id}/students/{studentId}": {
            "delete": {
                "tags": ["Classes"],
                "summary": "Unenroll a student",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "studentId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {"204": {"description": "Removed"}, "404": {"description": "Not a member"}}
            }
        },
        "/assignments": {
            "get": {
                "tags": ["Assignments"],
                "summary": "List assignments in scope",
                "parameters": [
                    {"name": "class_id", "in": "query", "type": "string"},
                    {"name": "active_only", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "tags": ["Assignments"],
                "summary": "Issue a story to a class (staff)",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateAssignmentRequest"}}],
                "responses": {"201": {"description": "Created"}}
            }
        },
        "/assignments/join": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Join by code (student)",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/JoinAssignmentRequest"}}],
                "responses": {"200": {"description": "Joined"}, "404": {"description": "Unknown or closed code"}}
            }
        },
        "/assignments/{id}": {"get": {"tags": ["Assignments"], "summary": "Get an assignment in scope", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not found or out of scope"}}}},
        "/assignments/{id}/progress": {"get": {"tags": ["Assignments"], "summary": "Per-student progress (staff)", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}}},
        "/assignments/{id}/deactivate": {"post": {"tags": ["Assignments"], "summary": "Close an assignment (staff)", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"204": {"description": "Closed"}, "409": {"description": "Already closed"}}}},
        "/recordings": {
            "get": {
                "tags": ["Recordings"],
                "summary": "List recordings in scope",
                "parameters": [
                    {"name": "student_id", "in": "query", "type": "string"},
                    {"name": "assignment_id", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string", "enum": ["pending", "reviewed", "flagged"]},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "tags": ["Recordings"],
                "summary": "Upload a recording (student)",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "story_id", "in": "formData", "required": true, "type": "string"},
                    {"name": "assignment_id", "in": "formData", "type": "string"},
                    {"name": "duration", "in": "formData", "type": "number"},
                    {"name": "size", "in": "formData", "type": "integer"},
                    {"name": "audio", "in": "formData", "required": true, "type": "file"}
                ],
                "responses": {
                    "201": {"description": "Stored"},
                    "409": {"description": "Attempt limit reached"},
                    "413": {"description": "File too large"},
                    "415": {"description": "Unsupported audio type"}
                }
            }
        },
        "/recordings/{id}": {"get": {"tags": ["Recordings"], "summary": "Get a recording", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}}},
        "/recordings/{id}/audio": {
            "get": {
                "tags": ["Recordings"],
                "summary": "Stream the recording or mint a signed URL",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "signed", "in": "query", "type": "boolean"}
                ],
                "responses": {"200": {"description": "Audio stream or signed URL"}}
            }
        },
        "/media/{token}": {"get": {"tags": ["Recordings"], "summary": "Redeem a signed media URL", "security": [], "parameters": [{"name": "token", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "Audio stream"}, "401": {"description": "Expired or invalid"}}}},
        "/recordings/{id}/review": {
            "post": {
                "tags": ["Recordings"],
                "summary": "Grade a pending recording (staff)",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReviewRequest"}}
                ],
                "responses": {"200": {"description": "Reviewed"}, "409": {"description": "Already reviewed"}}
            }
        },
        "/recordings/{id}/flag": {
            "post": {
                "tags": ["Recordings"],
                "summary": "Mark a pending recording for follow-up (staff)",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "Flagged"}}
            }
        },
        "/analytics/flags": {
            "get": {
                "tags": ["Analytics"],
                "summary": "List student flags (staff)",
                "parameters": [
                    {"name": "include_resolved", "in": "query", "type": "boolean"},
                    {"name": "type", "in": "query", "type": "string"},
                    {"name": "severity", "in": "query", "type": "string"},
                    {"name": "student_id", "in": "query", "type": "string"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/analytics/flags/{id}/resolve": {"post": {"tags": ["Analytics"], "summary": "Resolve a flag (staff)", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "Resolved"}, "409": {"description": "Already resolved"}}}},
        "/analytics/students": {"get": {"tags": ["Analytics"], "summary": "Per-student metrics (staff)", "responses": {"200": {"description": "OK"}}}},
        "/analytics/dashboard": {"get": {"tags": ["Analytics"], "summary": "Cached dashboard summary (staff)", "responses": {"200": {"description": "OK, meta.cache_hit reports the cache outcome"}}}},
        "/analytics/scan": {"post": {"tags": ["Analytics"], "summary": "Run a full flag scan (admin)", "responses": {"200": {"description": "Scan result"}}}},
        "/reports": {"get": {"tags": ["Reports"], "summary": "Available report types (staff)", "responses": {"200": {"description": "OK"}}}},
        "/reports/{type}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download a report (staff)",
                "produces": ["text/csv", "application/json", "application/pdf"],
                "parameters": [
                    {"name": "type", "in": "path", "required": true, "type": "string", "enum": ["teacher_summary", "class_performance", "gradebook", "student_progress", "school_wide"]},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "json", "pdf"]},
                    {"name": "class_id", "in": "query", "type": "string"},
                    {"name": "student_id", "in": "query", "type": "string"}
                ],
                "responses": {"200": {"description": "Attachment"}}
            }
        },
        "/audio/jobs": {
            "post": {
                "tags": ["Audio Jobs"],
                "summary": "Queue bulk narration generation (staff)",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateAudioJobRequest"}}],
                "responses": {"202": {"description": "Accepted"}}
            }
        },
        "/audio/jobs/{id}": {"get": {"tags": ["Audio Jobs"], "summary": "Poll a generation job (staff)", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "OK"}}}}
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {"email": {"type": "string"}, "password": {"type": "string"}}
        },
        "RegisterRequest": {
            "type": "object",
            "required": ["email", "password", "full_name", "role"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"},
                "full_name": {"type": "string"},
                "role": {"type": "string", "enum": ["TEACHER", "STUDENT"]}
            }
        },
        "CreateStoryRequest": {
            "type": "object",
            "required": ["title", "content", "grade_level", "difficulty"],
            "properties": {
                "title": {"type": "string"},
                "content": {"type": "string"},
                "grade_level": {"type": "string", "enum": ["K", "1", "2", "3", "4", "5"]},
                "difficulty": {"type": "string", "enum": ["easy", "medium", "hard"]},
                "estimated_minutes": {"type": "integer"}
            }
        },
        "CreateClassRequest": {
            "type": "object",
            "required": ["name", "grade_level", "school_year"],
            "properties": {
                "name": {"type": "string"},
                "grade_level": {"type": "string"},
                "school_year": {"type": "string"},
                "teacher_id": {"type": "string"}
            }
        },
        "AddStudentRequest": {
            "type": "object",
            "required": ["student_id"],
            "properties": {"student_id": {"type": "string"}}
        },
        "CreateAssignmentRequest": {
            "type": "object",
            "required": ["class_id", "story_id", "title"],
            "properties": {
                "class_id": {"type": "string"},
                "story_id": {"type": "string"},
                "title": {"type": "string"},
                "description": {"type": "string"},
                "due_date": {"type": "string", "format": "date-time"},
                "max_attempts": {"type": "integer"}
            }
        },
        "JoinAssignmentRequest": {
            "type": "object",
            "required": ["code"],
            "properties": {"code": {"type": "string"}}
        },
        "ReviewRequest": {
            "type": "object",
            "required": ["fluency_score", "accuracy_score", "grade"],
            "properties": {
                "fluency_score": {"type": "integer", "minimum": 1, "maximum": 5},
                "accuracy_score": {"type": "integer", "minimum": 1, "maximum": 5},
                "feedback": {"type": "string"},
                "grade": {"type": "string", "enum": ["excellent", "good", "needs_practice"]}
            }
        },
        "CreateAudioJobRequest": {
            "type": "object",
            "required": ["story_ids"],
            "properties": {
                "story_ids": {"type": "array", "items": {"type": "string"}},
                "voices": {"type": "array", "items": {"type": "string"}}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
