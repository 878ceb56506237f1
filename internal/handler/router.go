package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/readaloud-api/internal/middleware"
	"github.com/noah-isme/readaloud-api/internal/models"
)

// Handlers groups every HTTP handler mounted under the API prefix.
type Handlers struct {
	Auth        *AuthHandler
	Stories     *StoryHandler
	Classes     *ClassHandler
	Assignments *AssignmentHandler
	Recordings  *RecordingHandler
	Analytics   *AnalyticsHandler
	Reports     *ReportHandler
	AudioJobs   *AudioJobHandler
	Metrics     *MetricsHandler
}

// RouteDeps are the cross-cutting collaborators of the route table.
type RouteDeps struct {
	Tokens middleware.TokenValidator
	Audit  middleware.AuditWriter
	Logger *zap.Logger
}

// RegisterRoutes mounts the API on group.
func RegisterRoutes(group *gin.RouterGroup, h Handlers, deps RouteDeps) {
	staff := middleware.RequireStaff()
	admin := middleware.RequireRoles(models.RoleAdmin)
	student := middleware.RequireRoles(models.RoleStudent)
	audit := func(action, resource, idParam string) gin.HandlerFunc {
		return middleware.Audit(deps.Audit, deps.Logger, action, resource, idParam)
	}

	group.GET("/health", h.Metrics.Health)
	group.GET("/health/live", h.Metrics.Live)
	group.GET("/health/ready", h.Metrics.Ready)
	group.POST("/auth/login", h.Auth.Login)
	group.GET("/media/:token", h.Recordings.Media)

	secured := group.Group("")
	secured.Use(middleware.JWT(deps.Tokens))

	secured.GET("/health/detailed", admin, h.Metrics.Detailed)

	auth := secured.Group("/auth")
	auth.GET("/me", h.Auth.Me)
	auth.POST("/register", admin, h.Auth.Register)

	stories := secured.Group("/stories")
	stories.GET("", h.Stories.List)
	stories.POST("", staff, audit(models.AuditActionStoryCreate, "story", ""), h.Stories.Create)
	stories.GET("/:id", h.Stories.Get)
	stories.GET("/:id/audio/:voice", h.Stories.Audio)

	classes := secured.Group("/classes", staff)
	classes.POST("", audit(models.AuditActionClassCreate, "class", ""), h.Classes.Create)
	classes.GET("", h.Classes.List)
	classes.GET("/students/search", h.Classes.SearchStudents)
	classes.GET("/:id", h.Classes.Get)
	classes.GET("/:id/students", h.Classes.Members)
	classes.POST("/:id/students", audit(models.AuditActionClassEnroll, "class", "id"), h.Classes.AddStudent)
	classes.DELETE("/:id/students/:studentId", audit(models.AuditActionClassUnenroll, "class", "id"), h.Classes.RemoveStudent)

	assignments := secured.Group("/assignments")
	assignments.GET("", h.Assignments.List)
	assignments.POST("", staff, audit(models.AuditActionAssignmentCreate, "assignment", ""), h.Assignments.Create)
	assignments.POST("/join", student, h.Assignments.Join)
	assignments.GET("/:id", h.Assignments.Get)
	assignments.GET("/:id/progress", staff, h.Assignments.Progress)
	assignments.POST("/:id/deactivate", staff, audit(models.AuditActionAssignmentClose, "assignment", "id"), h.Assignments.Deactivate)

	recordings := secured.Group("/recordings")
	recordings.POST("", student, h.Recordings.Upload)
	recordings.GET("", h.Recordings.List)
	recordings.GET("/:id", h.Recordings.Get)
	recordings.GET("/:id/audio", h.Recordings.Audio)
	recordings.POST("/:id/review", staff, h.Recordings.Review)
	recordings.POST("/:id/flag", staff, h.Recordings.Flag)

	analytics := secured.Group("/analytics", staff)
	analytics.GET("/flags", h.Analytics.Flags)
	analytics.POST("/flags/:id/resolve", h.Analytics.ResolveFlag)
	analytics.GET("/students", h.Analytics.Students)
	analytics.GET("/dashboard", middleware.WithResponseMeta(), h.Analytics.Dashboard)
	analytics.POST("/scan", admin, h.Analytics.Scan)

	reports := secured.Group("/reports", staff)
	reports.GET("", h.Reports.Available)
	reports.GET("/:type", audit(models.AuditActionReportExport, "report", "type"), h.Reports.Download)

	audio := secured.Group("/audio/jobs", staff)
	audio.POST("", h.AudioJobs.Create)
	audio.GET("/:id", h.AudioJobs.Get)
}
