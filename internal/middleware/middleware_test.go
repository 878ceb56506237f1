package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/readaloud-api/internal/models"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
	"github.com/noah-isme/readaloud-api/pkg/logger"
)

type stubValidator map[string]*models.JWTClaims

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	claims, ok := s[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

var tokens = stubValidator{
	"teacher-token": {UserID: "t1", Role: models.RoleTeacher},
	"student-token": {UserID: "s1", Role: models.RoleStudent},
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/items/:id", append(handlers, func(c *gin.Context) {
		claims, _ := Principal(c)
		if claims == nil {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, claims.UserID+"|"+c.GetString(logger.PrincipalKey))
	})...)
	return router
}

func serve(router *gin.Engine, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/items/42", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestJWTMiddleware(t *testing.T) {
	router := newRouter(JWT(tokens))

	rec := serve(router, "Bearer teacher-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1|t1", rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, serve(router, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "Token teacher-token").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "Bearer forged").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "Bearer ").Code)
}

func TestOptionalJWTNeverBlocks(t *testing.T) {
	router := newRouter(OptionalJWT(tokens))
	assert.Equal(t, "anonymous", serve(router, "Bearer forged").Body.String())
	assert.Equal(t, "s1|s1", serve(router, "bearer student-token").Body.String())
}

func TestRequireRoles(t *testing.T) {
	router := newRouter(JWT(tokens), RequireStaff())
	assert.Equal(t, http.StatusOK, serve(router, "Bearer teacher-token").Code)
	assert.Equal(t, http.StatusForbidden, serve(router, "Bearer student-token").Code)

	bare := newRouter(RequireRoles(models.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, serve(bare, "").Code)
}

type auditSink struct{ entries []*models.AuditLog }

func (a *auditSink) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	sink := &auditSink{}
	router := newRouter(JWT(tokens), Audit(sink, nil, "ITEM_VIEW", "item", "id"))

	serve(router, "Bearer teacher-token")
	serve(router, "Bearer forged")

	require.Len(t, sink.entries, 1)
	entry := sink.entries[0]
	assert.Equal(t, "ITEM_VIEW", entry.Action)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "t1", *entry.UserID)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, "42", *entry.ResourceID)
}

type observed struct {
	path   string
	status int
}

type stubObserver struct{ calls []observed }

func (s *stubObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	s.calls = append(s.calls, observed{path: path, status: status})
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	obs := &stubObserver{}
	router := newRouter(Metrics(obs))
	router.Use(Metrics(obs))

	serve(router, "")
	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, obs.calls, 2)
	assert.Equal(t, "/items/:id", obs.calls[0].path)
	assert.Equal(t, http.StatusOK, obs.calls[0].status)
	assert.Equal(t, "unmatched", obs.calls[1].path)
	assert.Equal(t, http.StatusNotFound, obs.calls[1].status)
}

func TestResponseMetaCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var meta map[string]interface{}
	router.GET("/", WithResponseMeta(), func(c *gin.Context) {
		SetCacheHit(c, true)
		meta = ExtractMeta(c)
		c.Status(http.StatusNoContent)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotNil(t, meta)
	assert.Equal(t, true, meta["cache_hit"])
	assert.Contains(t, meta, "processing_time_ms")
}

func TestResponseMetaRequiresOptIn(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	extracted := true
	router.GET("/", func(c *gin.Context) {
		SetMeta(c, "ignored", 1)
		extracted = ExtractMeta(c) != nil
		c.Status(http.StatusNoContent)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, extracted)
}
