package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"crm-chat/internal/auth"
	"crm-chat/internal/domain"
	"crm-chat/internal/mocks"
	"crm-chat/internal/models"
)

func setupAuthRouter(authn Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/me", AuthMiddleware(authn), func(c *gin.Context) {
		sess := SessionFrom(c)
		c.JSON(http.StatusOK, gin.H{"userId": sess.UserID(), "tenantId": sess.TenantID()})
	})
	return r
}

func doRequest(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddlewareSetsSession(t *testing.T) {
	authn := new(mocks.AuthenticatorMock)
	authn.On("Authenticate", mock.Anything, "good").
		Return(auth.NewSession(models.User{ID: "u1"}, "t1", nil), nil).Once()

	rec := doRequest(setupAuthRouter(authn), "Bearer good")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"userId":"u1","tenantId":"t1"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	authn.AssertExpectations(t)
}

func TestAuthMiddlewareMissingHeader(t *testing.T) {
	authn := new(mocks.AuthenticatorMock)

	rec := doRequest(setupAuthRouter(authn), "")

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	authn.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything)
}

func TestAuthMiddlewareRejectedToken(t *testing.T) {
	authn := new(mocks.AuthenticatorMock)
	authn.On("Authenticate", mock.Anything, "bad").
		Return(nil, domain.Authentication("invalid token", nil)).Once()

	rec := doRequest(setupAuthRouter(authn), "Bearer bad")

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareStoreFailure(t *testing.T) {
	authn := new(mocks.AuthenticatorMock)
	authn.On("Authenticate", mock.Anything, "tok").
		Return(nil, domain.Persistence("load user", assert.AnError)).Once()

	rec := doRequest(setupAuthRouter(authn), "Bearer tok")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Body.String())
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))
}
