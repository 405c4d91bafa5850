package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/bookswap-api/internal/apperrors"
	"github.com/rajivgeraev/bookswap-api/internal/ratelimit"
	"github.com/rajivgeraev/bookswap-api/internal/utils"
)

func newApp(jwtService *utils.JWTService, limiter ratelimit.Limiter) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	group := app.Group("/api", AuthMiddleware(jwtService))
	if limiter != nil {
		group.Use(RateLimit(limiter))
	}
	group.Get("/me", func(c fiber.Ctx) error {
		userID, err := UserID(c)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"id": userID})
	})
	group.Get("/boom", func(c fiber.Ctx) error {
		return errors.New("pq: connection refused")
	})
	group.Get("/forbidden", func(c fiber.Ctx) error {
		return apperrors.Forbidden("Нет доступа")
	})
	return app
}

func decode(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func TestAuthMiddleware(t *testing.T) {
	jwtService := utils.NewJWTService("secret")
	app := newApp(jwtService, nil)
	userID := uuid.New()
	token, err := jwtService.GenerateToken(userID)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, userID.String(), decode(t, resp.Body)["id"])

	for name, header := range map[string]string{
		"missing": "",
		"format":  "Token " + token,
		"invalid": "Bearer garbage",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "unauthorized", decode(t, resp.Body)["kind"])
		})
	}
}

func TestErrorHandlerHidesInternalDetails(t *testing.T) {
	jwtService := utils.NewJWTService("secret")
	app := newApp(jwtService, nil)
	token, err := jwtService.GenerateToken(uuid.New())
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/boom", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	body := decode(t, resp.Body)
	assert.Equal(t, "internal", body["kind"])
	assert.NotContains(t, body["error"], "pq")

	req = httptest.NewRequest("GET", "/api/forbidden", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Нет доступа", decode(t, resp.Body)["error"])
}

func TestRateLimitMiddleware(t *testing.T) {
	jwtService := utils.NewJWTService("secret")
	limiter := ratelimit.NewMemory(1, 2)
	defer limiter.Close()
	app := newApp(jwtService, limiter)
	token, err := jwtService.GenerateToken(uuid.New())
	require.NoError(t, err)

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/api/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		statuses = append(statuses, resp.StatusCode)
	}
	assert.Equal(t, []int{200, 200, 429}, statuses)
}
