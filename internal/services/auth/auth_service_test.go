package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/bookswap-api/internal/config"
	"github.com/rajivgeraev/bookswap-api/internal/middleware"
	"github.com/rajivgeraev/bookswap-api/internal/models"
	"github.com/rajivgeraev/bookswap-api/internal/store/memstore"
)

const botToken = "12345:test-bot-token"

// signInitData подписывает initData так же, как это делает Telegram
func signInitData(t *testing.T, values url.Values, token string) string {
	t.Helper()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(token))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))

	signed := url.Values{}
	for k := range values {
		signed.Set(k, values.Get(k))
	}
	signed.Set("hash", hex.EncodeToString(mac.Sum(nil)))
	return signed.Encode()
}

func telegramUser(id int64, username string) url.Values {
	values := url.Values{}
	values.Set("auth_date", strconv.FormatInt(time.Now().Unix(), 10))
	values.Set("query_id", "AAH")
	values.Set("user", `{"id":`+strconv.FormatInt(id, 10)+`,"first_name":"Иван","username":"`+username+`"}`)
	return values
}

func newApp(t *testing.T, token string) *fiber.App {
	t.Helper()
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	cfg := &config.Config{JWTSecret: "test-secret", TelegramBotToken: token}
	NewAuthService(cfg, memstore.New()).SetupRoutes(app)
	return app
}

func login(t *testing.T, app *fiber.App, initData string) (int, map[string]json.RawMessage) {
	t.Helper()
	body, err := json.Marshal(map[string]string{"init_data": initData})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/telegram", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestTelegramLoginIssuesTokenAndProfile(t *testing.T) {
	app := newApp(t, botToken)

	status, out := login(t, app, signInitData(t, telegramUser(777, "ivan"), botToken))
	require.Equal(t, fiber.StatusOK, status)

	var token string
	require.NoError(t, json.Unmarshal(out["token"], &token))
	var user models.User
	require.NoError(t, json.Unmarshal(out["user"], &user))
	assert.Equal(t, "ivan", user.Username)

	// повторный вход обновляет того же пользователя
	status, out = login(t, app, signInitData(t, telegramUser(777, "ivan_new"), botToken))
	require.Equal(t, fiber.StatusOK, status)
	var again models.User
	require.NoError(t, json.Unmarshal(out["user"], &again))
	assert.Equal(t, user.ID, again.ID)
	assert.Equal(t, "ivan_new", again.Username)

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var profile models.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&profile))
	assert.Equal(t, user.ID, profile.ID)
}

func TestTelegramLoginRejectsBadSignature(t *testing.T) {
	app := newApp(t, botToken)

	status, _ := login(t, app, signInitData(t, telegramUser(777, "ivan"), "другой:токен"))
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = login(t, app, "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestTelegramLoginDisabledWithoutBotToken(t *testing.T) {
	app := newApp(t, "")

	status, _ := login(t, app, signInitData(t, telegramUser(777, "ivan"), botToken))
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestProfileRequiresToken(t *testing.T) {
	resp, err := newApp(t, botToken).Test(httptest.NewRequest(http.MethodGet, "/api/profile", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
