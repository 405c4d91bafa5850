// Package identity единая точка извлечения пользователя из запроса.
// REST и живой канал получают идентификатор одним и тем же способом.
package identity

import (
	"strings"

	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/apperrors"
)

// Provider проверяет токен и возвращает идентификатор пользователя
type Provider interface {
	Authenticate(token string) (uuid.UUID, error)
}

// TokenFromRequest извлекает токен из заголовка Authorization (Bearer) или параметра token.
// Заголовок имеет приоритет.
func TokenFromRequest(authorizationHeader, queryToken string) (string, error) {
	if authorizationHeader != "" {
		parts := strings.Fields(authorizationHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", apperrors.Unauthorized("Неверный формат заголовка авторизации")
		}
		return parts[1], nil
	}
	if token := strings.TrimSpace(queryToken); token != "" {
		return token, nil
	}
	return "", apperrors.Unauthorized("Требуется авторизация")
}

// Resolve возвращает пользователя запроса или ошибку unauthorized
func Resolve(p Provider, authorizationHeader, queryToken string) (uuid.UUID, error) {
	token, err := TokenFromRequest(authorizationHeader, queryToken)
	if err != nil {
		return uuid.Nil, err
	}
	userID, err := p.Authenticate(token)
	if err != nil {
		return uuid.Nil, apperrors.Unauthorized("Недействительный или просроченный токен").WithErr(err)
	}
	return userID, nil
}
