package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Tipos de token emitidos pelo serviço. O claim "type" distingue o
// token de acesso (curta duração) do token de refresh (longa duração).
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

const (
	// AccessTokenTTL é a validade do token de acesso
	AccessTokenTTL = 30 * time.Minute
	// RefreshTokenTTL é a validade do token de refresh
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenService lida com a lógica de JWT
type TokenService struct {
	jwtSecret []byte
}

// NewTokenService cria um novo serviço de token
func NewTokenService(secret string) (*TokenService, error) {
	if secret == "" {
		return nil, fmt.Errorf("segredo JWT não pode ser vazio")
	}
	return &TokenService{
		jwtSecret: []byte(secret),
	}, nil
}

func (s *TokenService) newToken(userID uuid.UUID, tokenType string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  userID.String(), // 'subject' (o ID do usuário)
		"type": tokenType,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// NewAccessToken cria um token de acesso para um usuário
func (s *TokenService) NewAccessToken(userID uuid.UUID) (string, error) {
	return s.newToken(userID, TokenTypeAccess, AccessTokenTTL)
}

// NewRefreshToken cria um token de refresh para um usuário
func (s *TokenService) NewRefreshToken(userID uuid.UUID) (string, error) {
	return s.newToken(userID, TokenTypeRefresh, RefreshTokenTTL)
}

// ValidateToken verifica a validade de um token string e confere se o
// claim "type" corresponde ao tipo esperado. Um token de refresh nunca
// vale como token de acesso, e vice-versa.
func (s *TokenService) ValidateToken(tokenString, expectedType string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verifica o método de assinatura
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("método de assinatura inesperado: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("falha ao parsear token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("token inválido")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("não foi possível ler claims do token")
	}

	tokenType, _ := claims["type"].(string)
	if tokenType != expectedType {
		return nil, fmt.Errorf("tipo de token inesperado: '%s'", tokenType)
	}

	return token, nil
}

// GetUserIDFromToken extrai o 'sub' (UserID) de um token validado
func (s *TokenService) GetUserIDFromToken(token *jwt.Token) (uuid.UUID, error) {
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, fmt.Errorf("não foi possível ler claims do token")
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return uuid.Nil, fmt.Errorf("não foi possível obter 'sub' do token: %w", err)
	}

	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("'sub' do token não é um UUID válido: %w", err)
	}

	return userID, nil
}
