package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cipherroom-backend/internal/auth"
	"cipherroom-backend/internal/cryptoutil"
	"cipherroom-backend/internal/models"
	"cipherroom-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Credenciais do admin inicial, criado quando o banco está vazio
const (
	bootstrapAdminUsername = "admin"
	bootstrapAdminPassword = "changeme123"
)

const (
	// DefaultInviteMaxUses é quantas vezes um convite vale quando o admin não escolhe
	DefaultInviteMaxUses = 1

	// DefaultInviteTTL é a validade padrão de um convite
	DefaultInviteTTL = 7 * 24 * time.Hour
)

// Hash válido usado para igualar o tempo de resposta quando o usuário
// não existe (evita enumeração por timing)
var dummyPasswordHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// TokenPair é o par de tokens retornado por login, registro e refresh
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// UserService lida com a lógica de negócios de usuários e convites
type UserService struct {
	userStore    repository.UserStore
	inviteStore  repository.InviteStore
	tokenService *auth.TokenService
}

// NewUserService cria um novo serviço de usuário
func NewUserService(userStore repository.UserStore, inviteStore repository.InviteStore, tokenService *auth.TokenService) *UserService {
	return &UserService{
		userStore:    userStore,
		inviteStore:  inviteStore,
		tokenService: tokenService,
	}
}

func (s *UserService) issueTokens(userID uuid.UUID) (*TokenPair, error) {
	accessToken, err := s.tokenService.NewAccessToken(userID)
	if err != nil {
		return nil, fmt.Errorf("erro interno ao gerar token de acesso: %w", err)
	}
	refreshToken, err := s.tokenService.NewRefreshToken(userID)
	if err != nil {
		return nil, fmt.Errorf("erro interno ao gerar token de refresh: %w", err)
	}
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
	}, nil
}

// Register cria um novo usuário a partir de um código de convite válido
// e já devolve o par de tokens (o registro loga o usuário)
func (s *UserService) Register(ctx context.Context, username, password, displayName, inviteCode string) (*models.User, *TokenPair, error) {
	// 1. Validar o convite
	invite, err := s.inviteStore.GetInviteByCode(ctx, inviteCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, fmt.Errorf("código de convite inválido: %w", ErrInvalidArgument)
		}
		return nil, nil, fmt.Errorf("erro ao buscar convite: %w", err)
	}
	if !invite.IsValid(time.Now().UTC()) {
		return nil, nil, fmt.Errorf("código de convite expirado ou esgotado: %w", ErrInvalidArgument)
	}

	// 2. Verificar se o username já está em uso
	if _, err := s.userStore.GetUserByUsername(ctx, username); err == nil {
		return nil, nil, fmt.Errorf("usuário '%s' já existe: %w", username, ErrAlreadyExists)
	}

	if len(password) < 8 {
		return nil, nil, fmt.Errorf("senha deve ter pelo menos 8 caracteres: %w", ErrInvalidArgument)
	}

	// 3. Criar o usuário
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("erro interno ao processar senha: %w", err)
	}

	user := &models.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: string(hash),
		DisplayName:  displayName,
		IsAdmin:      false,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.userStore.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, nil, fmt.Errorf("usuário '%s' já existe: %w", username, ErrAlreadyExists)
		}
		return nil, nil, fmt.Errorf("erro ao salvar usuário: %w", err)
	}

	// 4. Consumir o convite
	if err := s.inviteStore.ConsumeInvite(ctx, invite.ID, user.ID); err != nil {
		logrus.WithError(err).WithField("invite_code", inviteCode).Warn("Falha ao marcar convite como usado")
	}

	tokens, err := s.issueTokens(user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, tokens, nil
}

// Login autentica um usuário e retorna o par de tokens
func (s *UserService) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	user, err := s.userStore.GetUserByUsername(ctx, username)
	if err != nil {
		// Compara contra um hash fixo para a resposta demorar o mesmo
		// tanto de um login com senha errada
		_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(password))
		return nil, fmt.Errorf("usuário ou senha incorretos: %w", ErrUnauthorized)
	}

	if !user.IsActive {
		return nil, fmt.Errorf("usuário ou senha incorretos: %w", ErrUnauthorized)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("usuário ou senha incorretos: %w", ErrUnauthorized)
	}

	if err := s.userStore.SetUserLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Warn("Falha ao registrar último login")
	}

	return s.issueTokens(user.ID)
}

// Refresh troca um token de refresh válido por um novo par de tokens
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	token, err := s.tokenService.ValidateToken(refreshToken, auth.TokenTypeRefresh)
	if err != nil {
		return nil, fmt.Errorf("token de refresh inválido ou expirado: %w", ErrUnauthorized)
	}
	userID, err := s.tokenService.GetUserIDFromToken(token)
	if err != nil {
		return nil, fmt.Errorf("token de refresh inválido: %w", ErrUnauthorized)
	}

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("usuário não encontrado: %w", ErrUnauthorized)
	}

	return s.issueTokens(user.ID)
}

// GetUserByID busca um usuário ativo pelo ID
func (s *UserService) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.userStore.GetUserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("usuário não encontrado: %w", ErrNotFound)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("usuário não encontrado: %w", ErrNotFound)
	}
	return user, nil
}

// ChangePassword troca a senha do usuário após conferir a atual
func (s *UserService) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return fmt.Errorf("senha atual incorreta: %w", ErrInvalidArgument)
	}
	if currentPassword == newPassword {
		return fmt.Errorf("nova senha deve ser diferente da atual: %w", ErrInvalidArgument)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("erro interno ao processar senha: %w", err)
	}

	if err := s.userStore.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("erro ao atualizar senha: %w", err)
	}
	return nil
}

// CreateInvite gera um novo código de convite (só admins chegam aqui).
// expiresInDays nulo usa o padrão de 7 dias; zero cria convite sem validade.
func (s *UserService) CreateInvite(ctx context.Context, createdBy uuid.UUID, maxUses int, expiresInDays *int, note string) (*models.InviteCode, error) {
	code, err := cryptoutil.NewInviteCode()
	if err != nil {
		return nil, err
	}

	if maxUses == 0 {
		maxUses = DefaultInviteMaxUses
	}

	var expiresAt *time.Time
	switch {
	case expiresInDays == nil:
		t := time.Now().UTC().Add(DefaultInviteTTL)
		expiresAt = &t
	case *expiresInDays > 0:
		t := time.Now().UTC().Add(time.Duration(*expiresInDays) * 24 * time.Hour)
		expiresAt = &t
	}

	invite := &models.InviteCode{
		ID:        uuid.New(),
		Code:      code,
		CreatedBy: createdBy,
		MaxUses:   maxUses,
		UseCount:  0,
		ExpiresAt: expiresAt,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.inviteStore.CreateInvite(ctx, invite); err != nil {
		return nil, fmt.Errorf("erro ao salvar convite: %w", err)
	}
	return invite, nil
}

// ListInvites lista os convites criados por um admin
func (s *UserService) ListInvites(ctx context.Context, createdBy uuid.UUID) ([]*models.InviteCode, error) {
	invites, err := s.inviteStore.ListInvitesByCreator(ctx, createdBy)
	if err != nil {
		return nil, fmt.Errorf("erro ao listar convites: %w", err)
	}
	return invites, nil
}

// EnsureAdmin cria o usuário admin inicial quando o banco está vazio
func (s *UserService) EnsureAdmin(ctx context.Context) error {
	count, err := s.userStore.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("erro ao contar usuários: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(bootstrapAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("erro interno ao processar senha: %w", err)
	}

	admin := &models.User{
		ID:           uuid.New(),
		Username:     bootstrapAdminUsername,
		PasswordHash: string(hash),
		DisplayName:  "Administrator",
		IsAdmin:      true,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.userStore.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("erro ao criar admin inicial: %w", err)
	}

	logrus.WithField("username", bootstrapAdminUsername).
		Warn("Usuário admin inicial criado com a senha padrão. Troque a senha imediatamente!")
	return nil
}
