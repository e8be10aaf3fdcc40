package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/repository"
)

// Claims is the identity carried by a validated token.
type Claims struct {
	UserID int
	Role   string
	Name   string
}

type AuthService struct {
	userRepo           repository.UserRepository
	jwtSecret          string
	jwtExpirationHours time.Duration
	now                func() time.Time
}

func NewAuthService(userRepo repository.UserRepository, jwtSecret string, jwtExpHours time.Duration) *AuthService {
	return &AuthService{
		userRepo:           userRepo,
		jwtSecret:          jwtSecret,
		jwtExpirationHours: jwtExpHours,
		now:                time.Now,
	}
}

func (s *AuthService) Register(ctx context.Context, dto domain.RegisterUserDTO) (*domain.User, error) {
	return s.createUser(ctx, dto, domain.RoleUser)
}

// CreateAdmin seeds an administrator account.
func (s *AuthService) CreateAdmin(ctx context.Context, dto domain.RegisterUserDTO) (*domain.User, error) {
	return s.createUser(ctx, dto, domain.RoleAdmin)
}

func (s *AuthService) createUser(ctx context.Context, dto domain.RegisterUserDTO, role string) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(dto.Email))
	if email == "" || len(dto.Password) < 6 {
		return nil, fmt.Errorf("%w: email and a password of at least 6 characters are required", ErrValidation)
	}

	existingUser, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("AuthService.createUser (lookup): %w", err)
	}
	if existingUser != nil {
		return nil, ErrUserAlreadyExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(dto.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("AuthService.createUser (hash): %w", err)
	}

	createdUser, err := s.userRepo.Create(ctx, &domain.User{
		Name:     strings.TrimSpace(dto.Name),
		Email:    email,
		Password: string(hashedPassword),
		Role:     role,
		IsActive: true,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil, ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("AuthService.createUser (create): %w", err)
	}
	createdUser.Password = ""
	return createdUser, nil
}

func (s *AuthService) Login(ctx context.Context, dto domain.LoginUserDTO) (*domain.AuthResponseDTO, error) {
	user, err := s.userRepo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(dto.Email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("AuthService.Login: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(dto.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	tokenString, err := s.IssueToken(user)
	if err != nil {
		return nil, err
	}
	return &domain.AuthResponseDTO{
		Token:  tokenString,
		UserID: user.ID,
		Name:   user.Name,
		Role:   user.Role,
	}, nil
}

func (s *AuthService) IssueToken(user *domain.User) (string, error) {
	now := s.now()
	customClaims := jwt.MapClaims{
		"sub":  strconv.Itoa(user.ID),
		"exp":  now.Add(s.jwtExpirationHours).Unix(),
		"iat":  now.Unix(),
		"role": user.Role,
		"name": user.Name,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, customClaims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("AuthService.IssueToken: %w", err)
	}
	return tokenString, nil
}

// ValidateToken verifies the signature and expiry and extracts the identity.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: malformed token", ErrTokenInvalid)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: token expired", ErrTokenInvalid)
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, fmt.Errorf("%w: token not valid yet", ErrTokenInvalid)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	sub, _ := claims["sub"].(string)
	role, okRole := claims["role"].(string)
	userID, convErr := strconv.Atoi(sub)
	if convErr != nil || !okRole {
		return nil, fmt.Errorf("%w: missing identity claims", ErrTokenInvalid)
	}
	name, _ := claims["name"].(string)
	return &Claims{UserID: userID, Role: role, Name: name}, nil
}

// CurrentUser loads the token subject; inactive accounts are reported as not found.
func (s *AuthService) CurrentUser(ctx context.Context, userID int) (*domain.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, translateRepoError(err, ErrUserNotFound)
	}
	if !user.IsActive {
		return nil, ErrUserNotFound
	}
	user.Password = ""
	return user, nil
}
