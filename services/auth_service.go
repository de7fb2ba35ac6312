package services

import (
	"context"
	"fmt"

	"lets-chat/auth"
	"lets-chat/contract"
	"lets-chat/domain"
	"lets-chat/errors"
)

type AuthService struct {
	userRepository contract.IUserRepository
	tokens         *auth.TokenManager
}

func NewAuthService(repo contract.IUserRepository, tokens *auth.TokenManager) *AuthService {
	return &AuthService{userRepository: repo, tokens: tokens}
}

// Register validates, hashes and stores a new account.
func (s *AuthService) Register(ctx context.Context, req auth.RegisterRequest) (domain.User, error) {
	req = req.Normalize()
	// Validation runs before any expensive hashing.
	if err := auth.ValidateRegister(req); err != nil {
		return domain.User{}, err
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hashing failed: %w", err)
	}

	// Propagates ErrUserAlreadyExists when email or username is taken.
	return s.userRepository.CreateUser(ctx, req.Username, req.Email, hashedPassword)
}

// Login checks the credentials and issues a session token. Unknown email and
// wrong password yield the same error.
func (s *AuthService) Login(ctx context.Context, req auth.LoginRequest) (domain.User, string, error) {
	if err := auth.ValidateLogin(req); err != nil {
		return domain.User{}, "", err
	}

	user, err := s.userRepository.GetUserByEmail(ctx, auth.NormalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, errors.ErrUserNotFound) {
			auth.BurnComparison(req.Password)
			return domain.User{}, "", errors.ErrInvalidCredentials
		}
		return domain.User{}, "", err
	}

	match, err := auth.ComparePassword(req.Password, user.PasswordHash)
	if err != nil || !match {
		return domain.User{}, "", errors.ErrInvalidCredentials
	}

	token, err := s.tokens.Generate(user.Identity())
	if err != nil {
		return domain.User{}, "", err
	}
	return user, token, nil
}
