package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"field-service-server/config"
	"field-service-server/models"
	"field-service-server/types"
)

// JWTService issues access tokens and manages refresh tokens.
type JWTService struct {
	db  *gorm.DB
	cfg config.JWTConfig
	log *zap.Logger
	now func() time.Time
}

func NewJWTService(db *gorm.DB, cfg config.JWTConfig, log *zap.Logger) *JWTService {
	return &JWTService{db: db, cfg: cfg, log: log.Named("jwt"), now: time.Now}
}

type TokenPair struct {
	AccessToken  string `json:"access"`
	RefreshToken string `json:"refresh"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// ClientInfo is recorded with each refresh token.
type ClientInfo struct {
	UserAgent string
	IPAddress string
}

func (js *JWTService) GenerateTokenPair(ctx context.Context, user *models.User, client ClientInfo) (*TokenPair, error) {
	accessToken, expiresIn, err := js.generateAccessToken(user)
	if err != nil {
		return nil, err
	}

	refreshToken, err := js.generateRefreshToken(ctx, user.ID, client)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
		TokenType:    "Bearer",
	}, nil
}

func (js *JWTService) generateAccessToken(user *models.User) (string, int64, error) {
	now := js.now()
	claims := &types.Claims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(js.cfg.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    js.cfg.Issuer,
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(js.cfg.Secret))
	if err != nil {
		return "", 0, fmt.Errorf("sign access token: %w", err)
	}
	return tokenString, int64(js.cfg.AccessTTL / time.Second), nil
}

func (js *JWTService) generateRefreshToken(ctx context.Context, userID uint, client ClientInfo) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	tokenString := hex.EncodeToString(tokenBytes)

	refreshToken := &models.RefreshToken{
		Token:     tokenString,
		UserID:    userID,
		ExpiresAt: js.now().Add(js.cfg.RefreshTTL),
		UserAgent: truncate(client.UserAgent, 500),
		IPAddress: truncate(client.IPAddress, 45),
	}
	if err := js.db.WithContext(ctx).Create(refreshToken).Error; err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return tokenString, nil
}

// ValidateAccessToken parses and verifies a signed access token.
func (js *JWTService) ValidateAccessToken(tokenString string) (*types.Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &types.Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(js.cfg.Secret), nil
	}, jwt.WithIssuer(js.cfg.Issuer), jwt.WithTimeFunc(js.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*types.Claims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (js *JWTService) ValidateRefreshToken(ctx context.Context, tokenString string) (*models.RefreshToken, error) {
	var refreshToken models.RefreshToken
	err := js.db.WithContext(ctx).Where("token = ?", tokenString).First(&refreshToken).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("load refresh token: %w", err)
	}
	if !refreshToken.IsValid(js.now()) {
		return nil, ErrInvalidToken
	}
	return &refreshToken, nil
}

// RefreshAccessToken mints a new access token. The refresh token itself is
// kept, only its last-used time moves.
func (js *JWTService) RefreshAccessToken(ctx context.Context, refreshTokenString string) (*TokenPair, error) {
	refreshToken, err := js.ValidateRefreshToken(ctx, refreshTokenString)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := js.db.WithContext(ctx).First(&user, refreshToken.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInvalidToken
	}

	accessToken, expiresIn, err := js.generateAccessToken(&user)
	if err != nil {
		return nil, err
	}

	now := js.now()
	if err := js.db.WithContext(ctx).Model(refreshToken).Update("last_used", &now).Error; err != nil {
		js.log.Warn("failed to touch refresh token", zap.Uint("user_id", user.ID), zap.Error(err))
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshTokenString,
		ExpiresIn:    expiresIn,
		TokenType:    "Bearer",
	}, nil
}

// RevokeRefreshToken revokes one of userID's refresh tokens.
func (js *JWTService) RevokeRefreshToken(ctx context.Context, userID uint, tokenString string) error {
	res := js.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token = ? AND user_id = ?", tokenString, userID).
		Update("is_revoked", true)
	if res.Error != nil {
		return fmt.Errorf("revoke refresh token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInvalidToken
	}
	js.log.Info("refresh token revoked", zap.Uint("user_id", userID))
	return nil
}

func (js *JWTService) RevokeAllUserTokens(ctx context.Context, userID uint) error {
	if err := js.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("user_id = ? AND is_revoked = ?", userID, false).
		Update("is_revoked", true).Error; err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	return nil
}

// CleanupExpiredTokens deletes expired and revoked refresh tokens and returns
// how many rows went away.
func (js *JWTService) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	res := js.db.WithContext(ctx).
		Where("expires_at < ? OR is_revoked = ?", js.now(), true).
		Delete(&models.RefreshToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("cleanup refresh tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
