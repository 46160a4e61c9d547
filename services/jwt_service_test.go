package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"field-service-server/config"
	"field-service-server/database/databasetest"
	"field-service-server/models"
)

func newTestJWTService(t *testing.T) (*JWTService, *models.User) {
	t.Helper()
	db := databasetest.Open(t)
	js := NewJWTService(db, config.JWTConfig{
		Secret:     "test-secret-that-is-long-enough-for-hs256",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		Issuer:     "field-service-test",
	}, zap.NewNop())
	js.now = func() time.Time { return testNow }
	return js, createUser(t, db, "carol", models.RoleCustomer)
}

func TestJWTServiceAccessToken(t *testing.T) {
	js, user := newTestJWTService(t)

	pair, err := js.GenerateTokenPair(context.Background(), user, ClientInfo{UserAgent: "go-test", IPAddress: "127.0.0.1"})
	if err != nil {
		t.Fatalf("GenerateTokenPair: %v", err)
	}
	if pair.TokenType != "Bearer" || pair.ExpiresIn != 900 {
		t.Errorf("pair = %+v", pair)
	}

	claims, err := js.ValidateAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.UserID != user.ID || claims.Role != models.RoleCustomer {
		t.Errorf("claims = %+v", claims)
	}

	js.now = func() time.Time { return testNow.Add(16 * time.Minute) }
	if _, err := js.ValidateAccessToken(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token err = %v", err)
	}
}

func TestJWTServiceRejectsForeignTokens(t *testing.T) {
	js, user := newTestJWTService(t)
	pair, err := js.GenerateTokenPair(context.Background(), user, ClientInfo{})
	if err != nil {
		t.Fatal(err)
	}

	other := *js
	other.cfg.Secret = "a-completely-different-signing-secret"
	if _, err := other.ValidateAccessToken(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret err = %v", err)
	}

	other = *js
	other.cfg.Issuer = "someone-else"
	if _, err := other.ValidateAccessToken(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong issuer err = %v", err)
	}

	if _, err := js.ValidateAccessToken("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage err = %v", err)
	}
}

func TestJWTServiceRefresh(t *testing.T) {
	js, user := newTestJWTService(t)
	ctx := context.Background()

	pair, err := js.GenerateTokenPair(ctx, user, ClientInfo{})
	if err != nil {
		t.Fatal(err)
	}

	refreshed, err := js.RefreshAccessToken(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshAccessToken: %v", err)
	}
	if refreshed.RefreshToken != pair.RefreshToken {
		t.Error("refresh token should be kept")
	}
	if _, err := js.ValidateAccessToken(refreshed.AccessToken); err != nil {
		t.Errorf("refreshed access token invalid: %v", err)
	}

	rt, err := js.ValidateRefreshToken(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}
	if rt.LastUsed == nil {
		t.Error("last_used not recorded")
	}

	if _, err := js.RefreshAccessToken(ctx, "unknown"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("unknown token err = %v", err)
	}

	js.now = func() time.Time { return testNow.Add(25 * time.Hour) }
	if _, err := js.RefreshAccessToken(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired refresh err = %v", err)
	}
}

func TestJWTServiceRefreshInactiveUser(t *testing.T) {
	js, user := newTestJWTService(t)
	ctx := context.Background()
	pair, err := js.GenerateTokenPair(ctx, user, ClientInfo{})
	if err != nil {
		t.Fatal(err)
	}
	js.db.Model(user).Update("is_active", false)

	if _, err := js.RefreshAccessToken(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("inactive user err = %v", err)
	}
}

func TestJWTServiceRevoke(t *testing.T) {
	js, user := newTestJWTService(t)
	ctx := context.Background()

	first, _ := js.GenerateTokenPair(ctx, user, ClientInfo{})
	second, _ := js.GenerateTokenPair(ctx, user, ClientInfo{})

	if err := js.RevokeRefreshToken(ctx, user.ID+1, first.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("revoking someone else's token err = %v", err)
	}
	if err := js.RevokeRefreshToken(ctx, user.ID, first.RefreshToken); err != nil {
		t.Fatalf("RevokeRefreshToken: %v", err)
	}
	if _, err := js.RefreshAccessToken(ctx, first.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("revoked token still refreshes: %v", err)
	}
	if _, err := js.RefreshAccessToken(ctx, second.RefreshToken); err != nil {
		t.Errorf("unrelated token broken: %v", err)
	}

	if err := js.RevokeAllUserTokens(ctx, user.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := js.RefreshAccessToken(ctx, second.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token survived revoke-all: %v", err)
	}
}

func TestJWTServiceCleanup(t *testing.T) {
	js, user := newTestJWTService(t)
	ctx := context.Background()

	revoked, _ := js.GenerateTokenPair(ctx, user, ClientInfo{})
	if err := js.RevokeRefreshToken(ctx, user.ID, revoked.RefreshToken); err != nil {
		t.Fatal(err)
	}
	live, _ := js.GenerateTokenPair(ctx, user, ClientInfo{})

	js.now = func() time.Time { return testNow.Add(-48 * time.Hour) }
	if _, err := js.GenerateTokenPair(ctx, user, ClientInfo{}); err != nil {
		t.Fatal(err)
	}
	js.now = func() time.Time { return testNow }

	n, err := js.CleanupExpiredTokens(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredTokens: %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d tokens, want 2", n)
	}
	if _, err := js.ValidateRefreshToken(ctx, live.RefreshToken); err != nil {
		t.Errorf("live token removed: %v", err)
	}
}
