package fubon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twstock_backend/internal/feature/candles/usecase"
	"twstock_backend/internal/platform/externalapi/fubon/dto"
	"twstock_backend/internal/platform/session"
)

func testCredentials(loginURL string) Config {
	return Config{
		Username: "A123456789",
		Password: "secret",
		PFXPath:  "/certs/A123456789.pfx",
		LoginURL: loginURL,
	}
}

// newLoginServer は呼び出し回数を数えるログインエンドポイントを立てます。
func newLoginServer(t *testing.T, status int, resp dto.LoginResponse) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)

		var req dto.LoginRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "A123456789", req.Username)

		w.WriteHeader(status)
		if status == http.StatusOK {
			out := resp
			if out.Token == "" {
				out.Token = "token-" + string(rune('0'+n))
			}
			_ = json.NewEncoder(w).Encode(out)
		}
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func newTokenStore(t *testing.T) (*session.TokenRedis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return session.NewTokenRedis(client, "fubon"), mr
}

func TestSession_OpenAndToken(t *testing.T) {
	t.Parallel()

	server, calls := newLoginServer(t, http.StatusOK, dto.LoginResponse{ExpiresIn: 3600})
	s := NewSession(testCredentials(server.URL), server.Client(), nil)
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	tok, err := s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls), "token is reused while valid")
}

func TestSession_TokenLogsInLazily(t *testing.T) {
	t.Parallel()

	server, calls := newLoginServer(t, http.StatusOK, dto.LoginResponse{})
	s := NewSession(testCredentials(server.URL), server.Client(), nil)

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestSession_InvalidateForcesLogin(t *testing.T) {
	t.Parallel()

	server, calls := newLoginServer(t, http.StatusOK, dto.LoginResponse{ExpiresIn: 3600})
	s := NewSession(testCredentials(server.URL), server.Client(), nil)
	ctx := context.Background()

	first, err := s.Token(ctx)
	require.NoError(t, err)
	s.Invalidate(ctx)
	second, err := s.Token(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestSession_ExpiredTokenIsRenewed(t *testing.T) {
	t.Parallel()

	server, calls := newLoginServer(t, http.StatusOK, dto.LoginResponse{ExpiresIn: 600})
	s := NewSession(testCredentials(server.URL), server.Client(), nil)
	ctx := context.Background()

	now := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	_, err := s.Token(ctx)
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	_, err = s.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestSession_SharesTokenThroughStore(t *testing.T) {
	t.Parallel()

	server, calls := newLoginServer(t, http.StatusOK, dto.LoginResponse{ExpiresIn: 3600})
	store, mr := newTokenStore(t)
	ctx := context.Background()

	a := NewSession(testCredentials(server.URL), server.Client(), store)
	tokA, err := a.Token(ctx)
	require.NoError(t, err)
	assert.True(t, mr.Exists("fubon:token:A123456789"))

	b := NewSession(testCredentials(server.URL), server.Client(), store)
	tokB, err := b.Token(ctx)
	require.NoError(t, err)

	assert.Equal(t, tokA, tokB)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls), "second process reuses the shared login")

	b.Invalidate(ctx)
	assert.False(t, mr.Exists("fubon:token:A123456789"))
}

func TestSession_CloseKeepsSharedToken(t *testing.T) {
	t.Parallel()

	server, calls := newLoginServer(t, http.StatusOK, dto.LoginResponse{ExpiresIn: 3600})
	store, mr := newTokenStore(t)
	s := NewSession(testCredentials(server.URL), server.Client(), store)
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Close(ctx))
	assert.True(t, mr.Exists("fubon:token:A123456789"))

	require.NoError(t, s.Open(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestSession_LoginErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "error: rejected credentials", status: http.StatusUnauthorized, wantErr: usecase.ErrAuth},
		{name: "error: forbidden", status: http.StatusForbidden, wantErr: usecase.ErrAuth},
		{name: "error: login server down", status: http.StatusBadGateway, wantErr: usecase.ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server, _ := newLoginServer(t, tt.status, dto.LoginResponse{})
			s := NewSession(testCredentials(server.URL), server.Client(), nil)

			_, err := s.Token(context.Background())
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestSession_MissingCredentials(t *testing.T) {
	t.Parallel()

	s := NewSession(Config{LoginURL: "http://127.0.0.1:0"}, &http.Client{}, nil)

	err := s.Open(context.Background())
	assert.True(t, errors.Is(err, usecase.ErrAuth))
}

func TestLoadClientCertificate(t *testing.T) {
	t.Parallel()

	t.Run("error: missing file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadClientCertificate(filepath.Join(t.TempDir(), "none.pfx"), "")
		assert.Error(t, err)
	})

	t.Run("error: not a pkcs12 file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "bad.pfx")
		require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))

		_, err := LoadClientCertificate(path, "pw")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode pfx")
	})
}
