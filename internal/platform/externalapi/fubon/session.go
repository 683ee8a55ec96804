package fubon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"twstock_backend/internal/feature/candles/usecase"
	"twstock_backend/internal/platform/externalapi/fubon/dto"
	"twstock_backend/internal/platform/session"
)

// tokenSkew はトークン期限の直前に再ログインするための余裕です。
const tokenSkew = time.Minute

// TokenStore はログインで得たトークンをプロセス間で共有するための保存先です。
// Following Go convention: interfaces are defined by the consumer, not the provider.
type TokenStore interface {
	Get(ctx context.Context, account string) (session.Token, error)
	Save(ctx context.Context, account string, token session.Token) error
	Delete(ctx context.Context, account string) error
}

// Session は上流APIへのログイン状態を管理します。
// Open で明示的にログインし、Close で破棄します。Invalidate 後の Token 呼び出しは自動で再ログインします。
type Session struct {
	cfg    Config
	client *http.Client // 相互TLS用クライアント
	store  TokenStore   // nil の場合はメモリ上のみで保持
	now    func() time.Time

	mu    sync.Mutex
	token session.Token
}

// NewSession はセッションを生成します。ログインは Open か最初の Token 呼び出しまで行いません。
func NewSession(cfg Config, client *http.Client, store TokenStore) *Session {
	return &Session{cfg: cfg, client: client, store: store, now: time.Now}
}

// Open は有効なトークンを用意します。共有ストアに生きたトークンがあればそれを使い、無ければログインします。
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.ensure(ctx)
	return err
}

// Token は現在のアクセストークンを返します。
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, err := s.ensure(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Invalidate は上流に拒否されたトークンを破棄します。共有ストアからも削除します。
func (s *Session) Invalidate(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = session.Token{}
	if s.store != nil {
		if err := s.store.Delete(ctx, s.cfg.Username); err != nil {
			slog.Warn("failed to delete shared upstream token", "error", err)
		}
	}
}

// Close はメモリ上のトークンとアイドル接続を破棄します。共有ストアのトークンは他プロセスが使うため残します。
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = session.Token{}
	s.client.CloseIdleConnections()
	slog.Info("upstream session closed")
	return nil
}

// ensure は s.mu を保持した状態で呼び出します。
func (s *Session) ensure(ctx context.Context) (session.Token, error) {
	now := s.now()
	if s.token.Valid(now, tokenSkew) {
		return s.token, nil
	}

	if s.store != nil {
		tok, err := s.store.Get(ctx, s.cfg.Username)
		switch {
		case err == nil && tok.Valid(now, tokenSkew):
			s.token = tok
			slog.Debug("reusing shared upstream token")
			return tok, nil
		case err != nil && !errors.Is(err, session.ErrTokenNotFound):
			slog.Warn("failed to read shared upstream token", "error", err)
		}
	}

	tok, err := s.login(ctx)
	if err != nil {
		return session.Token{}, err
	}
	s.token = tok
	if s.store != nil {
		if err := s.store.Save(ctx, s.cfg.Username, tok); err != nil {
			slog.Warn("failed to share upstream token", "error", err)
		}
	}
	return tok, nil
}

func (s *Session) login(ctx context.Context) (session.Token, error) {
	if err := s.cfg.Validate(); err != nil {
		return session.Token{}, fmt.Errorf("%w: %v", usecase.ErrAuth, err)
	}

	body, err := json.Marshal(dto.LoginRequest{Username: s.cfg.Username, Password: s.cfg.Password})
	if err != nil {
		return session.Token{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.LoginURL, bytes.NewReader(body))
	if err != nil {
		return session.Token{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return session.Token{}, fmt.Errorf("%w: login: %v", usecase.ErrNetwork, err)
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			slog.Warn("failed to close response body", "error", err)
		}
	}()

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return session.Token{}, fmt.Errorf("%w: login rejected (http %d)", usecase.ErrAuth, res.StatusCode)
	case res.StatusCode >= 500:
		return session.Token{}, fmt.Errorf("%w: login http %d", usecase.ErrNetwork, res.StatusCode)
	case res.StatusCode >= 400:
		return session.Token{}, fmt.Errorf("%w: login http %d", usecase.ErrAuth, res.StatusCode)
	}

	var out dto.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return session.Token{}, fmt.Errorf("%w: decode login response: %v", usecase.ErrUpstreamData, err)
	}
	if out.Token == "" {
		return session.Token{}, fmt.Errorf("%w: login returned empty token", usecase.ErrAuth)
	}

	now := s.now()
	tok := session.Token{AccessToken: out.Token, IssuedAt: now}
	if out.ExpiresIn > 0 {
		tok.ExpiresAt = now.Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	slog.Info("upstream login succeeded", "expires_at", tok.ExpiresAt)
	return tok, nil
}
