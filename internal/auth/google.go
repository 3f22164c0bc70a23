package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/yourusername/authnest/internal/config"
)

// googleScopes は Google に要求するスコープです。
var googleScopes = []string{"profile", "email"}

// GoogleProfile は userinfo エンドポイントの応答のうち利用する項目です。
type GoogleProfile struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	Picture       string `json:"picture"`
}

// GoogleProvider は Google OAuth2 の認可URL生成とプロフィール取得を行います。
type GoogleProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
}

// NewGoogleProvider は設定から GoogleProvider を作成します。
// 認証情報が未設定の場合は nil を返します。
func NewGoogleProvider(cfg *config.Config) *GoogleProvider {
	if cfg == nil || !cfg.GoogleEnabled() {
		return nil
	}
	return NewGoogleProviderWithEndpoint(
		cfg.GoogleClientID,
		cfg.GoogleClientSecret,
		cfg.GoogleRedirectURL,
		cfg.GoogleUserInfoURL,
		google.Endpoint,
	)
}

// NewGoogleProviderWithEndpoint はエンドポイントを指定して GoogleProvider を作成します。
func NewGoogleProviderWithEndpoint(clientID, clientSecret, redirectURL, userInfoURL string, endpoint oauth2.Endpoint) *GoogleProvider {
	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       googleScopes,
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
	}
}

// AuthCodeURL は Google の同意画面への URL を返します。
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// FetchProfile は認可コードをトークンに交換し、ユーザー情報を取得します。
func (p *GoogleProvider) FetchProfile(ctx context.Context, code string) (*GoogleProfile, error) {
	if code == "" {
		return nil, errors.New("authorization code is required")
	}

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("userinfo returned %d: %s", resp.StatusCode, body)
	}

	var profile GoogleProfile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return &profile, nil
}
