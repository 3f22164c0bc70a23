package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/authnest/internal/auth"
)

type stubSessionView struct {
	state  auth.PageState
	err    error
	google bool
}

func (s *stubSessionView) PageState(c *gin.Context) (auth.PageState, error) {
	return s.state, s.err
}

func (s *stubSessionView) GoogleEnabled() bool {
	return s.google
}

func newTestRouter(t *testing.T, view SessionView, user *auth.SessionUser) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tmpl, err := Templates()
	if err != nil {
		t.Fatalf("Templates returned error: %v", err)
	}

	router := gin.New()
	router.SetHTMLTemplate(tmpl)
	router.StaticFS("/static", StaticFS())
	if user != nil {
		router.Use(func(c *gin.Context) {
			c.Set(auth.ContextUserKey, *user)
			c.Next()
		})
	}

	h := NewHandlers(view, nil)
	router.GET("/", h.Home)
	router.GET("/login", h.Login)
	router.GET("/register", h.Register)
	router.GET("/page", h.Protected)
	router.GET("/health", Health)
	return router
}

func serve(router *gin.Engine, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLoginPageRendersFormWithCSRFToken(t *testing.T) {
	view := &stubSessionView{
		state:  auth.PageState{CSRFToken: "tok-123", Flashes: []string{"パスワードが違います"}},
		google: true,
	}
	rec := serve(newTestRouter(t, view, nil), "/login")

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{
		`action="/login"`,
		`name="csrf_token" value="tok-123"`,
		`name="username"`,
		`name="password"`,
		`href="/auth/google"`,
		"パスワードが違います",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("login page missing %q:\n%s", want, body)
		}
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("unexpected Cache-Control: %s", rec.Header().Get("Cache-Control"))
	}
}

func TestRegisterPageHidesGoogleWhenDisabled(t *testing.T) {
	view := &stubSessionView{state: auth.PageState{CSRFToken: "tok"}}
	rec := serve(newTestRouter(t, view, nil), "/register")

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `action="/register"`) {
		t.Fatalf("register form missing:\n%s", body)
	}
	if strings.Contains(body, "/auth/google") {
		t.Fatal("google button must be hidden when disabled")
	}
}

func TestHomeShowsLinksByLoginState(t *testing.T) {
	anon := serve(newTestRouter(t, &stubSessionView{}, nil), "/")
	if !strings.Contains(anon.Body.String(), `href="/login"`) {
		t.Fatalf("anonymous home should link to login:\n%s", anon.Body.String())
	}

	view := &stubSessionView{state: auth.PageState{User: &auth.SessionUser{ID: "u1", Email: "a@example.com"}}}
	member := serve(newTestRouter(t, view, nil), "/")
	if !strings.Contains(member.Body.String(), `href="/logout"`) {
		t.Fatalf("logged-in home should link to logout:\n%s", member.Body.String())
	}
}

func TestProtectedPage(t *testing.T) {
	user := &auth.SessionUser{ID: "u1", Email: "<b>a@example.com</b>"}
	rec := serve(newTestRouter(t, &stubSessionView{}, user), "/page")

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "&lt;b&gt;a@example.com&lt;/b&gt;") {
		t.Fatalf("email must be rendered escaped:\n%s", rec.Body.String())
	}
}

func TestProtectedPageWithoutUserRedirects(t *testing.T) {
	rec := serve(newTestRouter(t, &stubSessionView{}, nil), "/page")

	if rec.Code != http.StatusFound || rec.Header().Get("Location") != auth.PathLogin {
		t.Fatalf("unexpected response: %d %s", rec.Code, rec.Header().Get("Location"))
	}
}

func TestRenderSessionError(t *testing.T) {
	view := &stubSessionView{err: errors.New("securecookie: the value is not valid")}
	rec := serve(newTestRouter(t, view, nil), "/login")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestStaticAssets(t *testing.T) {
	rec := serve(newTestRouter(t, &stubSessionView{}, nil), "/static/css/styles.css")

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), ".container") {
		t.Fatal("unexpected stylesheet content")
	}
}

func TestHealth(t *testing.T) {
	rec := serve(newTestRouter(t, &stubSessionView{}, nil), "/health")

	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("unexpected status: %s", payload["status"])
	}
}
