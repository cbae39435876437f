package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/kitchenhub/internal/metrics"
	"github.com/hitoshi/kitchenhub/internal/middleware"
	"github.com/hitoshi/kitchenhub/internal/model"
)

// tokenAuthenticator は固定トークンのみを受け付けるAuthenticator。
type tokenAuthenticator map[string]string

func (a tokenAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	if userID, ok := a[token]; ok {
		return userID, nil
	}
	return "", errors.New("invalid session")
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(t *testing.T, svc KitchenServiceInterface, mutate func(*RouterDeps)) http.Handler {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.PerMinuteConfig(600, 1))
	t.Cleanup(rl.Stop)

	deps := &RouterDeps{
		Authenticator:  tokenAuthenticator{"token-1": "user-1"},
		AllowedOrigins: []string{"https://app.example.com"},
		RateLimiter:    rl,
		WebSocket: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, _ := middleware.UserIDFromContext(r.Context())
			io.WriteString(w, "ws:"+userID)
		}),
		KitchenService: svc,
		MaxImageSize:   1024,
		HealthChecker:  pingFunc(func(ctx context.Context) error { return nil }),
	}
	if mutate != nil {
		mutate(deps)
	}
	return NewRouter(deps)
}

func authed(req *http.Request) *http.Request {
	req.AddCookie(&http.Cookie{Name: middleware.DefaultSessionCookieName, Value: "token-1"})
	return req
}

func TestNewRouter_RequiresSession(t *testing.T) {
	router := newTestRouter(t, &mockKitchenService{}, nil)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/ws"},
		{http.MethodPost, "/api/kitchens"},
		{http.MethodPut, "/api/kitchens/K1/custom-products/C1/image"},
		{http.MethodGet, "/api/kitchens/K1/custom-products/C1/image"},
		{http.MethodPost, "/api/kitchens/K1/grocery/P1/buy"},
		{http.MethodDelete, "/api/kitchens/K1/members/me"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestNewRouter_WebSocketReceivesUserID(t *testing.T) {
	router := newTestRouter(t, &mockKitchenService{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authed(httptest.NewRequest(http.MethodGet, "/ws", nil)))
	if w.Body.String() != "ws:user-1" {
		t.Errorf("body = %q, want ws:user-1", w.Body.String())
	}
}

func TestNewRouter_RoutesToKitchenHandler(t *testing.T) {
	var called []string
	svc := &mockKitchenService{
		createKitchenFn: func(ctx context.Context, userID, name string) (*model.Kitchen, error) {
			called = append(called, "create")
			return &model.Kitchen{ID: "K1", Name: name, OwnerID: userID}, nil
		},
		leaveKitchenFn: func(ctx context.Context, userID, kitchenID string) error {
			called = append(called, "leave:"+kitchenID)
			return nil
		},
	}
	router := newTestRouter(t, svc, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authed(httptest.NewRequest(http.MethodPost, "/api/kitchens", strings.NewReader(`{"name":"Home"}`))))
	if w.Code != http.StatusCreated {
		t.Errorf("POST /api/kitchens status = %d, want 201", w.Code)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers should be set")
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authed(httptest.NewRequest(http.MethodDelete, "/api/kitchens/K7/members/me", nil)))
	if w.Code != http.StatusNoContent {
		t.Errorf("DELETE members/me status = %d, want 204", w.Code)
	}

	if strings.Join(called, ",") != "create,leave:K7" {
		t.Errorf("called = %v", called)
	}
}

func TestNewRouter_UploadRateLimited(t *testing.T) {
	svc := &mockKitchenService{
		uploadImageFn: func(ctx context.Context, userID, kitchenID, productID string, data []byte) error { return nil },
	}
	router := newTestRouter(t, svc, nil)

	upload := func() int {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, authed(httptest.NewRequest(http.MethodPut,
			"/api/kitchens/K1/custom-products/C1/image", strings.NewReader("img"))))
		return w.Code
	}
	if got := upload(); got != http.StatusNoContent {
		t.Fatalf("first upload status = %d, want 204", got)
	}
	if got := upload(); got != http.StatusTooManyRequests {
		t.Errorf("second upload status = %d, want 429", got)
	}
}

func TestNewRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(t, &mockKitchenService{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/kitchens", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestNewRouter_Health(t *testing.T) {
	tests := []struct {
		name string
		ping error
		want int
	}{
		{"ストア到達可能", nil, http.StatusOK},
		{"ストア到達不可", errors.New("db down"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, &mockKitchenService{}, func(d *RouterDeps) {
				d.HealthChecker = pingFunc(func(ctx context.Context) error { return tt.ping })
			})
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestNewRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	router := newTestRouter(t, &mockKitchenService{}, func(d *RouterDeps) {
		d.Metrics = collector
		d.Gatherer = reg
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `kitchenhub_http_status_total{status_code="200"}`) {
		t.Errorf("metrics output missing http status counter:\n%s", w.Body.String())
	}
}

func TestNewRouter_UnknownRoute(t *testing.T) {
	router := newTestRouter(t, &mockKitchenService{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authed(httptest.NewRequest(http.MethodGet, "/api/unknown", nil)))
	// 存在しないルートには404か405が返ること
	if w.Code != http.StatusNotFound && w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 404 or 405", w.Code)
	}
}
