package handlers_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonar/internal/cache"
	"sonar/internal/domain"
	"sonar/internal/http/handlers"
	"sonar/internal/localstore"
	"sonar/internal/remote/sqlbackend"
	"sonar/internal/repos"
	"sonar/internal/services"
)

type testApp struct {
	*fiber.App
	mediaDir string
	csrf     string
}

func newTestApp(t *testing.T, tweak func(*handlers.Options)) *testApp {
	t.Helper()
	media := t.TempDir()
	b, err := sqlbackend.Open(sqlbackend.Options{DSN: ":memory:", MediaDir: media, MediaBaseURL: "http://localhost/media", Seed: true})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	kv, err := localstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	c := cache.New(cache.Options{Retry: -1})
	authRepo := repos.NewAuthRepo(b, kv)
	opts := handlers.Options{
		Auth:      services.NewAuthService(authRepo, c),
		Catalog:   services.NewCatalogService(repos.NewProductRepo(b, b), repos.NewCategoryRepo(b), c, authRepo, services.CatalogOptions{}),
		MediaDir:  media,
		AccessLog: io.Discard,
	}
	if tweak != nil {
		tweak(&opts)
	}
	return &testApp{App: handlers.NewApp(opts), mediaDir: media}
}

func (a *testApp) do(t *testing.T, method, target string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.send(t, req)
}

// send runs req, adding the csrf cookie and header to writes the way a
// same-origin client does.
func (a *testApp) send(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	switch req.Method {
	case "GET", "HEAD", "OPTIONS":
	default:
		tok := a.csrfToken(t)
		req.AddCookie(&http.Cookie{Name: "csrf_", Value: tok})
		req.Header.Set("X-Csrf-Token", tok)
	}
	resp, err := a.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (a *testApp) csrfToken(t *testing.T) string {
	t.Helper()
	if a.csrf == "" {
		resp, err := a.Test(httptest.NewRequest("GET", "/api/v1/auth/csrf", nil), -1)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		a.csrf = decode[map[string]string](t, resp)["csrf"]
		require.NotEmpty(t, a.csrf)
	}
	return a.csrf
}

func (a *testApp) login(t *testing.T) {
	t.Helper()
	resp := a.do(t, "POST", "/api/v1/auth/login", map[string]string{"email": sqlbackend.DemoEmail, "password": sqlbackend.DemoPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type errBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func TestCatalogRoutesRequireSession(t *testing.T) {
	app := newTestApp(t, nil)
	for _, target := range []string{"/api/v1/products", "/api/v1/products/1", "/api/v1/categories"} {
		resp := app.do(t, "GET", target, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, target)
	}
	resp := app.do(t, "GET", "/api/v1/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginFailuresAndThrottle(t *testing.T) {
	app := newTestApp(t, func(o *handlers.Options) { o.LoginMax = 3 })

	resp := app.do(t, "POST", "/api/v1/auth/login", map[string]string{"email": "not-an-email", "password": "whatever"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = app.do(t, "POST", "/api/v1/auth/login", map[string]string{"email": sqlbackend.DemoEmail, "password": "wrong-one"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decode[errBody](t, resp)
	assert.Equal(t, "auth", body.Error)
	assert.Equal(t, "Invalid email or password", body.Message)

	app.login(t)
	me := decode[domain.User](t, app.do(t, "GET", "/api/v1/auth/me", nil))
	assert.Equal(t, sqlbackend.DemoEmail, me.Email)

	resp = app.do(t, "POST", "/api/v1/auth/login", map[string]string{"email": sqlbackend.DemoEmail, "password": sqlbackend.DemoPassword})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestProductLifecycle(t *testing.T) {
	app := newTestApp(t, nil)
	app.login(t)

	resp := app.do(t, "POST", "/api/v1/products", map[string]any{
		"nombre": "Flan", "precio": "2.10", "cantidad_stock": 3, "stock": true, "categoria_id": 4,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[domain.Product](t, resp)
	require.Positive(t, created.ID)
	id := created.ID
	target := "/api/v1/products/" + itoa(id)

	pg := decode[domain.ProductPage](t, app.do(t, "GET", "/api/v1/products?categoria=4", nil))
	assert.True(t, containsID(pg, id), "new product listed under its category")

	all := decode[domain.ProductPage](t, app.do(t, "GET", "/api/v1/products?categoria=1", nil))
	assert.Equal(t, 5, all.Total)

	resp = app.do(t, "PATCH", target, map[string]any{"nombre": "Flan casero", "empresa_id": 99})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[domain.Product](t, resp)
	assert.Equal(t, "Flan casero", updated.Name)
	assert.Equal(t, created.TenantID, updated.TenantID)

	resp = app.do(t, "POST", target+"/stock", map[string]int{"delta": -10})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, domain.ErrInsufficientStock.Error(), decode[errBody](t, resp).Message)

	stocked := decode[domain.Product](t, app.do(t, "POST", target+"/stock", map[string]int{"delta": -3}))
	assert.Zero(t, stocked.StockQty)
	assert.False(t, stocked.InStock)

	resp = app.do(t, "DELETE", target, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = app.do(t, "GET", target, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = app.do(t, "DELETE", "/api/v1/products/999999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateWithImageIsServedFromMedia(t *testing.T) {
	app := newTestApp(t, nil)
	app.login(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range map[string]string{"nombre": "Galleta", "precio": "0.75", "cantidad_stock": "12", "stock": "on", "categoria_id": "4"} {
		require.NoError(t, w.WriteField(k, v))
	}
	fw, err := w.CreateFormFile("imagen", "galleta.PNG")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("\x89PNG fake"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/api/v1/products", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp := app.send(t, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	p := decode[domain.Product](t, resp)
	require.NotNil(t, p.Image)
	assert.True(t, strings.HasSuffix(*p.Image, ".png"))
	assert.True(t, p.InStock)

	resp = app.do(t, "GET", "/media/productos/"+path.Base(*p.Image), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "\x89PNG fake", string(got))
}

func TestRejectsBadInput(t *testing.T) {
	app := newTestApp(t, nil)
	app.login(t)

	resp := app.do(t, "POST", "/api/v1/products", map[string]any{"nombre": "X", "precio": "-1", "categoria_id": 2})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[errBody](t, resp)
	assert.Equal(t, "validation", body.Error)
	assert.Equal(t, domain.ErrNegativePrice.Error(), body.Message)

	resp = app.do(t, "GET", "/api/v1/products/abc", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = app.do(t, "GET", "/api/v1/products?nombre=%25%27%20OR%201%3D1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = app.do(t, "GET", "/api/v1/products?page=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = app.do(t, "POST", "/api/v1/categories", map[string]string{"descripcion": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCategories(t *testing.T) {
	app := newTestApp(t, nil)
	app.login(t)

	resp := app.do(t, "POST", "/api/v1/categories", map[string]string{"descripcion": "Snacks"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	cats := decode[[]domain.Category](t, app.do(t, "GET", "/api/v1/categories", nil))
	var names []string
	for _, c := range cats {
		names = append(names, c.Description)
	}
	assert.Contains(t, names, "Snacks")

	resp = app.do(t, "POST", "/api/v1/categories", map[string]string{"descripcion": "Snacks"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestMediaTraversalBlocked(t *testing.T) {
	app := newTestApp(t, nil)
	for _, p := range []string{"/media/..%2f..%2fetc/passwd", "/media/%2e%2e/secret", "/media/"} {
		resp := app.do(t, "GET", p, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, p)
	}
}

func TestAPIRateLimit(t *testing.T) {
	app := newTestApp(t, func(o *handlers.Options) { o.APIMax = 3 })
	for i := 0; i < 4; i++ {
		resp := app.do(t, "GET", "/healthz", nil)
		if i < 3 {
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		}
	}
}

func TestErrorHandlerDoesNotLeak(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: handlers.ErrorHandler})
	app.Get("/err", func(c *fiber.Ctx) error { return errors.New("db timeout: secret trace") })
	app.Get("/persist", func(c *fiber.Ctx) error {
		return domain.E(domain.KindPersistence, "create product", errors.New("constraint productos_pkey"))
	})

	for target, status := range map[string]int{"/err": 500, "/persist": 502} {
		resp, err := app.Test(httptest.NewRequest("GET", target, nil))
		require.NoError(t, err)
		assert.Equal(t, status, resp.StatusCode)
		b, _ := io.ReadAll(resp.Body)
		assert.NotContains(t, string(b), "secret")
		assert.NotContains(t, string(b), "productos_pkey")
	}
}

type logEntry struct {
	Action string `json:"action"`
	Path   string `json:"path"`
}

type lockedBuf struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuf) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func captureLogs(t *testing.T, fn func()) []logEntry {
	t.Helper()
	buf := &lockedBuf{}
	oldW, oldFlags := log.Writer(), log.Flags()
	log.SetOutput(buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(oldW)
		log.SetFlags(oldFlags)
	}()

	fn()

	var entries []logEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.b.String()), "\n") {
		var e logEntry
		if err := json.Unmarshal([]byte(line), &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

func TestSecurityEventsLogged(t *testing.T) {
	app := newTestApp(t, nil)
	entries := captureLogs(t, func() {
		app.do(t, "GET", "/api/v1/products", nil)
		app.do(t, "GET", "/media/..%2fx", nil)
		app.do(t, "POST", "/api/v1/auth/login", map[string]string{"email": sqlbackend.DemoEmail, "password": "wrong-one"})
	})
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "access.denied")
	assert.Contains(t, actions, "media.traversal.block")
	assert.Contains(t, actions, "auth.login.fail")
}

func multipartProduct(t *testing.T, name string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range map[string]string{"nombre": name, "precio": "1", "cantidad_stock": "1", "categoria_id": "2"} {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestCrossSiteWritesRejected(t *testing.T) {
	app := newTestApp(t, nil)
	app.login(t)
	tok := app.csrfToken(t)

	var statuses []int
	entries := captureLogs(t, func() {
		// a foreign page posting a form, even one that somehow holds the token
		body, ct := multipartProduct(t, "Injected")
		req := httptest.NewRequest("POST", "/api/v1/products", body)
		req.Header.Set("Content-Type", ct)
		req.Header.Set("Origin", "https://evil.example")
		req.Header.Set("Sec-Fetch-Site", "cross-site")
		req.AddCookie(&http.Cookie{Name: "csrf_", Value: tok})
		req.Header.Set("X-Csrf-Token", tok)
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		statuses = append(statuses, resp.StatusCode)

		// an older browser that only sends Origin
		req = httptest.NewRequest("POST", "/api/v1/auth/logout", nil)
		req.Header.Set("Origin", "http://attacker.test")
		resp, err = app.Test(req, -1)
		require.NoError(t, err)
		statuses = append(statuses, resp.StatusCode)

		// no token at all
		body, ct = multipartProduct(t, "Injected")
		req = httptest.NewRequest("POST", "/api/v1/products", body)
		req.Header.Set("Content-Type", ct)
		resp, err = app.Test(req, -1)
		require.NoError(t, err)
		statuses = append(statuses, resp.StatusCode)

		// header that does not match the cookie
		req = httptest.NewRequest("POST", "/api/v1/auth/logout", nil)
		req.AddCookie(&http.Cookie{Name: "csrf_", Value: tok})
		req.Header.Set("X-Csrf-Token", "forged")
		resp, err = app.Test(req, -1)
		require.NoError(t, err)
		statuses = append(statuses, resp.StatusCode)
	})
	assert.Equal(t, []int{http.StatusForbidden, http.StatusForbidden, http.StatusForbidden, http.StatusForbidden}, statuses)

	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "csrf.origin.block")
	assert.Contains(t, actions, "csrf.fail")
	assert.NotContains(t, actions, "product.create")

	resp := app.do(t, "GET", "/api/v1/auth/me", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "still signed in")
	pg := decode[domain.ProductPage](t, app.do(t, "GET", "/api/v1/products?nombre=Injected", nil))
	assert.Empty(t, pg.Rows)

	// the same write from the bridge's own origin goes through
	body, ct := multipartProduct(t, "Legit")
	req := httptest.NewRequest("POST", "/api/v1/products", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	assert.Equal(t, http.StatusCreated, app.send(t, req).StatusCode)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func containsID(pg domain.ProductPage, id int64) bool {
	for _, p := range pg.Rows {
		if p.ID == id {
			return true
		}
	}
	return false
}
