package repos_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sonar/internal/domain"
	"sonar/internal/localstore"
	"sonar/internal/remote"
	"sonar/internal/remote/sqlbackend"
	"sonar/internal/repos"
)

func newBackend(t *testing.T) *sqlbackend.Backend {
	t.Helper()
	b, err := sqlbackend.Open(sqlbackend.Options{
		DSN:          ":memory:",
		MediaDir:     t.TempDir(),
		MediaBaseURL: "http://localhost:8080/media",
		SessionTTL:   time.Hour,
		Seed:         true,
	})
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

// recordingRows counts calls and keeps the last values written.
type recordingRows struct {
	remote.Rows
	mu         sync.Mutex
	selects    int
	inserts    int
	updates    int
	lastValues map[string]any
}

func (r *recordingRows) Select(ctx context.Context, q remote.Query, dest any) (int, error) {
	r.mu.Lock()
	r.selects++
	r.mu.Unlock()
	return r.Rows.Select(ctx, q, dest)
}

func (r *recordingRows) Insert(ctx context.Context, table string, values map[string]any, dest any) error {
	r.mu.Lock()
	r.inserts++
	r.lastValues = values
	r.mu.Unlock()
	return r.Rows.Insert(ctx, table, values, dest)
}

func (r *recordingRows) Update(ctx context.Context, table string, values map[string]any, where []remote.Predicate, dest any) (int, error) {
	r.mu.Lock()
	r.updates++
	r.lastValues = values
	r.mu.Unlock()
	return r.Rows.Update(ctx, table, values, where, dest)
}

func widget() domain.ProductDraft {
	return domain.ProductDraft{
		Name:       "Widget",
		Price:      decimal.NewFromInt(10),
		InStock:    true,
		StockQty:   5,
		CategoryID: 2,
	}
}

func TestCreateReturnsFreshPositiveIDs(t *testing.T) {
	b := newBackend(t)
	repo := repos.NewProductRepo(b, b)
	ctx := context.Background()

	seen := map[int64]bool{}
	for i, price := range []int64{0, 1, 250} {
		d := widget()
		d.Name = "Item " + string(rune('A'+i))
		d.Price = decimal.NewFromInt(price)
		d.StockQty = i
		p, err := repo.Create(ctx, d)
		if err != nil {
			t.Fatal(err)
		}
		if p.ID <= 0 || seen[p.ID] {
			t.Fatalf("id %d is not positive and fresh", p.ID)
		}
		seen[p.ID] = true
	}
}

func TestCreateRejectsInvalidDraftsWithoutRemoteCall(t *testing.T) {
	b := newBackend(t)
	rows := &recordingRows{Rows: b}
	repo := repos.NewProductRepo(rows, b)

	bad := map[string]func(*domain.ProductDraft){
		"empty name":     func(d *domain.ProductDraft) { d.Name = "  " },
		"negative price": func(d *domain.ProductDraft) { d.Price = decimal.NewFromFloat(-0.01) },
		"negative stock": func(d *domain.ProductDraft) { d.StockQty = -1 },
		"no category":    func(d *domain.ProductDraft) { d.CategoryID = 0 },
	}
	for name, mutate := range bad {
		d := widget()
		mutate(&d)
		_, err := repo.Create(context.Background(), d)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%s: want validation error, got %v", name, err)
		}
	}
	if rows.inserts != 0 || rows.selects != 0 {
		t.Fatalf("remote was called: inserts=%d selects=%d", rows.inserts, rows.selects)
	}
}

func TestCreatedProductIsListedInItsCategory(t *testing.T) {
	b := newBackend(t)
	repo := repos.NewProductRepo(b, b)
	ctx := context.Background()

	p, err := repo.Create(ctx, widget())
	if err != nil {
		t.Fatal(err)
	}
	if p.ID <= 0 || p.Status != domain.StatusActive {
		t.Fatalf("unexpected row: %+v", p)
	}

	page, err := repo.List(ctx, domain.ProductFilter{CategoryID: 2})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, row := range page.Rows {
		if row.CategoryID != 2 {
			t.Fatalf("row from category %d leaked into the filter", row.CategoryID)
		}
		found = found || row.ID == p.ID
	}
	if !found {
		t.Fatalf("created product %d missing from category listing", p.ID)
	}
}

func TestSoftDeleteKeepsRow(t *testing.T) {
	b := newBackend(t)
	repo := repos.NewProductRepo(b, b)
	ctx := context.Background()

	p, err := repo.Create(ctx, widget())
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.SoftDelete(ctx, p.ID); err != nil {
		t.Fatal(err)
	}

	page, err := repo.List(ctx, domain.ProductFilter{})
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range page.Rows {
		if row.ID == p.ID {
			t.Fatal("soft-deleted product still listed")
		}
	}
	var estado int
	if err := b.DB().Get(&estado, `SELECT estado FROM productos WHERE id = ?`, p.ID); err != nil {
		t.Fatalf("row should still exist: %v", err)
	}
	if estado != domain.StatusDeleted {
		t.Fatalf("estado = %d", estado)
	}
	if _, err := repo.Get(ctx, p.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deleted product detail: want not found, got %v", err)
	}
}

func TestSoftDeleteMissingProduct(t *testing.T) {
	b := newBackend(t)
	repo := repos.NewProductRepo(b, b)
	if err := repo.SoftDelete(context.Background(), 4242); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestListSentinelCategoryMeansAll(t *testing.T) {
	b := newBackend(t)
	repo := repos.NewProductRepo(b, b)
	ctx := context.Background()

	all, err := repo.List(ctx, domain.ProductFilter{CategoryID: domain.AllCategories})
	if err != nil {
		t.Fatal(err)
	}
	none, err := repo.List(ctx, domain.ProductFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if all.Total != none.Total || len(all.Rows) != len(none.Rows) {
		t.Fatalf("sentinel filtered rows: %d vs %d", all.Total, none.Total)
	}
	cats := map[int64]bool{}
	for _, p := range all.Rows {
		cats[p.CategoryID] = true
	}
	if len(cats) < 3 {
		t.Fatalf("want rows across categories, got %v", cats)
	}
}

func TestListNameIsCaseInsensitiveSubstring(t *testing.T) {
	b := newBackend(t)
	repo := repos.NewProductRepo(b, b)

	page, err := repo.List(context.Background(), domain.ProductFilter{Name: "  EMPANADA "})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || len(page.Rows) != 1 || !strings.HasPrefix(page.Rows[0].Name, "Empanada") {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestListPages(t *testing.T) {
	b := newBackend(t)
	repo := repos.NewProductRepo(b, b)
	repo.PageSize = 2
	ctx := context.Background()

	first, err := repo.List(ctx, domain.ProductFilter{Page: 1})
	if err != nil {
		t.Fatal(err)
	}
	second, err := repo.List(ctx, domain.ProductFilter{Page: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Rows) != 2 || len(second.Rows) != 2 || first.Total != 4 || second.Total != 4 {
		t.Fatalf("pages: %d/%d rows, totals %d/%d", len(first.Rows), len(second.Rows), first.Total, second.Total)
	}
	if second.Rows[0].ID <= first.Rows[1].ID {
		t.Fatal("second page overlaps the first")
	}

	unpaged, err := repo.List(ctx, domain.ProductFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(unpaged.Rows) != 4 {
		t.Fatalf("page 0 should not be ranged, got %d rows", len(unpaged.Rows))
	}
}

func TestUpdateStripsImmutableFields(t *testing.T) {
	b := newBackend(t)
	rows := &recordingRows{Rows: b}
	repo := repos.NewProductRepo(rows, b)
	ctx := context.Background()

	p, err := repo.Create(ctx, widget())
	if err != nil {
		t.Fatal(err)
	}
	otherID, label, tenant, name := int64(999), "Hacked", int64(77), "Gadget"
	got, err := repo.Update(ctx, p.ID, domain.ProductPatch{
		ID: &otherID, Category: &label, TenantID: &tenant, Name: &name,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, col := range []string{"id", "categoria", "empresa_id"} {
		if _, ok := rows.lastValues[col]; ok {
			t.Errorf("column %s was sent", col)
		}
	}
	if got.ID != p.ID || got.Name != "Gadget" || got.TenantID != p.TenantID {
		t.Fatalf("unexpected row after update: %+v", got)
	}
}

func TestUpdateMissingRow(t *testing.T) {
	b := newBackend(t)
	repo := repos.NewProductRepo(b, b)
	name := "x"
	if _, err := repo.Update(context.Background(), 4242, domain.ProductPatch{Name: &name}); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("want persistence error, got %v", err)
	}
	neg := -3
	if _, err := repo.Update(context.Background(), 1, domain.ProductPatch{StockQty: &neg}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
}

type brokenStorage struct{ remote.Storage }

func (brokenStorage) Upload(context.Context, string, string, []byte, string) error {
	return errors.New("bucket offline")
}

func (brokenStorage) Remove(context.Context, string, ...string) error {
	return errors.New("bucket offline")
}

func TestImages(t *testing.T) {
	b := newBackend(t)
	repo := repos.NewProductRepo(b, b)
	ctx := context.Background()

	img, err := repo.UploadImage(ctx, []byte("png"), "Foto Tienda.PNG")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(img.Key, ".png") || !strings.HasSuffix(img.URL, "/productos/"+img.Key) {
		t.Fatalf("unexpected image: %+v", img)
	}
	key, err := repos.ImageKey(img.URL)
	if err != nil || key != img.Key {
		t.Fatalf("ImageKey = %q, %v", key, err)
	}
	if err := repo.DeleteImage(ctx, img.Key); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteImage(ctx, img.Key); err != nil {
		t.Fatalf("delete is idempotent: %v", err)
	}

	broken := repos.NewProductRepo(b, brokenStorage{b})
	if _, err := broken.UploadImage(ctx, []byte("x"), "a.jpg"); !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("want storage error, got %v", err)
	}
	if err := broken.DeleteImage(ctx, "a.jpg"); !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("want storage error, got %v", err)
	}
}

func TestCategories(t *testing.T) {
	b := newBackend(t)
	repo := repos.NewCategoryRepo(b)
	ctx := context.Background()

	if _, err := repo.Create(ctx, "   ", 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
	c, err := repo.Create(ctx, "Abarrotes", 1)
	if err != nil {
		t.Fatal(err)
	}
	if c.ID <= 0 || c.Status != domain.StatusActive {
		t.Fatalf("unexpected category: %+v", c)
	}
	if _, err := repo.Create(ctx, "abarrotes", 1); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("duplicate description: want persistence error, got %v", err)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Description > list[i].Description {
			t.Fatalf("not ordered: %q before %q", list[i-1].Description, list[i].Description)
		}
	}
}

// flakyAuth fails GetUser on demand.
type flakyAuth struct {
	remote.Auth
	failGetUser bool
}

func (f *flakyAuth) GetUser(ctx context.Context, token string) (domain.User, error) {
	if f.failGetUser {
		return domain.User{}, errors.New("connection reset")
	}
	return f.Auth.GetUser(ctx, token)
}

func newAuthRepo(t *testing.T) (*repos.AuthRepo, *sqlbackend.Backend, *flakyAuth, *localstore.Store) {
	t.Helper()
	b := newBackend(t)
	kv, err := localstore.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kv.Close() })
	fa := &flakyAuth{Auth: b}
	return repos.NewAuthRepo(fa, kv), b, fa, kv
}

func TestSignInPersistsSessionAndUser(t *testing.T) {
	repo, _, _, _ := newAuthRepo(t)
	ctx := context.Background()

	if _, err := repo.SignIn(ctx, sqlbackend.DemoEmail, "wrong"); !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("want auth error, got %v", err)
	}
	if repo.IsAuthenticated() {
		t.Fatal("failed sign in must not authenticate")
	}

	u, err := repo.SignIn(ctx, sqlbackend.DemoEmail, sqlbackend.DemoPassword)
	if err != nil {
		t.Fatal(err)
	}
	if u.Email != sqlbackend.DemoEmail || u.TenantID != 1 {
		t.Fatalf("unexpected user: %+v", u)
	}
	if !repo.IsAuthenticated() || !repo.IsAuthenticated() {
		t.Fatal("IsAuthenticated should be true and stable")
	}
	stored, ok := repo.StoredUser()
	if !ok || stored.ID != u.ID {
		t.Fatalf("stored user = %+v, %v", stored, ok)
	}
	if repo.AccessToken() == "" {
		t.Fatal("missing access token")
	}
}

func TestSignInUserLookupFailurePersistsNothing(t *testing.T) {
	repo, _, fa, kv := newAuthRepo(t)
	fa.failGetUser = true

	if _, err := repo.SignIn(context.Background(), sqlbackend.DemoEmail, sqlbackend.DemoPassword); !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("want auth error, got %v", err)
	}
	for _, k := range []string{repos.KeyAuthData, repos.KeyCurrentUser} {
		if _, ok, _ := kv.Get(k); ok {
			t.Fatalf("%s persisted after failed sign in", k)
		}
	}
}

func TestCurrentUser(t *testing.T) {
	repo, b, fa, _ := newAuthRepo(t)
	ctx := context.Background()

	if u, err := repo.CurrentUser(ctx); u != nil || err != nil {
		t.Fatalf("no session: got %+v %v", u, err)
	}
	u, err := repo.SignIn(ctx, sqlbackend.DemoEmail, sqlbackend.DemoPassword)
	if err != nil {
		t.Fatal(err)
	}
	cur, err := repo.CurrentUser(ctx)
	if err != nil || cur == nil || cur.ID != u.ID {
		t.Fatalf("current user = %+v, %v", cur, err)
	}

	fa.failGetUser = true
	if _, err := repo.CurrentUser(ctx); !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("unexpected failure should surface: %v", err)
	}
	fa.failGetUser = false

	// the backend forgets the session
	if err := b.SignOut(ctx, repo.AccessToken()); err != nil {
		t.Fatal(err)
	}
	if cur, err := repo.CurrentUser(ctx); cur != nil || err != nil {
		t.Fatalf("revoked session: got %+v %v", cur, err)
	}
}

func TestSignOutClearsLocalState(t *testing.T) {
	repo, _, _, _ := newAuthRepo(t)
	ctx := context.Background()

	if _, err := repo.SignIn(ctx, sqlbackend.DemoEmail, sqlbackend.DemoPassword); err != nil {
		t.Fatal(err)
	}
	if err := repo.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	if repo.IsAuthenticated() {
		t.Fatal("still authenticated after sign out")
	}
	if _, ok := repo.StoredUser(); ok {
		t.Fatal("user snapshot survived sign out")
	}
}

func TestIsAuthenticatedToleratesGarbage(t *testing.T) {
	repo, _, _, kv := newAuthRepo(t)
	if err := kv.Set(map[string]string{repos.KeyAuthData: "{not json"}); err != nil {
		t.Fatal(err)
	}
	if repo.IsAuthenticated() || repo.IsAuthenticated() {
		t.Fatal("garbage session must read as signed out")
	}

	expired := `{"access_token":"t","expires_at":1}`
	if err := kv.Set(map[string]string{repos.KeyAuthData: expired}); err != nil {
		t.Fatal(err)
	}
	if repo.IsAuthenticated() {
		t.Fatal("expired session must read as signed out")
	}
}
