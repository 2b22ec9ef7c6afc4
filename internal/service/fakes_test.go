package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/catalog/internal/apperror"
	"github.com/sakif/catalog/internal/auth"
	"github.com/sakif/catalog/internal/metrics"
	"github.com/sakif/catalog/internal/model"
	"github.com/sakif/catalog/internal/repository"
)

// =========================================================================
// FAKE STORE
// =========================================================================

// fakeStore is an in-memory repository.Store. Rows are stored by value so a
// snapshot is a map copy; WithTx restores the snapshot when fn fails, which
// is what lets tests check "nothing was written".
type fakeStore struct {
	users      map[string]model.User
	links      map[string]model.OAuthLink // keyed by provider + "|" + remote id
	categories map[string]model.Category
	products   map[string]model.Product

	seq int

	// onCreateLink runs before a link is inserted; a non-nil error aborts it.
	onCreateLink func(f *fakeStore, link *model.OAuthLink) error
	// afterRollback runs once after the next rollback, simulating a
	// concurrent transaction that committed in the meantime.
	afterRollback func(f *fakeStore)

	inTx      bool
	rollbacks int
}

var _ repository.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      map[string]model.User{},
		links:      map[string]model.OAuthLink{},
		categories: map[string]model.Category{},
		products:   map[string]model.Product{},
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%03d", prefix, f.seq)
}

// tick gives every write a distinct, increasing timestamp.
func (f *fakeStore) tick() time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(f.seq) * time.Second)
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if f.inTx {
		return fn(f)
	}

	users, links := maps.Clone(f.users), maps.Clone(f.links)
	categories, products := maps.Clone(f.categories), maps.Clone(f.products)

	f.inTx = true
	err := fn(f)
	f.inTx = false

	if err != nil {
		f.users, f.links, f.categories, f.products = users, links, categories, products
		f.rollbacks++
		if hook := f.afterRollback; hook != nil {
			f.afterRollback = nil
			hook(f)
		}
	}
	return err
}

func contains(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// --- users ---

func (f *fakeStore) CreateUser(ctx context.Context, user *model.User) error {
	for _, u := range f.users {
		if u.Username == user.Username {
			return apperror.Conflict("user", user.Username)
		}
	}
	user.ID = f.nextID("user")
	user.CreatedAt = f.tick()
	user.UpdatedAt = user.CreatedAt
	f.users[user.ID] = *user
	return nil
}

func (f *fakeStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return &u, nil
}

func (f *fakeStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, apperror.NotFound("user", username)
}

func (f *fakeStore) ListUsers(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	out := []model.User{}
	for _, u := range f.users {
		if opts.Query == "" || contains(u.Username, opts.Query) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (f *fakeStore) UpdateUser(ctx context.Context, user *model.User) error {
	if _, ok := f.users[user.ID]; !ok {
		return apperror.NotFound("user", user.ID)
	}
	for _, u := range f.users {
		if u.Username == user.Username && u.ID != user.ID {
			return apperror.Conflict("user", user.Username)
		}
	}
	f.users[user.ID] = *user
	return nil
}

func (f *fakeStore) RevokeSessions(ctx context.Context, id string) error {
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.TokenVersion++
	f.users[id] = u
	return nil
}

func (f *fakeStore) DeleteUser(ctx context.Context, id string) error {
	if _, ok := f.users[id]; !ok {
		return apperror.NotFound("user", id)
	}
	delete(f.users, id)
	for k, l := range f.links {
		if l.UserID == id {
			delete(f.links, k)
		}
	}
	return nil
}

func (f *fakeStore) CountUsers(ctx context.Context) (int, error) {
	return len(f.users), nil
}

// --- oauth links ---

func linkKey(provider, remoteID string) string {
	return provider + "|" + remoteID
}

func (f *fakeStore) CreateLink(ctx context.Context, link *model.OAuthLink) error {
	if f.onCreateLink != nil {
		if err := f.onCreateLink(f, link); err != nil {
			return err
		}
	}
	key := linkKey(link.Provider, link.ProviderUserID)
	if _, ok := f.links[key]; ok {
		return apperror.Conflict("oauth link", key)
	}
	link.ID = f.nextID("link")
	f.links[key] = *link
	return nil
}

func (f *fakeStore) GetLink(ctx context.Context, provider, providerUserID string) (*model.OAuthLink, error) {
	l, ok := f.links[linkKey(provider, providerUserID)]
	if !ok {
		return nil, apperror.NotFound("oauth link", linkKey(provider, providerUserID))
	}
	return &l, nil
}

func (f *fakeStore) UpdateLink(ctx context.Context, link *model.OAuthLink) error {
	key := linkKey(link.Provider, link.ProviderUserID)
	if _, ok := f.links[key]; !ok {
		return apperror.NotFound("oauth link", key)
	}
	f.links[key] = *link
	return nil
}

// --- categories ---

func (f *fakeStore) CreateCategory(ctx context.Context, category *model.Category) error {
	category.ID = f.nextID("cat")
	category.CreatedAt = f.tick()
	f.categories[category.ID] = *category
	return nil
}

func (f *fakeStore) GetCategory(ctx context.Context, id string) (*model.Category, error) {
	c, ok := f.categories[id]
	if !ok {
		return nil, apperror.NotFound("category", id)
	}
	return &c, nil
}

func (f *fakeStore) GetCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	for _, c := range f.categories {
		if strings.ToLower(c.Name) == strings.ToLower(name) {
			return &c, nil
		}
	}
	return nil, apperror.NotFound("category", name)
}

func (f *fakeStore) FindOverlappingCategory(ctx context.Context, name, excludeID string) (*model.Category, error) {
	for _, c := range f.categories {
		if c.ID != excludeID && (contains(c.Name, name) || contains(name, c.Name)) {
			return &c, nil
		}
	}
	return nil, apperror.NotFound("category", name)
}

func (f *fakeStore) ListCategories(ctx context.Context, opts repository.ListOptions) ([]model.Category, error) {
	out := []model.Category{}
	for _, c := range f.categories {
		if opts.Query == "" || contains(c.Name, opts.Query) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeStore) UpdateCategory(ctx context.Context, category *model.Category) error {
	if _, ok := f.categories[category.ID]; !ok {
		return apperror.NotFound("category", category.ID)
	}
	f.categories[category.ID] = *category
	return nil
}

func (f *fakeStore) DeleteCategory(ctx context.Context, id string) error {
	if _, ok := f.categories[id]; !ok {
		return apperror.NotFound("category", id)
	}
	for _, p := range f.products {
		if p.CategoryID == id {
			return &apperror.AppError{Err: apperror.ErrConflict, Message: "category still has products"}
		}
	}
	delete(f.categories, id)
	return nil
}

// --- products ---

func (f *fakeStore) CreateProduct(ctx context.Context, product *model.Product) error {
	c, ok := f.categories[product.CategoryID]
	if !ok {
		return apperror.NotFound("category", product.CategoryID)
	}
	product.ID = f.nextID("prod")
	product.CreatedAt = f.tick()
	product.UpdatedAt = product.CreatedAt
	product.CategoryName = c.Name
	f.products[product.ID] = *product
	return nil
}

func (f *fakeStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, apperror.NotFound("product", id)
	}
	p.CategoryName = f.categories[p.CategoryID].Name
	return &p, nil
}

func (f *fakeStore) matchingProducts(query string) []model.Product {
	out := []model.Product{}
	for _, p := range f.products {
		if query == "" || contains(p.Name, query) {
			p.CategoryName = f.categories[p.CategoryID].Name
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f *fakeStore) ListProducts(ctx context.Context, opts repository.ListOptions) ([]model.Product, error) {
	all := f.matchingProducts(opts.Query)
	if opts.Offset >= len(all) {
		return []model.Product{}, nil
	}
	all = all[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, nil
}

func (f *fakeStore) CountProducts(ctx context.Context, query string) (int, error) {
	return len(f.matchingProducts(query)), nil
}

func (f *fakeStore) ListProductsByCategory(ctx context.Context, categoryID string) ([]model.Product, error) {
	out := []model.Product{}
	for _, p := range f.matchingProducts("") {
		if p.CategoryID == categoryID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeStore) UpdateProduct(ctx context.Context, product *model.Product) error {
	if _, ok := f.products[product.ID]; !ok {
		return apperror.NotFound("product", product.ID)
	}
	if _, ok := f.categories[product.CategoryID]; !ok {
		return apperror.NotFound("category", product.CategoryID)
	}
	product.UpdatedAt = f.tick()
	f.products[product.ID] = *product
	return nil
}

func (f *fakeStore) DeleteProduct(ctx context.Context, id string) error {
	if _, ok := f.products[id]; !ok {
		return apperror.NotFound("product", id)
	}
	delete(f.products, id)
	return nil
}

// =========================================================================
// FAKE IMAGE STORE
// =========================================================================

type fakeImages struct {
	objects map[string][]byte
	deleted []string
	putErr  error
}

func newFakeImages() *fakeImages {
	return &fakeImages{objects: map[string][]byte{}}
}

func (f *fakeImages) Put(ctx context.Context, key string, r io.Reader) error {
	if f.putErr != nil {
		return f.putErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	f.objects[key] = buf.Bytes()
	return nil
}

func (f *fakeImages) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeImages) URL(key string) string {
	return "/uploads/" + key
}

// =========================================================================
// FAKE OAUTH PROVIDER
// =========================================================================

type fakeProvider struct {
	profile  *auth.Profile
	fetchErr error
	fetches  int
}

func (p *fakeProvider) Name() string { return "github" }

func (p *fakeProvider) AuthURL(state string) string {
	return "https://provider.test/authorize?state=" + state
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "access-" + code}, nil
}

func (p *fakeProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*auth.Profile, error) {
	p.fetches++
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	return p.profile, nil
}

// =========================================================================
// CONSTRUCTORS
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestAuthService(t *testing.T, store repository.Store) (*AuthService, *auth.TokenService) {
	t.Helper()

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	// Cost 4 is the bcrypt minimum, which keeps tests fast
	return NewAuthService(store, auth.NewPasswordServiceForTest(4), tokens, metrics.New(nil), testLogger()), tokens
}

func newTestCatalogService(store repository.Store, images *fakeImages) *CatalogService {
	return NewCatalogService(store, images, metrics.New(nil), testLogger())
}

func newTestAdminService(store *fakeStore, images *fakeImages) *AdminService {
	return NewAdminService(store, auth.NewPasswordServiceForTest(4), newTestCatalogService(store, images), testLogger())
}
