package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/candyworks/sweetshop/internal/handlers"
	"github.com/candyworks/sweetshop/internal/hash"
	"github.com/candyworks/sweetshop/internal/middleware"
	"github.com/candyworks/sweetshop/internal/models"
	"github.com/candyworks/sweetshop/internal/service"
	"github.com/candyworks/sweetshop/internal/service/search"
	httpserver "github.com/candyworks/sweetshop/internal/transport/http"
)

type testEnv struct {
	T  *testing.T
	E  *echo.Echo
	DB *gorm.DB
}

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Success    bool            `json:"success"`
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func newTestEnv(t *testing.T, authRateLimit echo.MiddlewareFunc) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Sweet{}, &models.Purchase{}, &models.User{}))

	auth := &service.AuthService{
		DB:            db,
		JWTSecret:     []byte("test-access-secret"),
		RefreshSecret: []byte("test-refresh-secret"),
	}
	inventory := &service.InventoryService{DB: db}
	purchases := &service.PurchaseService{DB: db, Inventory: inventory}

	if authRateLimit == nil {
		authRateLimit = middleware.RateLimit(1000, 1000)
	}

	e := echo.New()
	e.HTTPErrorHandler = handlers.HTTPErrorHandler
	httpserver.Register(e, &httpserver.Deps{
		AuthHandler: &handlers.AuthHandler{
			Auth:      auth,
			Purchases: purchases,
		},
		SweetHandler: &handlers.SweetHandler{
			Inventory: inventory,
			Purchases: purchases,
			Search:    &search.Service{Index: "sweets"},
		},
		Auth:          &middleware.AuthMiddleware{Auth: auth},
		AuthRateLimit: authRateLimit,
	})

	return &testEnv{T: t, E: e, DB: db}
}

func (env *testEnv) do(method, path string, body interface{}, token string) (*httptest.ResponseRecorder, envelope) {
	env.T.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(env.T, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	env.E.ServeHTTP(rec, req)

	var resp envelope
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	}
	return rec, resp
}

func (env *testEnv) register(name, email, password string) tokenPair {
	env.T.Helper()

	rec, resp := env.do(http.MethodPost, "/api/v1/users/register", map[string]string{
		"name": name, "email": email, "password": password,
	}, "")
	require.Equal(env.T, http.StatusCreated, rec.Code)

	var pair tokenPair
	require.NoError(env.T, json.Unmarshal(resp.Data, &pair))
	return pair
}

func (env *testEnv) loginAdmin() tokenPair {
	env.T.Helper()

	pwHash, err := hash.HashPassword("admin-password")
	require.NoError(env.T, err)
	admin := models.User{
		Name:         "Shop Admin",
		Email:        "admin@shop.test",
		PasswordHash: pwHash,
		IsAdmin:      true,
	}
	require.NoError(env.T, env.DB.Create(&admin).Error)

	rec, resp := env.do(http.MethodPost, "/api/v1/users/login", map[string]string{
		"email": "admin@shop.test", "password": "admin-password",
	}, "")
	require.Equal(env.T, http.StatusOK, rec.Code)

	var pair tokenPair
	require.NoError(env.T, json.Unmarshal(resp.Data, &pair))
	return pair
}

func (env *testEnv) createSweet(adminToken string, name, category string, price float64, stock uint) models.Sweet {
	env.T.Helper()

	rec, resp := env.do(http.MethodPost, "/api/v1/sweets/create", map[string]interface{}{
		"name":        name,
		"description": "a " + name,
		"category":    category,
		"price":       price,
		"stock":       stock,
	}, adminToken)
	require.Equal(env.T, http.StatusCreated, rec.Code)

	var sweet models.Sweet
	require.NoError(env.T, json.Unmarshal(resp.Data, &sweet))
	return sweet
}

func TestRegisterAndLoginFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, resp := env.do(http.MethodPost, "/api/v1/users/register", map[string]string{
		"name": "A", "email": "a@b.com", "password": "secret",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, resp.Success)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	rec, resp = env.do(http.MethodPost, "/api/v1/users/register", map[string]string{
		"name": "A2", "email": "a@b.com", "password": "other",
	}, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.False(t, resp.Success)

	rec, _ = env.do(http.MethodPost, "/api/v1/users/login", map[string]string{
		"email": "a@b.com", "password": "wrong",
	}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, resp = env.do(http.MethodPost, "/api/v1/users/login", map[string]string{
		"email": "a@b.com", "password": "secret",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var pair tokenPair
	require.NoError(t, json.Unmarshal(resp.Data, &pair))
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	cookies := rec.Result().Cookies()
	names := map[string]bool{}
	for _, ck := range cookies {
		names[ck.Name] = true
	}
	require.True(t, names["accessToken"])
	require.True(t, names["refreshToken"])
}

func TestRefreshEndpointRotates(t *testing.T) {
	env := newTestEnv(t, nil)
	pair := env.register("A", "a@b.com", "secret")

	rec, resp := env.do(http.MethodPost, "/api/v1/users/refresh", map[string]string{
		"refreshToken": pair.RefreshToken,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var rotated tokenPair
	require.NoError(t, json.Unmarshal(resp.Data, &rotated))
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// the stale token is dead
	rec, _ = env.do(http.MethodPost, "/api/v1/users/refresh", map[string]string{
		"refreshToken": pair.RefreshToken,
	}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(http.MethodPost, "/api/v1/users/refresh", nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCurrentUserAndLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	pair := env.register("A", "a@b.com", "secret")

	rec, resp := env.do(http.MethodGet, "/api/v1/users/current", nil, pair.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var user models.User
	require.NoError(t, json.Unmarshal(resp.Data, &user))
	require.Equal(t, "a@b.com", user.Email)

	rec, _ = env.do(http.MethodGet, "/api/v1/users/current", nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(http.MethodPost, "/api/v1/users/logout", nil, pair.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(http.MethodPost, "/api/v1/users/refresh", map[string]string{
		"refreshToken": pair.RefreshToken,
	}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminGates(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.register("A", "a@b.com", "secret")
	admin := env.loginAdmin()

	body := map[string]interface{}{
		"name": "fudge", "description": "soft", "category": "Chocolate", "price": 2.5,
	}

	rec, _ := env.do(http.MethodPost, "/api/v1/sweets/create", body, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(http.MethodPost, "/api/v1/sweets/create", body, user.AccessToken)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.do(http.MethodPost, "/api/v1/sweets/create", body, admin.AccessToken)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = env.do(http.MethodPost, "/api/v1/sweets/1/addStock", map[string]uint{"quantity": 5}, user.AccessToken)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSweetCRUD(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.loginAdmin()

	sweet := env.createSweet(admin.AccessToken, "gummy bears", "Gummy", 2.0, 5)
	require.Equal(t, models.PlaceholderImage, sweet.Image)

	// blank name fails validation
	rec, resp := env.do(http.MethodPost, "/api/v1/sweets/create", map[string]interface{}{
		"name": "", "description": "x", "category": "y", "price": 5,
	}, admin.AccessToken)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, resp.Success)

	rec, resp = env.do(http.MethodGet, "/api/v1/sweets", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Sweet
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list, 1)

	rec, resp = env.do(http.MethodPut, "/api/v1/sweets/1", map[string]interface{}{"price": 3.5}, admin.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated models.Sweet
	require.NoError(t, json.Unmarshal(resp.Data, &updated))
	require.Equal(t, 3.5, updated.Price)
	require.Equal(t, "gummy bears", updated.Name)

	rec, _ = env.do(http.MethodPut, "/api/v1/sweets/1", map[string]interface{}{"price": -1}, admin.AccessToken)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(http.MethodDelete, "/api/v1/sweets/1", nil, admin.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(http.MethodGet, "/api/v1/sweets/1", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStructuredSearch(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.loginAdmin()

	env.createSweet(admin.AccessToken, "Sour Gummy Worms", "Gummy", 3.5, 10)
	env.createSweet(admin.AccessToken, "gummy bears", "Gummy", 2.0, 5)
	env.createSweet(admin.AccessToken, "Dark Truffle", "Chocolate", 8.0, 2)

	rec, resp := env.do(http.MethodGet, "/api/v1/sweets/search?category=Gummy", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Sweet
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list, 2)

	rec, resp = env.do(http.MethodGet, "/api/v1/sweets/search?name=GUMMY&minPrice=3", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list = nil
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list, 1)
	require.Equal(t, "Sour Gummy Worms", list[0].Name)

	rec, _ = env.do(http.MethodGet, "/api/v1/sweets/search?minPrice=abc", nil, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// no search backend wired: q answers from the database instead of erroring
	rec, resp = env.do(http.MethodGet, "/api/v1/sweets/search?q=truffle", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list = nil
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list, 1)
	require.Equal(t, "Dark Truffle", list[0].Name)
}

func TestAddStockAndPurchase(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.loginAdmin()
	buyer := env.register("B", "b@c.com", "secret")

	sweet := env.createSweet(admin.AccessToken, "taffy", "Chewy", 1.5, 5)

	rec, resp := env.do(http.MethodPost, "/api/v1/sweets/1/purchase", map[string]interface{}{
		"quantity": 3, "comment": "weekend treat",
	}, buyer.AccessToken)
	require.Equal(t, http.StatusCreated, rec.Code)

	var receipt service.Receipt
	require.NoError(t, json.Unmarshal(resp.Data, &receipt))
	require.Equal(t, "taffy", receipt.SweetName)
	require.Equal(t, 4.5, receipt.Total)

	// only 2 left now
	rec, _ = env.do(http.MethodPost, "/api/v1/sweets/1/purchase", map[string]interface{}{"quantity": 3}, buyer.AccessToken)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = env.do(http.MethodPost, "/api/v1/sweets/1/addStock", map[string]uint{"quantity": 4}, admin.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var restocked models.Sweet
	require.NoError(t, json.Unmarshal(resp.Data, &restocked))
	require.Equal(t, uint(6), restocked.Stock)

	rec, _ = env.do(http.MethodPost, "/api/v1/sweets/1/addStock", map[string]uint{"quantity": 0}, admin.AccessToken)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// price override is ignored for plain buyers
	rec, resp = env.do(http.MethodPost, "/api/v1/sweets/1/purchase", map[string]interface{}{
		"quantity": 1, "unitPriceOverride": 0.01,
	}, buyer.AccessToken)
	require.Equal(t, http.StatusCreated, rec.Code)
	receipt = service.Receipt{}
	require.NoError(t, json.Unmarshal(resp.Data, &receipt))
	require.Equal(t, sweet.Price, receipt.Price)

	rec, resp = env.do(http.MethodGet, "/api/v1/users/purchase-history", nil, buyer.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var history service.History
	require.NoError(t, json.Unmarshal(resp.Data, &history))
	require.Equal(t, 2, history.TotalPurchases)
	require.Equal(t, 6.0, history.TotalSpent)
}

func TestAuthRateLimit(t *testing.T) {
	env := newTestEnv(t, middleware.RateLimit(1, 2))

	body := map[string]string{"email": "a@b.com", "password": "x"}

	rec, _ := env.do(http.MethodPost, "/api/v1/users/login", body, "")
	require.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	rec, _ = env.do(http.MethodPost, "/api/v1/users/login", body, "")
	require.NotEqual(t, http.StatusTooManyRequests, rec.Code)

	rec, _ = env.do(http.MethodPost, "/api/v1/users/login", body, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}
