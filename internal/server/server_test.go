package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mansoorceksport/wellness/internal/config"
	"github.com/mansoorceksport/wellness/internal/domain"
	"github.com/mansoorceksport/wellness/internal/repository"
	"github.com/mansoorceksport/wellness/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-123"

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.JWT.Secret = testSecret
	cfg.Entitlement.SweepInterval = time.Hour
	cfg.Entitlement.PaymentTimeout = 5 * time.Second
	cfg.Prescription.Timeout = time.Second
	return cfg
}

func token(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	claims := domain.AccessClaims{
		UserID: userID,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func TestGoldenPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	require.NoError(t, repository.NewMongoPackageRepository(db).SeedDefaultPackages(ctx))

	users := repository.NewMongoUserRepository(db)
	member := &domain.User{Email: "member@example.com", Name: "Member"}
	require.NoError(t, users.Create(ctx, member))

	app := NewApp(AppDependencies{
		Config:      testConfig(),
		MongoDB:     db,
		RedisClient: redisClient,
	})
	t.Cleanup(app.Prescriptions.Shutdown)

	request := func(method, path, bearer string, body interface{}) (int, apiResponse) {
		var reader io.Reader
		if body != nil {
			raw, _ := json.Marshal(body)
			reader = bytes.NewReader(raw)
		}
		req, _ := http.NewRequest(method, path, reader)
		req.Header.Set("Content-Type", "application/json")
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := app.Test(req, -1)
		require.NoError(t, err)

		var out apiResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	memberToken := token(t, member.ID, domain.RoleMember)

	// Step 1: the catalog is public
	status, resp := request("GET", "/v1/packages", "", nil)
	require.Equal(t, http.StatusOK, status)
	var catalog []domain.Package
	require.NoError(t, json.Unmarshal(resp.Data, &catalog))
	assert.Len(t, catalog, 4)

	status, _ = request("GET", "/v1/packages/pkg_basic_30", "", nil)
	assert.Equal(t, http.StatusOK, status)

	// Step 2: entitlement routes need a token
	status, _ = request("GET", "/v1/packages/user/active", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, resp = request("GET", "/v1/packages/user/active", memberToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, domain.ErrNoActivePackage.Error(), resp.Message)

	// Step 3: purchase, then confirm the same payment again
	purchase := map[string]string{"package_id": "pkg_basic_30", "payment_intent_id": "pi_golden_1"}
	status, resp = request("POST", "/v1/packages/purchase", memberToken, purchase)
	require.Equal(t, http.StatusCreated, status, resp.Message)

	status, resp = request("POST", "/v1/packages/purchase", memberToken, purchase)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "payment already processed", resp.Message)

	status, resp = request("POST", "/v1/packages/purchase", memberToken,
		map[string]string{"package_id": "pkg_basic_30", "payment_intent_id": "pi_fail_card"})
	assert.Equal(t, http.StatusPaymentRequired, status)

	status, resp = request("GET", "/v1/packages/user/active", memberToken, nil)
	require.Equal(t, http.StatusOK, status)
	var active domain.UserPackage
	require.NoError(t, json.Unmarshal(resp.Data, &active))
	assert.True(t, active.IsActive)
	assert.Equal(t, domain.PackageTypeBasic, active.PackageType)

	stored, err := users.GetByID(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, active.ID, stored.ActivePackage())

	// Step 4: a fresh 30 day package is outside the renewal window
	status, resp = request("GET", "/v1/packages/user/renewal-eligibility", memberToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data), `"is_eligible":false`)

	status, _ = request("POST", "/v1/packages/user/renew", memberToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// Step 5: move expiry into the window and renew to premium
	_, err = db.Collection("user_packages").UpdateOne(ctx,
		map[string]interface{}{"payment_id": "pi_golden_1"},
		map[string]interface{}{"$set": map[string]interface{}{"expiry_date": time.Now().UTC().Add(24 * time.Hour)}},
	)
	require.NoError(t, err)

	status, resp = request("POST", "/v1/packages/user/renew", memberToken, map[string]string{"package_id": "pkg_premium_90"})
	require.Equal(t, http.StatusOK, status, resp.Message)
	var renewal struct {
		Previous domain.UserPackage `json:"previous"`
		Current  domain.UserPackage `json:"current"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &renewal))
	assert.Equal(t, domain.PackageTypePremium, renewal.Current.PackageType)
	assert.WithinDuration(t, time.Now().Add(91*24*time.Hour), renewal.Current.ExpiryDate, time.Minute)

	status, resp = request("GET", "/v1/packages/user/"+renewal.Current.ID+"/chain", memberToken, nil)
	require.Equal(t, http.StatusOK, status)
	var chain []domain.UserPackage
	require.NoError(t, json.Unmarshal(resp.Data, &chain))
	assert.Len(t, chain, 2)

	status, resp = request("GET", "/v1/packages/user/history", memberToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data), `"renewals":[{`)

	// Step 6: admin routes need the admin role
	status, _ = request("POST", "/v1/admin/entitlements/sweep", memberToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, resp = request("POST", "/v1/admin/entitlements/sweep", token(t, "ops", domain.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data), `"anomalies":[]`)
}

func TestHealthAndMetrics(t *testing.T) {
	db := testutil.SetupTestDB(t)
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	app := NewApp(AppDependencies{Config: testConfig(), MongoDB: db, RedisClient: redisClient})

	resp, err := app.Test(newRequest("GET", "/health"), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(newRequest("GET", "/metrics"), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "wellness_http_request_duration_seconds")
}

func newRequest(method, path string) *http.Request {
	req, _ := http.NewRequest(method, path, nil)
	return req
}
