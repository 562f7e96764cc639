package github

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentops/incident-agent/internal/credentials"
	"github.com/incidentops/incident-agent/internal/tools"
)

func generateTestKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pemData := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return key, string(pemData)
}

func decode(t *testing.T, payload string) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(payload), &out))
	return out
}

// newTestServer serves the installation-token exchange plus the given API
// handler.
func newTestServer(t *testing.T, apiHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.HasPrefix(req.URL.Path, "/app/installations/") {
			assert.Equal(t, http.MethodPost, req.Method)
			assert.True(t, strings.HasPrefix(req.Header.Get("Authorization"), "Bearer "))
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"token":      "ghs_testtoken",
				"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
			})
			return
		}
		assert.Equal(t, "Bearer ghs_testtoken", req.Header.Get("Authorization"))
		apiHandler(w, req)
	}))
}

func testCreds(t *testing.T) *credentials.GitHub {
	_, pemKey := generateTestKey(t)
	return &credentials.GitHub{
		AppID:          "12345",
		PrivateKey:     pemKey,
		InstallationID: "678",
		Owner:          "acme",
		Repo:           "api",
	}
}

func TestNotConfigured(t *testing.T) {
	r := tools.NewRegistry(nil)
	New(nil).Register(r)

	for _, name := range r.Names() {
		out := decode(t, r.Dispatch(context.Background(), name, map[string]interface{}{}))
		assert.Equal(t, false, out["success"], "tool %s", name)
		assert.Equal(t, "GitHub not configured", out["error"], "tool %s", name)
	}
}

func TestAppJWTSignature(t *testing.T) {
	key, pemKey := generateTestKey(t)

	auth, err := newAppAuth("12345", pemKey, "678", defaultBaseURL, http.DefaultClient)
	require.NoError(t, err)

	now := time.Now()
	token, err := auth.appJWT(now)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims struct {
		Iat int64  `json:"iat"`
		Exp int64  `json:"exp"`
		Iss string `json:"iss"`
	}
	require.NoError(t, json.Unmarshal(claimsJSON, &claims))
	assert.Equal(t, "12345", claims.Iss)
	assert.Equal(t, now.Add(-60*time.Second).Unix(), claims.Iat)
	assert.Greater(t, claims.Exp, now.Unix())

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	digest := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	require.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig))
}

func TestBadPrivateKeySurfacesAsFailure(t *testing.T) {
	creds := testCreds(t)
	creds.PrivateKey = "not a key"

	r := tools.NewRegistry(nil)
	New(creds).Register(r)

	out := decode(t, r.Dispatch(context.Background(), "get_recent_commits", map[string]interface{}{
		"owner": "acme", "repo": "api",
	}))
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "private key")
}

func TestGetRecentDeploymentsPrimeSuspect(t *testing.T) {
	now := time.Now().UTC()
	srv := newTestServer(t, func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Path == "/repos/acme/api/deployments":
			json.NewEncoder(w).Encode([]map[string]interface{}{
				{
					"id": 1, "sha": "abcdef1234567890", "ref": "main",
					"environment": "production",
					"created_at":  now.Add(-10 * time.Minute).Format(time.RFC3339),
					"creator":     map[string]interface{}{"login": "deploy-bot"},
				},
				{
					"id": 2, "sha": "0123456789abcdef", "ref": "main",
					"environment": "production",
					"created_at":  now.Add(-30 * time.Hour).Format(time.RFC3339),
				},
			})
		case strings.HasSuffix(req.URL.Path, "/statuses"):
			json.NewEncoder(w).Encode([]map[string]interface{}{{"state": "success"}})
		default:
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
	})
	defer srv.Close()

	gh := NewWithBaseURL(testCreds(t), srv.URL)
	payload, err := gh.getRecentDeployments(context.Background(), map[string]interface{}{
		"owner": "acme", "repo": "api",
	})
	require.NoError(t, err)

	out := decode(t, payload)
	assert.Equal(t, true, out["success"])
	assert.Contains(t, out["summary"], "PRIME SUSPECT")
	assert.Contains(t, out["summary"], "abcdef1")

	// The 30-hour-old deployment is outside the 6h window.
	deployments := out["deployments"].([]interface{})
	require.Len(t, deployments, 1)
	first := deployments[0].(map[string]interface{})
	assert.Equal(t, "abcdef1", first["sha"])
	assert.Equal(t, "success", first["status"])
	assert.Equal(t, "deploy-bot", first["creator"])
}

func TestGetDeploymentCommitsCompare(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/repos/acme/api/compare/aaa111...bbb222", req.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"commits": []map[string]interface{}{
				{
					"sha": "bbb2223334445556",
					"commit": map[string]interface{}{
						"message": "Add payment retry logic\n\nLonger body",
						"author":  map[string]interface{}{"name": "Jo Developer"},
					},
				},
			},
			"files": []map[string]interface{}{
				{"filename": "internal/payment/retry.go", "status": "modified", "changes": 40},
				{"filename": "db/migrations/0042_add_index.sql", "status": "added", "changes": 12},
				{"filename": "README.md", "status": "modified", "changes": 2},
			},
		})
	})
	defer srv.Close()

	gh := NewWithBaseURL(testCreds(t), srv.URL)
	payload, err := gh.getDeploymentCommits(context.Background(), map[string]interface{}{
		"owner": "acme", "repo": "api", "sha": "bbb222", "compare_to": "aaa111",
	})
	require.NoError(t, err)

	out := decode(t, payload)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(3), out["files_changed"])

	commits := out["commits"].([]interface{})
	require.Len(t, commits, 1)
	commit := commits[0].(map[string]interface{})
	assert.Equal(t, "bbb2223", commit["sha"])
	assert.Equal(t, "Add payment retry logic", commit["message"])

	highRisk := out["high_risk_files"].([]interface{})
	require.Len(t, highRisk, 2)
	assert.Contains(t, highRisk, "internal/payment/retry.go")
	assert.Contains(t, highRisk, "db/migrations/0042_add_index.sql")
}

func TestGetRecentCommits(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/repos/acme/api/commits", req.URL.Path)
		assert.Equal(t, "release", req.URL.Query().Get("sha"))
		assert.NotEmpty(t, req.URL.Query().Get("since"))

		json.NewEncoder(w).Encode([]map[string]interface{}{
			{
				"sha": "ccc3334445556667",
				"commit": map[string]interface{}{
					"message": "Bump dependency versions",
					"author": map[string]interface{}{
						"name": "Dep Bot",
						"date": time.Now().UTC().Format(time.RFC3339),
					},
				},
			},
		})
	})
	defer srv.Close()

	gh := NewWithBaseURL(testCreds(t), srv.URL)
	payload, err := gh.getRecentCommits(context.Background(), map[string]interface{}{
		"owner": "acme", "repo": "api", "branch": "release",
	})
	require.NoError(t, err)

	out := decode(t, payload)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "acme/api", out["repo"])
	assert.Equal(t, "release", out["branch"])

	commits := out["commits"].([]interface{})
	require.Len(t, commits, 1)
	assert.Equal(t, "ccc3334", commits[0].(map[string]interface{})["sha"])
}

func TestInstallationTokenCached(t *testing.T) {
	exchanges := 0
	counting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.HasPrefix(req.URL.Path, "/app/installations/") {
			exchanges++
			w.WriteHeader(http.StatusCreated)
			fmt.Fprintf(w, `{"token":"ghs_testtoken","expires_at":%q}`,
				time.Now().Add(time.Hour).Format(time.RFC3339))
			return
		}
		json.NewEncoder(w).Encode([]map[string]interface{}{})
	}))
	defer counting.Close()

	gh := NewWithBaseURL(testCreds(t), counting.URL)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := gh.getRecentCommits(ctx, map[string]interface{}{"owner": "acme", "repo": "api"})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, exchanges)
}
