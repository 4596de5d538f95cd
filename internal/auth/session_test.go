package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/eufyscope/internal/blob"
)

func testBootstrap() Bootstrap {
	return Bootstrap{Email: "me@example.com", Password: "hunter2", OpenUDID: "udid-1"}
}

func loginServer(t *testing.T, logins *atomic.Int32, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "udid-1", r.Header.Get("openudid"))

		raw, _ := io.ReadAll(r.Body)
		var req loginRequest
		if !assert.NoError(t, json.Unmarshal(raw, &req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "me@example.com", req.Email)
		assert.Equal(t, "udid-1", req.ClientID)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
}

func TestSessionLogsInOnceAndPersists(t *testing.T) {
	var logins atomic.Int32
	srv := loginServer(t, &logins, `{"res_code":0,"access_token":"tok","user_center_token":"uct","gtoken":"gt","user_id":"u1","expires_in":3600}`)
	defer srv.Close()

	store := blob.NewMemoryStore()
	statePath := filepath.Join(t.TempDir(), "state", "eufy.json")
	s, err := NewSession(testBootstrap(), Options{Provider: "eufy", LoginURL: srv.URL, StatePath: statePath, Blob: store})
	require.NoError(t, err)

	creds, err := s.Credentials()
	require.NoError(t, err)
	assert.Equal(t, "tok", creds.AccessToken)
	assert.Equal(t, "uct", creds.UserCenterToken)
	assert.Equal(t, "gt", creds.GToken)
	assert.Equal(t, "u1", creds.UserID)
	assert.Equal(t, "udid-1", creds.OpenUDID)

	_, err = s.Token()
	require.NoError(t, err)
	assert.Equal(t, int32(1), logins.Load())

	info, err := os.Stat(statePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	st, err := LoadState(statePath)
	require.NoError(t, err)
	assert.Equal(t, "tok", st.AccessToken)

	mirrored, err := store.Load(context.Background(), "auth/eufy.json")
	require.NoError(t, err)
	remote, err := DecodeState(mirrored)
	require.NoError(t, err)
	assert.Equal(t, "u1", remote.UserID)
}

func TestSessionReusesPersistedState(t *testing.T) {
	var logins atomic.Int32
	srv := loginServer(t, &logins, `{"code":0,"token":"fresh"}`)
	defer srv.Close()

	statePath := filepath.Join(t.TempDir(), "eufy.json")
	require.NoError(t, WriteState(statePath, State{AccessToken: "saved", ExpiresAt: time.Now().Add(time.Hour)}))

	s, err := NewSession(testBootstrap(), Options{Provider: "eufy", LoginURL: srv.URL, StatePath: statePath})
	require.NoError(t, err)

	tok, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "saved", tok.AccessToken)
	assert.Zero(t, logins.Load())

	s.Invalidate()
	tok, err = s.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
	assert.Equal(t, int32(1), logins.Load())
}

func TestSessionRestoresFromBlob(t *testing.T) {
	var logins atomic.Int32
	srv := loginServer(t, &logins, `{"code":0,"token":"fresh"}`)
	defer srv.Close()

	store := blob.NewMemoryStore()
	data, err := json.Marshal(State{SchemaVersion: SchemaVersion, AccessToken: "remote", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), "auth/eufy.json", data))

	statePath := filepath.Join(t.TempDir(), "eufy.json")
	s, err := NewSession(testBootstrap(), Options{Provider: "eufy", LoginURL: srv.URL, StatePath: statePath, Blob: store})
	require.NoError(t, err)

	tok, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "remote", tok.AccessToken)
	assert.Zero(t, logins.Load())
	_, err = LoadState(statePath)
	assert.NoError(t, err)
}

func TestSessionExpiredStateLogsIn(t *testing.T) {
	var logins atomic.Int32
	srv := loginServer(t, &logins, `{"code":0,"token":"fresh"}`)
	defer srv.Close()

	statePath := filepath.Join(t.TempDir(), "eufy.json")
	require.NoError(t, WriteState(statePath, State{AccessToken: "old", ExpiresAt: time.Now().Add(-time.Hour)}))

	s, err := NewSession(testBootstrap(), Options{Provider: "eufy", LoginURL: srv.URL, StatePath: statePath})
	require.NoError(t, err)

	tok, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
}

func TestSessionRejectedLogin(t *testing.T) {
	var logins atomic.Int32
	srv := loginServer(t, &logins, `{"res_code":1,"message":"bad password"}`)
	defer srv.Close()

	s, err := NewSession(testBootstrap(), Options{Provider: "eufy", LoginURL: srv.URL, StatePath: filepath.Join(t.TempDir(), "s.json")})
	require.NoError(t, err)

	_, err = s.Token()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLoginRejected))
}

func TestNewSessionValidates(t *testing.T) {
	_, err := NewSession(testBootstrap(), Options{StatePath: "/tmp/x"})
	assert.Error(t, err)
	_, err = NewSession(testBootstrap(), Options{Provider: "eufy"})
	assert.Error(t, err)
	_, err = NewSession(Bootstrap{Email: "x"}, Options{Provider: "eufy", StatePath: "/tmp/x"})
	assert.Error(t, err)
}

func TestBootstrapRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootstrap.json")
	b := testBootstrap()
	b.MQTT = &MQTTCredentials{ThingName: "thing", CertificatePEM: "c", PrivateKeyPEM: "k", Endpoint: "mqtt.example.com"}
	require.NoError(t, WriteBootstrap(path, b))

	got, err := LoadBootstrap(path)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, got.SchemaVersion)
	assert.True(t, got.MQTT.Complete())

	_, err = DecodeBootstrap([]byte(`{"schema_version":9,"email":"a","password":"b","openudid":"c"}`))
	assert.Error(t, err)
	var empty *MQTTCredentials
	assert.False(t, empty.Complete())
}
