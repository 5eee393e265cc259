package heroku

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachmentVar(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
		ok      bool
	}{
		{
			name:    "plain attachment notice",
			message: "Attached as HEROKU_POSTGRESQL_CRIMSON",
			want:    "HEROKU_POSTGRESQL_CRIMSON",
			ok:      true,
		},
		{
			name:    "notice embedded in a longer message",
			message: "Attached as HEROKU_POSTGRESQL_JADE\nThe database should be available in 3-5 minutes",
			want:    "HEROKU_POSTGRESQL_JADE",
			ok:      true,
		},
		{
			name:    "no notice",
			message: "pgbackups:plus added",
			ok:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AttachmentVar(tt.message)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetMaintenance(t *testing.T) {
	var gotPath string
	var gotBody map[string]bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	require.NoError(t, c.SetMaintenance(context.Background(), "myapp", true))

	assert.Equal(t, "PATCH /apps/myapp", gotPath)
	assert.Equal(t, map[string]bool{"maintenance": true}, gotBody)
}

func TestFormationMapsTypesToQuantities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"type":"web","quantity":2},{"type":"worker","quantity":1}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	counts, err := c.Formation(context.Background(), "myapp")

	require.NoError(t, err)
	assert.Equal(t, map[string]int{"web": 2, "worker": 1}, counts)
}

func TestProvisionAddon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"message":"Attached as HEROKU_POSTGRESQL_CRIMSON"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	prov, err := c.ProvisionAddon(context.Background(), "myapp", "heroku-postgresql:dev")

	require.NoError(t, err)
	name, ok := AttachmentVar(prov.Message)
	require.True(t, ok)
	assert.Equal(t, "HEROKU_POSTGRESQL_CRIMSON", name)
}

func TestProvisionAddonAlreadyInstalled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"id":"invalid_params","error":"Add-on is already installed."}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	_, err := c.ProvisionAddon(context.Background(), "myapp", "pgbackups:plus")

	assert.ErrorIs(t, err, ErrAddonExists)
}

func TestProvisionAddonOtherFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"id":"invalid_params","error":"No such plan."}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	_, err := c.ProvisionAddon(context.Background(), "myapp", "bogus:plan")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAddonExists)
	assert.Contains(t, err.Error(), "No such plan")
}

func TestConfigVarsRoundTrip(t *testing.T) {
	vars := map[string]string{"SHARED_DATABASE_URL": "postgres://shared/app"}
	var gotPut map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(vars)
		case http.MethodPatch:
			_ = json.NewDecoder(r.Body).Decode(&gotPut)
			_ = json.NewEncoder(w).Encode(gotPut)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")

	got, err := c.ConfigVars(context.Background(), "myapp")
	require.NoError(t, err)
	assert.Equal(t, vars, got)

	update := map[string]string{"DATABASE_URL": "postgres://dedicated/app"}
	require.NoError(t, c.SetConfigVars(context.Background(), "myapp", update))
	assert.Equal(t, update, gotPut)
}

func TestClientSendsAuthToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	_, _ = c.ConfigVars(context.Background(), "myapp")

	assert.Equal(t, "Bearer secret", gotAuth)
}
