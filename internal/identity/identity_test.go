package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken(""))
}

func TestGoogleResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"42","email":"ada@example.com","name":"Ada"}`))
	}))
	defer srv.Close()

	r := NewGoogleResolver(option.WithEndpoint(srv.URL + "/"))

	id, err := r.Resolve(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, &Identity{ID: "42", Email: "ada@example.com", Name: "Ada"}, id)

	_, err = r.Resolve(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	id, err = r.Resolve(context.Background(), "")
	assert.NoError(t, err)
	assert.Nil(t, id)
}

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{"t1": {ID: "u1"}}

	id, err := r.Resolve(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "u1", id.ID)

	_, err = r.Resolve(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	id, err = r.Resolve(context.Background(), "")
	assert.NoError(t, err)
	assert.Nil(t, id)
}
