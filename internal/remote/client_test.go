package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkessler/caseboard/internal/logging"
	"github.com/mkessler/caseboard/internal/models"
)

func TestFetchReturnsOrderedRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts", r.URL.Path)
		json.NewEncoder(w).Encode([]models.Record{
			{ID: "r-1", Fields: map[string]string{"name": "Acme"}},
			{ID: "r-2", Fields: map[string]string{"name": "Globex"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, logging.Nop())
	records := c.Fetch(context.Background(), models.DomainAccounts)
	require.Len(t, records, 2)
	assert.Equal(t, "r-1", records[0].ID)
	assert.Equal(t, "r-2", records[1].ID)
}

func TestFetchFailuresYieldEmptyCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/findings":
			http.Error(w, "boom", http.StatusInternalServerError)
		case "/patterns":
			w.Write([]byte("not json at all"))
		default:
			w.Write([]byte("null"))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, logging.Nop())

	records := c.Fetch(context.Background(), models.DomainFindings)
	assert.NotNil(t, records)
	assert.Empty(t, records)

	records = c.Fetch(context.Background(), models.DomainPatterns)
	assert.NotNil(t, records)
	assert.Empty(t, records)

	// A null body decodes to a nil slice; callers still see an empty
	// collection.
	records = c.Fetch(context.Background(), models.DomainDecisions)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestFetchUnreachableBackend(t *testing.T) {
	c := New("http://127.0.0.1:1", logging.Nop())
	records := c.Fetch(context.Background(), models.DomainMappings)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestPatchSendsSparseFields(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPatch, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, logging.Nop())
	c.Patch(context.Background(), models.DomainDecisions, "dec-7", map[string]string{"status": "accepted"})

	assert.Equal(t, "/decisions/dec-7", gotPath)
	assert.Equal(t, map[string]string{"status": "accepted"}, gotBody)
}

func TestPatchFailuresAreSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusConflict)
	}))
	defer srv.Close()

	c := New(srv.URL, logging.Nop())
	// Must not panic or surface anything.
	c.Patch(context.Background(), models.DomainDecisions, "dec-7", map[string]string{"status": "accepted"})

	c = New("http://127.0.0.1:1", logging.Nop())
	c.Patch(context.Background(), models.DomainDecisions, "dec-7", map[string]string{"status": "accepted"})
}
