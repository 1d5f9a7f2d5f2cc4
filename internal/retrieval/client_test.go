package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/animalcare/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrieveSendsRecentTurnsAndReturnsContext(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"semanticContext":{"documents":["vacinação obrigatória"]}}`))
	}))
	defer srv.Close()

	var turns []domain.Turn
	for i := 0; i < 8; i++ {
		turns = append(turns, domain.Turn{Role: domain.RoleUser, Content: fmt.Sprintf("t%d", i)})
	}

	c := NewClient(srv.URL, time.Second, nil)
	ctxPayload := c.Retrieve(context.Background(), "s1", "quais vacinas?", turns)

	require.NotNil(t, ctxPayload)
	assert.JSONEq(t, `{"documents":["vacinação obrigatória"]}`, string(ctxPayload))
	assert.True(t, got.RetrievalOnly)
	assert.Equal(t, "s1", got.SessionID)
	require.Len(t, got.RecentTurns, ContextTurns)
	assert.Equal(t, "t3", got.RecentTurns[0].Content)
}

func TestRetrieveReturnsNilOnFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
		"malformed json": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<html>oops`))
		},
		"missing payload": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"semanticContext":null}`))
		},
		"timeout": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(500 * time.Millisecond):
			case <-r.Context().Done():
			}
		},
	}

	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			c := NewClient(srv.URL, 50*time.Millisecond, nil)
			assert.Nil(t, c.Retrieve(context.Background(), "s1", "oi", nil))
		})
	}
}

func TestDisabledClient(t *testing.T) {
	c := NewClient("", 0, nil)
	assert.False(t, c.Enabled())
	assert.Nil(t, c.Retrieve(context.Background(), "s1", "oi", nil))

	_, err := c.Search(context.Background(), "oi", 3)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestSearchReportsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second, nil).Search(context.Background(), "castração", 5)
	assert.ErrorContains(t, err, "status 500")
}
