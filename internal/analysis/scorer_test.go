package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blues/greensalary/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPScorer(t *testing.T) {
	var got ScoreRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"keywordTest":true,"conditionTest":true,"wordCountTest":false,"imageCountTest":true,"pdf_url":"/reports/1.pdf"}`))
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL, time.Second)
	v, err := s.Score(context.Background(), ScoreRequest{
		ContractTitle:  "Spring launch",
		InfluencerName: "kim",
		SiteUrl:        "https://blog.naver.com/kim/1",
		Keywords:       []string{"launch"},
		MediaText:      300,
	})
	require.NoError(t, err)

	assert.True(t, v.KeywordTest)
	assert.False(t, v.WordCountTest)
	assert.False(t, v.AllPassed())
	assert.Equal(t, "/reports/1.pdf", v.PdfUrl)

	assert.Equal(t, "Spring launch", got.ContractTitle)
	assert.Equal(t, []string{"launch"}, got.Keywords)
	assert.Equal(t, []string{}, got.Conditions)
	assert.Equal(t, 300, got.MediaText)
}

func TestHTTPScorerTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	s := NewHTTPScorer(srv.URL, 50*time.Millisecond)
	_, err := s.Score(context.Background(), ScoreRequest{})
	assert.ErrorIs(t, err, apperr.ErrExternalTimeout)
}

func TestHTTPScorerBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPScorer(srv.URL, time.Second).Score(context.Background(), ScoreRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 503")
	assert.NotErrorIs(t, err, apperr.ErrExternalTimeout)
}

func TestHTTPScorerNotConfigured(t *testing.T) {
	_, err := NewHTTPScorer("", 0).Score(context.Background(), ScoreRequest{})
	assert.Error(t, err)
}

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("post"))
	}))
	defer srv.Close()

	c := NewHTTPChecker(time.Second)
	ctx := context.Background()

	assert.NoError(t, c.Check(ctx, srv.URL+"/post/1"))
	assert.ErrorIs(t, c.Check(ctx, srv.URL+"/missing"), apperr.ErrValidation)
	assert.ErrorIs(t, c.Check(ctx, "ftp://example.com/file"), apperr.ErrValidation)
	assert.ErrorIs(t, c.Check(ctx, "not a url"), apperr.ErrValidation)
}

func TestSitePrefixes(t *testing.T) {
	// viper hands map keys over lowercased
	p := NewSitePrefixes(map[string]string{"naver blog": "https://blog.naver.com/"})

	assert.NoError(t, p.Validate("Naver Blog", "https://blog.naver.com/kim/1"))
	assert.ErrorIs(t, p.Validate("Naver Blog", "https://tistory.com/kim/1"), apperr.ErrValidation)
	assert.NoError(t, p.Validate("Instagram", "https://instagram.com/p/1"))
}
