package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dramcove/catalog-cli/internal/enrich"
	"github.com/dramcove/catalog-cli/internal/fetch"
	"github.com/dramcove/catalog-cli/internal/match"
	"github.com/dramcove/catalog-cli/internal/merge"
	"github.com/dramcove/catalog-cli/internal/model"
	"github.com/dramcove/catalog-cli/internal/normalize"
	"github.com/dramcove/catalog-cli/internal/pipeline"
	"github.com/dramcove/catalog-cli/internal/store"
	"github.com/dramcove/catalog-cli/pkg/extract"
	"github.com/dramcove/catalog-cli/pkg/search"
)

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, _ string) (*fetch.Result, error) {
	return &fetch.Result{StatusCode: 200, Body: "<html><body>Ardbeg 10</body></html>", TierUsed: 1}, nil
}

type stubExtractor struct{}

func (stubExtractor) Extract(_ context.Context, _ extract.Request) (map[string]any, error) {
	return map[string]any{
		"name":         "Ardbeg 10 Year Old",
		"abv":          "46%",
		"product_type": "single malt scotch",
		"palate_tags":  []any{"peat", "vanilla"},
	}, nil
}

type stubSearch struct{}

func (stubSearch) Search(_ context.Context, _ string) ([]search.Result, error) {
	return nil, nil
}

func newTestEnv(t *testing.T) *appEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	vocab, err := model.LoadVocab()
	require.NoError(t, err)

	pipe := pipeline.New(stubFetcher{}, stubExtractor{}, normalize.New(vocab),
		match.NewResolver(st, 0), merge.NewEngine(), st)

	return &appEnv{
		Store:    st,
		Pipeline: pipe,
		Enricher: enrich.New(stubSearch{}, pipe, enrich.Config{}),
		Search:   stubSearch{},
	}
}

func TestRouter_Health(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestEnv(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_ProcessAndFetchRecord(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestEnv(t)))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/process", "application/json",
		strings.NewReader(`{"url":"https://shop.test/ardbeg-10"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Fingerprint string `json:"fingerprint"`
		Name        string `json:"name"`
		IsNew       bool   `json:"is_new"`
		Sources     int    `json:"sources"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Ardbeg 10 Year Old", body.Name)
	assert.True(t, body.IsNew)
	assert.Equal(t, 1, body.Sources)

	recResp, err := http.Get(srv.URL + "/records/" + body.Fingerprint)
	require.NoError(t, err)
	defer recResp.Body.Close()
	require.Equal(t, http.StatusOK, recResp.StatusCode)

	var rec model.ProductRecord
	require.NoError(t, json.NewDecoder(recResp.Body).Decode(&rec))
	assert.Equal(t, "Ardbeg", rec.Brand)

	listResp, err := http.Get(srv.URL + "/records?brand=ardbeg")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var records []model.ProductRecord
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&records))
	assert.Len(t, records, 1)
}

func TestRouter_ProcessValidation(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestEnv(t)))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/process", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Post(srv.URL+"/process", "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestRouter_RecordNotFound(t *testing.T) {
	srv := httptest.NewServer(newRouter(newTestEnv(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/records/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
