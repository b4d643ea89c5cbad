package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type staticCredentials struct {
	key string
	url string
}

func (c staticCredentials) SourceAPIKey(context.Context) (string, error) {
	return c.key, nil
}

func (c staticCredentials) SourceBaseURL(context.Context) (string, error) {
	return c.url, nil
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *fakeTimeline) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	timeline := newFakeTimeline()
	budget := NewRateBudget(RateBudgetConfig{
		Ceiling: 100,
		Window:  300 * time.Second,
		Clock:   timeline.Clock,
		Sleep:   timeline.Sleep,
	})

	client, err := NewClient(ClientConfig{
		Credentials: staticCredentials{key: "secret-key", url: server.URL},
		Budget:      budget,
		HTTPClient:  server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}
	return client, timeline
}

func TestGetSendsAuthHeaders(t *testing.T) {
	var gotAuth, gotAccept string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		fmt.Fprint(w, `{"products":[]}`)
	}))

	if _, err := client.Get(context.Background(), "products", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "secret-key" {
		t.Fatalf("expected raw api key in Authorization header, got %q", gotAuth)
	}
	if gotAccept != "application/json" {
		t.Fatalf("expected json accept header, got %q", gotAccept)
	}
}

func TestGetRequiresConfiguration(t *testing.T) {
	client, err := NewClient(ClientConfig{Credentials: staticCredentials{}})
	if err != nil {
		t.Fatalf("unexpected client error: %v", err)
	}

	_, err = client.Get(context.Background(), "products", nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestGetTranslatesRateLimitMarker(t *testing.T) {
	client, timeline := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"Your account has issued a high number of requests"}`)
	}))

	_, err := client.Get(context.Background(), "products", nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if len(timeline.sleeps) != 1 || timeline.sleeps[0] != 300*time.Second {
		t.Fatalf("expected a full-window penalty sleep, got %v", timeline.sleeps)
	}
}

func TestGetTranslatesHTTPFailure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"message":"upstream exploded"}`)
	}))

	_, err := client.Get(context.Background(), "products", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected status code %d", apiErr.StatusCode)
	}
}

func TestFetchProductReturnsFirstMatch(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "501" {
			t.Errorf("unexpected id param %q", r.URL.Query().Get("id"))
		}
		fmt.Fprint(w, `{"products":[{"id":501,"name":"Widget"}]}`)
	}))

	product, err := client.FetchProduct(context.Background(), 501)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product.ID() != 501 {
		t.Fatalf("unexpected product id %d", product.ID())
	}
}

func TestFetchProductNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"products":[]}`)
	}))

	_, err := client.FetchProduct(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchAllProductsTerminatesOnShortPage(t *testing.T) {
	pages := map[string]string{
		"1": `{"products":[{"id":1},{"id":2}]}`,
		"2": `{"products":[{"id":3},{"id":4}]}`,
		"3": `{"products":[{"id":5}]}`,
	}
	var requested []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		requested = append(requested, page)
		fmt.Fprint(w, pages[page])
	}))

	all, err := client.FetchAllProducts(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 accumulated products, got %d", len(all))
	}
	if len(requested) != 3 {
		t.Fatalf("expected the loop to stop after the short page, requested %v", requested)
	}
}

func TestFetchAllProductsTerminatesOnEmptyPage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"products":[]}`)
	}))

	all, err := client.FetchAllProducts(context.Background(), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no products, got %d", len(all))
	}
}

func TestFetchCategories(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products/categories" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"categories":[{"id":1,"name":"Tools"},{"id":2,"name":"Parts"},{"id":3}]}`)
	}))

	names, err := client.FetchCategories(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 || names[0] != "Tools" || names[1] != "Parts" {
		t.Fatalf("unexpected category names %v", names)
	}
}
