package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	requestTimeout  = 30 * time.Second
	rateLimitMarker = "high number of requests"

	productsEndpoint   = "products"
	categoriesEndpoint = "products/categories"
)

// CredentialSource supplies the decrypted Source API key and base URL. The
// client never sees the at-rest storage format.
type CredentialSource interface {
	SourceAPIKey(ctx context.Context) (string, error)
	SourceBaseURL(ctx context.Context) (string, error)
}

// ClientConfig bundles the dependencies of the rate-limited Source client.
type ClientConfig struct {
	Credentials CredentialSource
	Budget      *RateBudget
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Client issues authenticated reads against the Source API, enforcing the
// shared call budget before every request.
type Client struct {
	credentials CredentialSource
	budget      *RateBudget
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient validates configuration and returns a Source client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("source: credential source is required")
	}

	budget := cfg.Budget
	if budget == nil {
		budget = NewRateBudget(RateBudgetConfig{})
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		credentials: cfg.Credentials,
		budget:      budget,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// Get performs an authenticated GET against the Source API. It blocks while
// the call budget is exhausted and translates upstream failures into the
// client error taxonomy.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) (map[string]any, error) {
	apiKey, err := c.credentials.SourceAPIKey(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: missing api key", ErrNotConfigured)
	}

	baseURL, err := c.credentials.SourceBaseURL(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("%w: missing base url", ErrNotConfigured)
	}

	c.budget.Acquire()

	requestURL := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("source: build request: %w", err)
	}
	request.Header.Set("Authorization", apiKey)
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("source: request failed: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("source: read response: %w", err)
	}

	var decoded map[string]any
	decodeErr := json.Unmarshal(body, &decoded)

	if _, hasError := decoded["error"]; hasError && strings.Contains(string(body), rateLimitMarker) {
		c.logger.Warn("source api throttled the client, backing off one full window",
			zap.String("endpoint", endpoint))
		c.budget.Penalty()
		return nil, ErrRateLimited
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, &APIError{StatusCode: response.StatusCode, Body: string(body)}
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("source: decode response: %w", decodeErr)
	}

	return decoded, nil
}

// FetchProduct retrieves a single product by its Source id.
func (c *Client) FetchProduct(ctx context.Context, sourceID int64) (Record, error) {
	params := url.Values{}
	params.Set("id", strconv.FormatInt(sourceID, 10))

	result, err := c.Get(ctx, productsEndpoint, params)
	if err != nil {
		return nil, err
	}

	products := decodeProducts(result)
	if len(products) == 0 {
		return nil, ErrNotFound
	}
	return products[0], nil
}

// FetchProductsPage retrieves one page of products. The resumable batch
// path uses this variant so a single HTTP failure does not discard prior
// pages.
func (c *Client) FetchProductsPage(ctx context.Context, page, perPage int) ([]Record, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))

	result, err := c.Get(ctx, productsEndpoint, params)
	if err != nil {
		return nil, err
	}
	return decodeProducts(result), nil
}

// FetchAllProducts accumulates every product by paging until a short page.
// Used only by the unbounded polling path.
func (c *Client) FetchAllProducts(ctx context.Context, perPage int) ([]Record, error) {
	var all []Record
	page := 1

	for {
		products, err := c.FetchProductsPage(ctx, page, perPage)
		if err != nil {
			return nil, err
		}
		all = append(all, products...)
		if len(products) < perPage {
			break
		}
		page++
	}

	return all, nil
}

// FetchCategories lists the category names known to the Source.
func (c *Client) FetchCategories(ctx context.Context) ([]string, error) {
	result, err := c.Get(ctx, categoriesEndpoint, nil)
	if err != nil {
		return nil, err
	}

	rawCategories, _ := result["categories"].([]any)
	names := make([]string, 0, len(rawCategories))
	for _, raw := range rawCategories {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := entry["name"].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func decodeProducts(result map[string]any) []Record {
	rawProducts, _ := result["products"].([]any)
	products := make([]Record, 0, len(rawProducts))
	for _, raw := range rawProducts {
		if entry, ok := raw.(map[string]any); ok {
			products = append(products, Record(entry))
		}
	}
	return products
}
