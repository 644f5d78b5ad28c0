package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"tradepost/internal/readmodel"
)

// ErrTimeout marks a call that exceeded its per-call deadline. Retriable.
var ErrTimeout = errors.New("gateway call timed out")

// ErrUnavailable marks a 5xx answer from an owning service. Retriable.
var ErrUnavailable = errors.New("gateway upstream unavailable")

// Retriable reports whether the error is worth another attempt. Unknown
// entities and other application errors fail immediately.
func Retriable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}

// CatalogClient reads the catalog service's item listing.
type CatalogClient struct {
	base    string
	http    *http.Client
	timeout time.Duration
}

// NewCatalogClient constructs a CatalogClient for the given base URL.
func NewCatalogClient(baseURL string, timeout time.Duration) *CatalogClient {
	return &CatalogClient{base: strings.TrimRight(baseURL, "/"), http: &http.Client{}, timeout: timeout}
}

// ListItems fetches the authoritative catalog item set.
func (c *CatalogClient) ListItems(ctx context.Context) ([]readmodel.CatalogItemSnapshot, error) {
	var items []readmodel.CatalogItemSnapshot
	if err := getJSON(ctx, c.http, c.base+"/items", c.timeout, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// InventoryClient reads the inventory service's item listing.
type InventoryClient struct {
	base    string
	http    *http.Client
	timeout time.Duration
}

// NewInventoryClient constructs an InventoryClient for the given base URL.
func NewInventoryClient(baseURL string, timeout time.Duration) *InventoryClient {
	return &InventoryClient{base: strings.TrimRight(baseURL, "/"), http: &http.Client{}, timeout: timeout}
}

// ListItems fetches the authoritative inventory item set across users.
func (c *InventoryClient) ListItems(ctx context.Context) ([]readmodel.InventoryItemSnapshot, error) {
	var items []readmodel.InventoryItemSnapshot
	if err := getJSON(ctx, c.http, c.base+"/items", c.timeout, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// IdentityClient reads the identity service's user listing.
type IdentityClient struct {
	base    string
	http    *http.Client
	timeout time.Duration
}

// NewIdentityClient constructs an IdentityClient for the given base URL.
func NewIdentityClient(baseURL string, timeout time.Duration) *IdentityClient {
	return &IdentityClient{base: strings.TrimRight(baseURL, "/"), http: &http.Client{}, timeout: timeout}
}

// ListUsers fetches the authoritative user balance set.
func (c *IdentityClient) ListUsers(ctx context.Context) ([]readmodel.UserBalanceSnapshot, error) {
	var users []readmodel.UserBalanceSnapshot
	if err := getJSON(ctx, c.http, c.base+"/users", c.timeout, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, timeout time.Duration, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", url, readmodel.ErrNotFound)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s: status %d: %w", url, resp.StatusCode, ErrUnavailable)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", url, err)
	}
	return nil
}

func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
