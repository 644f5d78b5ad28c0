package trading

import (
	"context"
	"sync"

	"tradepost/internal/readmodel"
)

// CatalogClient reads the catalog service's authoritative item listing.
type CatalogClient interface {
	ListItems(ctx context.Context) ([]readmodel.CatalogItemSnapshot, error)
}

// InventoryClient reads the inventory service's authoritative item listing.
type InventoryClient interface {
	ListItems(ctx context.Context) ([]readmodel.InventoryItemSnapshot, error)
}

// IdentityClient reads the identity service's authoritative user balances.
type IdentityClient interface {
	ListUsers(ctx context.Context) ([]readmodel.UserBalanceSnapshot, error)
}

// NewInMemoryCatalogClient constructs an in-memory catalog client.
func NewInMemoryCatalogClient() *InMemoryCatalogClient {
	return &InMemoryCatalogClient{}
}

// InMemoryCatalogClient serves a fixed item set. It backs tests and runs
// without a reachable catalog service.
type InMemoryCatalogClient struct {
	mu    sync.Mutex
	items []readmodel.CatalogItemSnapshot
}

// SetItems replaces the served item set.
func (c *InMemoryCatalogClient) SetItems(items []readmodel.CatalogItemSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append([]readmodel.CatalogItemSnapshot(nil), items...)
}

func (c *InMemoryCatalogClient) ListItems(ctx context.Context) ([]readmodel.CatalogItemSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]readmodel.CatalogItemSnapshot(nil), c.items...), nil
}

// NewInMemoryInventoryClient constructs an in-memory inventory client.
func NewInMemoryInventoryClient() *InMemoryInventoryClient {
	return &InMemoryInventoryClient{}
}

// InMemoryInventoryClient serves a fixed inventory set.
type InMemoryInventoryClient struct {
	mu    sync.Mutex
	items []readmodel.InventoryItemSnapshot
}

// SetItems replaces the served inventory set.
func (c *InMemoryInventoryClient) SetItems(items []readmodel.InventoryItemSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append([]readmodel.InventoryItemSnapshot(nil), items...)
}

func (c *InMemoryInventoryClient) ListItems(ctx context.Context) ([]readmodel.InventoryItemSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]readmodel.InventoryItemSnapshot(nil), c.items...), nil
}

// NewInMemoryIdentityClient constructs an in-memory identity client.
func NewInMemoryIdentityClient() *InMemoryIdentityClient {
	return &InMemoryIdentityClient{}
}

// InMemoryIdentityClient serves a fixed user balance set.
type InMemoryIdentityClient struct {
	mu    sync.Mutex
	users []readmodel.UserBalanceSnapshot
}

// SetUsers replaces the served user set.
func (c *InMemoryIdentityClient) SetUsers(users []readmodel.UserBalanceSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = append([]readmodel.UserBalanceSnapshot(nil), users...)
}

func (c *InMemoryIdentityClient) ListUsers(ctx context.Context) ([]readmodel.UserBalanceSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]readmodel.UserBalanceSnapshot(nil), c.users...), nil
}
