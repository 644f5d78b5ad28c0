package trading

import (
	"context"

	"tradepost/internal/readmodel"
)

// ReliableCatalogClient wraps a CatalogClient with retry and breaker.
type ReliableCatalogClient struct {
	base    CatalogClient
	breaker *CircuitBreaker
	retry   RetryPolicy
}

// NewReliableCatalogClient constructs a reliability-wrapped catalog client.
func NewReliableCatalogClient(base CatalogClient, breaker *CircuitBreaker, retry RetryPolicy) *ReliableCatalogClient {
	return &ReliableCatalogClient{base: base, breaker: breaker, retry: retry}
}

func (c *ReliableCatalogClient) ListItems(ctx context.Context) ([]readmodel.CatalogItemSnapshot, error) {
	var items []readmodel.CatalogItemSnapshot
	err := reliableCall(ctx, c.breaker, c.retry, func() error {
		var err error
		items, err = c.base.ListItems(ctx)
		return err
	})
	return items, err
}

// ReliableInventoryClient wraps an InventoryClient with retry and breaker.
type ReliableInventoryClient struct {
	base    InventoryClient
	breaker *CircuitBreaker
	retry   RetryPolicy
}

// NewReliableInventoryClient constructs a reliability-wrapped inventory client.
func NewReliableInventoryClient(base InventoryClient, breaker *CircuitBreaker, retry RetryPolicy) *ReliableInventoryClient {
	return &ReliableInventoryClient{base: base, breaker: breaker, retry: retry}
}

func (c *ReliableInventoryClient) ListItems(ctx context.Context) ([]readmodel.InventoryItemSnapshot, error) {
	var items []readmodel.InventoryItemSnapshot
	err := reliableCall(ctx, c.breaker, c.retry, func() error {
		var err error
		items, err = c.base.ListItems(ctx)
		return err
	})
	return items, err
}

// ReliableIdentityClient wraps an IdentityClient with retry and breaker.
type ReliableIdentityClient struct {
	base    IdentityClient
	breaker *CircuitBreaker
	retry   RetryPolicy
}

// NewReliableIdentityClient constructs a reliability-wrapped identity client.
func NewReliableIdentityClient(base IdentityClient, breaker *CircuitBreaker, retry RetryPolicy) *ReliableIdentityClient {
	return &ReliableIdentityClient{base: base, breaker: breaker, retry: retry}
}

func (c *ReliableIdentityClient) ListUsers(ctx context.Context) ([]readmodel.UserBalanceSnapshot, error) {
	var users []readmodel.UserBalanceSnapshot
	err := reliableCall(ctx, c.breaker, c.retry, func() error {
		var err error
		users, err = c.base.ListUsers(ctx)
		return err
	})
	return users, err
}

func reliableCall(ctx context.Context, breaker *CircuitBreaker, retry RetryPolicy, fn func() error) error {
	return retry.Do(ctx, func() error {
		if breaker != nil {
			return breaker.Execute(fn)
		}
		return fn()
	})
}
