// Package cloudtest provides an in-memory adapter for engine and control tests.
package cloudtest

import (
	"context"
	"sync"

	"github.com/catherinevee/compliancemgr/internal/cloud"
	"github.com/catherinevee/compliancemgr/internal/models"
)

// FakeAdapter is an in-memory cloud.Adapter. Resources are seeded per kind;
// errors can be injected per kind and per mutation kind. Safe for concurrent
// use by detection workers.
type FakeAdapter struct {
	mu        sync.Mutex
	resources map[cloud.ResourceKind][]cloud.Resource
	listErrs  map[cloud.ResourceKind]error
	applyErr  map[cloud.MutationKind]error

	// Applied records every mutation in arrival order.
	Applied []cloud.Mutation

	// ApplyHook, when set, runs on each Apply after error injection and can
	// mutate seeded resources to simulate the provider converging.
	ApplyHook func(m cloud.Mutation)
}

// NewFakeAdapter returns an empty fake
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		resources: make(map[cloud.ResourceKind][]cloud.Resource),
		listErrs:  make(map[cloud.ResourceKind]error),
		applyErr:  make(map[cloud.MutationKind]error),
	}
}

// Seed replaces the collection for a kind
func (f *FakeAdapter) Seed(kind cloud.ResourceKind, resources ...cloud.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[kind] = resources
}

// SetResource inserts or replaces a single resource by ID
func (f *FakeAdapter) SetResource(r cloud.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.resources[r.Kind]
	for i := range list {
		if list[i].ID == r.ID {
			list[i] = r
			return
		}
	}
	f.resources[r.Kind] = append(list, r)
}

// FailList makes ListResources for a kind return err
func (f *FakeAdapter) FailList(kind cloud.ResourceKind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErrs[kind] = err
}

// FailApply makes Apply for a mutation kind return err
func (f *FakeAdapter) FailApply(kind cloud.MutationKind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyErr[kind] = err
}

func (f *FakeAdapter) Provider() models.Provider {
	return models.ProviderAWS
}

func (f *FakeAdapter) ListResources(ctx context.Context, kind cloud.ResourceKind) ([]cloud.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, cloud.Classify("fake:list", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErrs[kind]; err != nil {
		return nil, err
	}
	out := make([]cloud.Resource, len(f.resources[kind]))
	copy(out, f.resources[kind])
	return out, nil
}

func (f *FakeAdapter) Describe(ctx context.Context, kind cloud.ResourceKind, id string) (*cloud.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, cloud.Classify("fake:describe", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErrs[kind]; err != nil {
		return nil, err
	}
	for _, r := range f.resources[kind] {
		if r.ID == id || r.Name == id {
			copied := r
			return &copied, nil
		}
	}
	return nil, &cloud.AdapterError{Class: cloud.ClassNotFound, Op: "fake:describe"}
}

func (f *FakeAdapter) Apply(ctx context.Context, m cloud.Mutation) error {
	if err := ctx.Err(); err != nil {
		return cloud.Classify("fake:apply", err)
	}
	f.mu.Lock()
	if err := f.applyErr[m.Kind]; err != nil {
		f.mu.Unlock()
		return err
	}
	f.Applied = append(f.Applied, m)
	hook := f.ApplyHook
	f.mu.Unlock()

	if hook != nil {
		hook(m)
	}
	return nil
}

// FakeFactory hands out a fixed adapter, or a construction error.
type FakeFactory struct {
	Adapter cloud.Adapter
	Err     error
}

func (f *FakeFactory) New(ctx context.Context, account *models.CloudAccount) (cloud.Adapter, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Adapter, nil
}
