package switcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/steveyiyo/voice-relay/internal/core/provider"
)

var ErrProviderNotRegistered = errors.New("provider not registered")

// ProviderNotRegisteredError is a configuration error; callers must not retry.
type ProviderNotRegisteredError struct {
	Provider provider.Provider
}

func (e *ProviderNotRegisteredError) Error() string {
	return fmt.Sprintf("switcher: %s: %v", e.Provider, ErrProviderNotRegistered)
}

func (e *ProviderNotRegisteredError) Unwrap() error { return ErrProviderNotRegistered }

// WssClient is the transport the relay drives for the provider leg.
type WssClient interface {
	Connect(ctx context.Context, url string, header http.Header) error
	Send(ctx context.Context, data []byte) error
	Disconnect(ctx context.Context, code int, reason string) error
	Messages() <-chan []byte
	Errors() <-chan error
	Done() <-chan struct{}
	Err() error
}

type Endpoint struct {
	URL    string
	Header http.Header
	// Model is the default model when the assistant config names none.
	Model string
}

type Entry struct {
	Adapter   provider.Adapter
	Endpoint  Endpoint
	NewClient func() WssClient
}

// Registry maps each provider to its adapter, endpoint and client factory.
// It is immutable after construction.
type Registry struct {
	entries map[provider.Provider]Entry
}

func New(entries ...Entry) (*Registry, error) {
	r := &Registry{entries: make(map[provider.Provider]Entry, len(entries))}
	for _, e := range entries {
		if e.Adapter == nil || e.NewClient == nil {
			return nil, errors.New("switcher: entry needs an adapter and a client factory")
		}
		p := e.Adapter.Provider()
		if _, dup := r.entries[p]; dup {
			return nil, fmt.Errorf("switcher: %s registered twice", p)
		}
		r.entries[p] = e
	}
	return r, nil
}

func (r *Registry) lookup(p provider.Provider) (Entry, error) {
	e, ok := r.entries[p]
	if !ok {
		return Entry{}, &ProviderNotRegisteredError{Provider: p}
	}
	return e, nil
}

func (r *Registry) ProviderAdapter(p provider.Provider) (provider.Adapter, error) {
	e, err := r.lookup(p)
	if err != nil {
		return nil, err
	}
	return e.Adapter, nil
}

// WssClient returns a fresh, unconnected client for p.
func (r *Registry) WssClient(p provider.Provider) (WssClient, error) {
	e, err := r.lookup(p)
	if err != nil {
		return nil, err
	}
	return e.NewClient(), nil
}

func (r *Registry) Endpoint(p provider.Provider) (Endpoint, error) {
	e, err := r.lookup(p)
	if err != nil {
		return Endpoint{}, err
	}
	ep := e.Endpoint
	ep.Header = e.Endpoint.Header.Clone()
	return ep, nil
}

func (r *Registry) Providers() []provider.Provider {
	out := make([]provider.Provider, 0, len(r.entries))
	for p := range r.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
