package di

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-collection-cache/pkg/config"
)

func quietConfig() config.Config {
	cfg := config.Default()
	cfg.Log.Output = io.Discard
	return cfg
}

func TestNewContainerWithDefaults(t *testing.T) {
	container, err := NewContainerWithDefaults()
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	defer container.Close()

	if container.Metrics() == nil {
		t.Error("Container should have metrics")
	}
	if _, err := container.Transport(); !errors.Is(err, ErrNoTransport) {
		t.Errorf("expected ErrNoTransport without a base url, got %v", err)
	}
	if _, err := container.Enums(); !errors.Is(err, ErrNoTransport) {
		t.Errorf("expected ErrNoTransport for enums, got %v", err)
	}
	if _, _, err := NewCollection[User](container, "users"); !errors.Is(err, ErrNoTransport) {
		t.Errorf("expected ErrNoTransport for a remote collection, got %v", err)
	}
}

func TestNewContainer_InvalidConfig(t *testing.T) {
	cfg := quietConfig()
	cfg.DefaultTTL = 0

	if _, err := NewContainer(cfg); err == nil {
		t.Error("NewContainer() should fail with invalid config")
	}
}

func TestNewContainer_Transport(t *testing.T) {
	cfg := quietConfig()
	cfg.Transport.BaseURL = "http://127.0.0.1:1/api"

	container, err := NewContainer(cfg)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	defer container.Close()

	client, err := container.Transport()
	if err != nil || client == nil {
		t.Fatalf("Transport() = %v, %v", client, err)
	}

	enums1, err := container.Enums()
	if err != nil {
		t.Fatalf("Enums() failed: %v", err)
	}
	enums2, _ := container.Enums()
	if enums1 != enums2 {
		t.Error("Enums() should return the same instance")
	}
}

func TestContainer_CollectionConfig(t *testing.T) {
	cfg := quietConfig()
	cfg.Collections = map[string]config.CollectionConfig{
		"users": {TTL: 5 * time.Minute, DefaultLimit: 25},
	}
	reg := prometheus.NewRegistry()

	container, err := NewContainer(cfg, WithRegisterer(reg))
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	defer container.Close()

	users, mutations, err := NewRepositoryCollection[User](container, "users", newMockUserRepository())
	if err != nil {
		t.Fatalf("NewRepositoryCollection() failed: %v", err)
	}
	if users.Name() != "users" || mutations == nil {
		t.Errorf("unexpected collection %s, %v", users.Name(), mutations)
	}

	// a second collection shares the registry without a duplicate registration
	if _, _, err := NewRepositoryCollection[User](container, "admins", newMockUserRepository()); err != nil {
		t.Fatalf("second collection failed: %v", err)
	}
}

func TestContainer_State(t *testing.T) {
	container, err := NewContainer(quietConfig())
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}

	s1, err := container.State()
	if err != nil {
		t.Fatalf("State() failed: %v", err)
	}
	s2, _ := container.State()
	if s1 != s2 {
		t.Error("State() should return the same instance")
	}

	if err := container.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if err := container.Close(); err != nil {
		t.Errorf("second Close() should be a no-op, got %v", err)
	}
}
