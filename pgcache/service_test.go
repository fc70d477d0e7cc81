package pgcache

import (
	"context"
	"errors"
	"testing"
)

// mockCacheService lets GetOrFetch's type-recovery logic be tested without
// depending on a real CacheService backend.
type mockCacheService struct {
	result any
	err    error
}

func (m *mockCacheService) GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error) {
	return m.result, m.err
}

func (m *mockCacheService) Delete(ctx context.Context, key string) error {
	return nil
}

func TestGetOrFetchNilInterfaceResult(t *testing.T) {
	mock := &mockCacheService{result: nil, err: nil}

	type SomeInterface interface {
		DoSomething() string
	}

	result, err := GetOrFetch[SomeInterface](context.Background(), mock, "test-key", func(ctx context.Context) (SomeInterface, error) {
		return nil, nil
	})

	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result but got: %v", result)
	}
}

func TestGetOrFetchTypedNilPointer(t *testing.T) {
	mock := &mockCacheService{result: (*string)(nil), err: nil}

	result, err := GetOrFetch[*string](context.Background(), mock, "test-key", func(ctx context.Context) (*string, error) {
		return nil, nil
	})

	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result but got: %v", result)
	}
}

func TestGetOrFetchTypeMismatchReturnsError(t *testing.T) {
	mock := &mockCacheService{result: "wrong-type", err: nil}

	result, err := GetOrFetch[int](context.Background(), mock, "test-key", func(ctx context.Context) (int, error) {
		return 42, nil
	})

	if !errors.Is(err, ErrInvalidResultType) {
		t.Errorf("expected ErrInvalidResultType but got: %v", err)
	}
	if result != 0 {
		t.Errorf("expected zero value (0) but got: %v", result)
	}
}

func TestGetOrFetchValidResult(t *testing.T) {
	expected := "test-value"
	mock := &mockCacheService{result: expected, err: nil}

	result, err := GetOrFetch[string](context.Background(), mock, "test-key", func(ctx context.Context) (string, error) {
		return expected, nil
	})

	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if result != expected {
		t.Errorf("expected %q but got: %q", expected, result)
	}
}

func TestGetOrFetchServiceErrorPropagates(t *testing.T) {
	wantErr := errors.New("backend unavailable")
	mock := &mockCacheService{result: nil, err: wantErr}

	result, err := GetOrFetch[string](context.Background(), mock, "test-key", func(ctx context.Context) (string, error) {
		return "unused", nil
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("expected %v but got: %v", wantErr, err)
	}
	if result != "" {
		t.Errorf("expected zero value but got: %q", result)
	}
}
