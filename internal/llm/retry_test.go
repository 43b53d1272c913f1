package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		InitialWait: time.Millisecond,
		MaxWait:     5 * time.Millisecond,
	}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	provider := NewMockProvider(
		MockResponse{Err: &ErrProviderUnavailable{Err: errors.New("503")}},
		MockResponse{Err: &ErrRateLimit{RetryAfter: time.Millisecond}},
		MockResponse{Content: "ok"},
	)
	retrying := WithRetry(provider, fastRetry(3))

	resp, err := retrying.Generate(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Len(t, provider.Calls, 3)
}

func TestRetryExhaustsBudget(t *testing.T) {
	provider := NewMockProvider(
		MockResponse{Err: &ErrProviderUnavailable{}},
		MockResponse{Err: &ErrProviderUnavailable{}},
		MockResponse{Err: &ErrProviderUnavailable{}},
	)
	retrying := WithRetry(provider, fastRetry(3))

	_, err := retrying.Generate(context.Background(), Request{Prompt: "hi"})
	var unavail *ErrProviderUnavailable
	require.ErrorAs(t, err, &unavail)
	assert.Len(t, provider.Calls, 3)
}

func TestRetryStopsOnCancellation(t *testing.T) {
	provider := NewMockProvider(MockResponse{Err: context.Canceled})
	retrying := WithRetry(provider, fastRetry(3))

	_, err := retrying.Generate(context.Background(), Request{Prompt: "hi"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, provider.Calls, 1)
}

func TestRetryRetriesInvalidResponses(t *testing.T) {
	provider := NewMockProvider(
		MockResponse{Err: &ErrInvalidResponse{Reason: "garbage"}},
		MockResponse{Content: "ok"},
	)
	retrying := WithRetry(provider, fastRetry(3))

	resp, err := retrying.Generate(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestRetryGenerateValidatedRetriesCheckFailures(t *testing.T) {
	provider := NewMockProvider(
		MockResponse{Content: "unusable prose"},
		MockResponse{Content: "ok"},
	)
	retrying := WithRetry(provider, fastRetry(3))

	resp, err := retrying.GenerateValidated(context.Background(), Request{Prompt: "hi"}, func(r *Response) error {
		if r.Content != "ok" {
			return &ErrInvalidResponse{Content: r.Content, Reason: "not ok"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Len(t, provider.Calls, 2)
}

func TestRetryGenerateValidatedExhaustsBudget(t *testing.T) {
	provider := NewMockProvider(
		MockResponse{Content: "bad"},
		MockResponse{Content: "bad"},
	)
	retrying := WithRetry(provider, fastRetry(2))

	_, err := retrying.GenerateValidated(context.Background(), Request{Prompt: "hi"}, func(r *Response) error {
		return &ErrInvalidResponse{Content: r.Content, Reason: "still bad"}
	})
	var invalid *ErrInvalidResponse
	require.ErrorAs(t, err, &invalid)
	assert.Len(t, provider.Calls, 2)
}

func TestExtractJSONArray(t *testing.T) {
	payload, err := ExtractJSON("noise before [1, 2, 3] noise after")
	require.NoError(t, err)
	assert.Equal(t, "[1, 2, 3]", string(payload))
}

func TestExtractJSONObject(t *testing.T) {
	payload, err := ExtractJSON(`prose {"a": 1} trailing`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, string(payload))
}

func TestExtractJSONMissing(t *testing.T) {
	_, err := ExtractJSON("no structured payload here")
	var invalid *ErrInvalidResponse
	assert.ErrorAs(t, err, &invalid)
}
