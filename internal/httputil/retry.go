// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers for model provider transports.
package httputil

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"
)

// RetryBaseDelay is the first backoff delay on a throttled response. It
// doubles on every attempt. Tests override this to avoid real sleeps.
var RetryBaseDelay = 2 * time.Second

// MaxRetryAfter caps a server-supplied Retry-After delay.
var MaxRetryAfter = time.Minute

const defaultMaxRetries = 3

// Retryable reports whether status signals a throttled or temporarily
// unavailable server.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// DoWithRetry executes req and retries on HTTP 429 and 503 responses.
//
// The delay is the response's Retry-After header in seconds when present
// (capped at MaxRetryAfter), otherwise RetryBaseDelay doubled per attempt.
// Request bodies are replayed through req.GetBody. When maxRetries is 0 the
// default (3) is used. If the context is cancelled during a wait the
// function returns ctx.Err(). After exhausting retries the last throttled
// response is returned so the caller can inspect it.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, maxRetries int) (*http.Response, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	for attempt := 0; ; attempt++ {
		r := req.Clone(ctx)
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("replaying request body: %w", err)
			}
			r.Body = body
		}

		resp, err := client.Do(r)
		if err != nil {
			return nil, err
		}
		if !Retryable(resp.StatusCode) || attempt >= maxRetries {
			return resp, nil
		}

		wait := backoff(attempt, resp.Header.Get("Retry-After"))
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func backoff(attempt int, retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
		return min(time.Duration(secs)*time.Second, MaxRetryAfter)
	}
	return time.Duration(math.Pow(2, float64(attempt))) * RetryBaseDelay
}
