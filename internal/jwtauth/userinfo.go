package jwtauth

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// VerifyUserInfo presents tok to the issuer's user-info endpoint as
// "<header>: <prefix> <token>" and accepts any 2xx status as proof that the
// token is valid. The response body is drained but never interpreted.
//
// A request that cannot be sent or gets no response fails with
// ErrConnection. A non-2xx status means the provider refused the token and
// fails with ErrRejected.
func VerifyUserInfo(ctx context.Context, client *http.Client, endpoint, tok, header, prefix string) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	req.Header.Set(header, prefix+" "+tok)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: user-info endpoint returned %s", ErrRejected, resp.Status)
	}
	return nil
}
