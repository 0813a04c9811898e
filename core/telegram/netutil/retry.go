package netutil

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"
)

// ShouldRetry reports whether err is a transient transport failure seen
// while talking to the Bot API: dial failures, timeouts, resets and
// connections cut mid-response. Cancellation by the caller never retries.
func ShouldRetry(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		if urlErr.Timeout() || errors.Is(urlErr.Err, io.EOF) {
			return true
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
