package netutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", &url.Error{Op: "Post", URL: "x", Err: context.Canceled}, false},
		{"plain", errors.New("bad request"), false},
		{"dial", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"timeout", &url.Error{Op: "Post", URL: "x", Err: timeoutErr{}}, true},
		{"eof", &url.Error{Op: "Post", URL: "x", Err: io.EOF}, true},
		{"truncated", io.ErrUnexpectedEOF, true},
	}
	for _, tc := range cases {
		if got := ShouldRetry(tc.err); got != tc.want {
			t.Fatalf("%s: ShouldRetry = %v, want %v", tc.name, got, tc.want)
		}
	}
}
