// Package iox holds small cleanup helpers shared by commands and tests.
package iox

import "io"

// DiscardClose closes c and drops the error. For deferred closes of hub
// clients and archive handles where nothing can act on the failure:
//
//	defer iox.DiscardClose(client)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a function that closes c, for t.Cleanup:
//
//	t.Cleanup(iox.CloseFunc(client))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and drops its error, for non-Close cleanup such as
// flushing a tabwriter:
//
//	defer iox.DiscardErr(tw.Flush)
func DiscardErr(fn func() error) { _ = fn() }
