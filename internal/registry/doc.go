// Package registry routes streamed terminal messages on the client side.
//
// A Registry maps terminal ids to the handler of whichever view is currently
// attached. Output for a detached terminal goes to a bounded offline buffer
// and is replayed, in order, to the next handler registered for that id.
// Output for an attached terminal is coalesced and delivered once per frame
// interval, or immediately once the pending batch reaches the flush
// threshold.
//
// Limits:
//   - 256KB per terminal; newer bytes beyond it are dropped
//   - 8MB across terminals; the oldest-inserted terminal's buffer is evicted
//
// The buffers are lossy. Terminal output is display reconstruction, not a
// log.
package registry
