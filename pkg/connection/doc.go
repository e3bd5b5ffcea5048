// Package connection keeps a link's byte stream established.
//
// A camera link connects optimistically: Dial returns before any socket
// exists and the Dialer establishes (and re-establishes) the stream in the
// background, the way a message-queue socket does. This is strictly a
// transport concern. The Dialer never re-runs discovery, never rebuilds
// anything above the stream and never reports success to callers; whether a
// camera is reachable is inferred only from replies.
//
// # Retry Strategy
//
// Failed attempts back off exponentially with jitter:
//
//  1. Initial delay: 100 ms
//  2. Doubling: 200 ms, 400 ms, 800 ms, ...
//  3. Maximum delay: 5 seconds
//  4. Reset to the initial delay once a stream is established
//
// Jitter spreads retries from several links to the same host:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
package connection
