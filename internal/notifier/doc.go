// Package notifier turns timer transitions into chat traffic.
//
// A tick polls the timer service, posts one combined channel message for
// everything that changed and queues a direct notice for each subscriber of a
// boss whose window just opened. The direct-notice queue is drained by a single
// worker paced with a token bucket, so a burst of openings never floods the
// platform.
//
// # Live table
//
// A randomized repost schedule sends a fresh copy of the full table every so
// often so it does not scroll out of view. This runs whenever the notifier has
// a channel. With LiveTable set, ticks also keep the latest copy up to date by
// editing it in place.
//
// # Delivery errors
//
// A throttled send waits for the platform's retry hint (capped) and is retried
// once. Forbidden recipients are dropped quietly. Anything else is logged and
// the batch continues.
package notifier
