// Package ruuvibridge turns the byte stream relayed by a Ruuvi USB
// bridge device into Prometheus metrics.
//
// # Pipeline
//
// The bridge device relays Bluetooth advertisements from Ruuvi sensors
// as a framed byte stream. This module consumes that stream in stages:
//
//   - frame: scans the raw bytes for hex-encoded frames between open
//     and close markers, tolerating arbitrary interstitial noise.
//   - protocol: validates each frame's leading CRC-32 checksum and
//     decodes Ruuvi format-5 measurements (temperature, humidity,
//     pressure, battery voltage) plus the sensor's hardware address.
//   - registry: tracks which sensors are live, expiring any sensor not
//     heard from within a TTL and clearing its metrics on expiry.
//   - metric: mirrors the latest reading of every live sensor into
//     Prometheus gauges labelled by hardware address and serves them
//     over HTTP.
//
// The bridge package ties the stages together: it opens the byte-stream
// source (a local tty located through sysfs, or a WebSocket relay),
// pumps bytes through the extractor, and reopens the source with a
// fixed backoff whenever the stream fails.
//
// Decoded readings can optionally be published to NATS as JSON via the
// output/natspub package.
package ruuvibridge
