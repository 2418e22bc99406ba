// Package video samples frames from a capture source on a fixed interval,
// downscales them to a bounded width, and encodes them as JPEG for uplink.
package video
