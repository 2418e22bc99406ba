// Package session owns the lifecycle of one live coaching session: device
// acquisition with video-only fallback, the agent connection handshake,
// uplink audio/video taps, playback of agent audio, and the state machine
// tying them together. A Manager tracks all active sessions and reaps the
// ones that have gone idle.
package session
