// Package audio implements the realtime audio pipeline: sample-rate
// conversion of captured microphone blocks to fixed-rate PCM16, uplink
// packet framing with signal-level metering, gapless scheduling of inbound
// agent speech against an output clock, and WAV encoding of session
// recordings.
package audio
