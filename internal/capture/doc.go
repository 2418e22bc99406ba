// Package capture acquires audio and video input devices for a session and
// abstracts over local portaudio devices and remotely fed media streams.
// Audio capture is optional: acquisition falls back to video-only when the
// microphone is denied, missing, or busy.
package capture
