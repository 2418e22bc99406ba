// Package server implements the HTTP API and the live coaching websocket
// endpoint. It exposes monitoring/management routes, relays browser media
// into capture sources, and streams agent playback back to the client.
package server
