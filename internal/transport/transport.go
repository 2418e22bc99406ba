package transport

import (
	"context"
	"errors"
)

// Connection error sentinels. ErrEntitlement marks failures that will not
// succeed on retry (bad credentials, model not available to this account);
// everything else is treated as a transient drop.
var (
	ErrEntitlement = errors.New("model or capability not available")
	ErrQueueFull   = errors.New("outbound queue full")
	ErrClosed      = errors.New("connection closed")
)

// EventKind identifies one inbound agent event
type EventKind int

const (
	// EventOpened signals handshake completion; the agent accepts media.
	EventOpened EventKind = iota
	// EventTranscriptDelta carries one transcript text fragment.
	EventTranscriptDelta
	// EventAudioPacket carries one PCM16 playback audio chunk.
	EventAudioPacket
	// EventInterrupted signals that the agent detected user speech and
	// abandoned its current response.
	EventInterrupted
	// EventError carries a connection or protocol failure.
	EventError
	// EventClosed is the final event on every connection.
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventTranscriptDelta:
		return "transcript_delta"
	case EventAudioPacket:
		return "audio_packet"
	case EventInterrupted:
		return "interrupted"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event represents one inbound agent event. Exactly the fields relevant to
// Kind are set.
type Event struct {
	Kind  EventKind
	Text  string
	Audio []byte
	Err   error
}

// PacketKind identifies one outbound media packet
type PacketKind int

const (
	// PacketAudio is a PCM16 uplink audio chunk.
	PacketAudio PacketKind = iota
	// PacketFrame is a JPEG video frame.
	PacketFrame
)

// Packet represents one outbound media packet
type Packet struct {
	Kind       PacketKind
	Data       []byte
	SampleRate int // audio packets only
}

// Conn is a live agent connection. Events are delivered in arrival order
// on a single channel that is closed after EventClosed. Send is safe to
// call before the handshake completes: packets are buffered and flushed in
// submission order once the agent reports open.
type Conn interface {
	Events() <-chan Event
	Send(p Packet) error
	Close() error
}

// Dialer opens agent connections
type Dialer interface {
	Dial(ctx context.Context, sessionID string) (Conn, error)
}
