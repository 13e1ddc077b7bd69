package message

// FrameType discriminates the events sent over a display-client channel.
type FrameType string

const (
	FrameMessage      FrameType = "message"
	FrameBacklogStart FrameType = "backlog_start"
	FrameBacklogEnd   FrameType = "backlog_end"
	FrameHeartbeat    FrameType = "heartbeat"
	FrameError        FrameType = "error"
)

// Frame is one typed event on the client wire. It is encoded as a single
// JSON object; fields irrelevant to the frame type are omitted.
type Frame struct {
	Type FrameType `json:"type"`

	// message
	Message *NormalizedMessage `json:"message,omitempty"`

	// backlog_start
	Count     int        `json:"count,omitempty"`
	Platforms []Platform `json:"platforms,omitempty"`

	// heartbeat: server sends a sequence number, the client must echo it.
	Seq uint64 `json:"seq,omitempty"`

	// error
	Code     string   `json:"code,omitempty"`
	Text     string   `json:"text,omitempty"`
	Platform Platform `json:"platform,omitempty"`
}

// Critical reports whether the frame must survive queue overflow. Ordinary
// chat messages are sheddable; backlog markers, heartbeats and error notices
// are not.
func (f Frame) Critical() bool { return f.Type != FrameMessage }

// MessageFrame wraps a chat message for the wire.
func MessageFrame(m NormalizedMessage) Frame {
	return Frame{Type: FrameMessage, Message: &m}
}

// BacklogStartFrame announces a replay of count backlog messages.
func BacklogStartFrame(count int, platforms []Platform) Frame {
	return Frame{Type: FrameBacklogStart, Count: count, Platforms: platforms}
}

// BacklogEndFrame terminates a backlog replay.
func BacklogEndFrame() Frame { return Frame{Type: FrameBacklogEnd} }

// HeartbeatFrame builds a ping with the given sequence number.
func HeartbeatFrame(seq uint64) Frame { return Frame{Type: FrameHeartbeat, Seq: seq} }

// ErrorFrame builds a machine-readable error notice.
func ErrorFrame(code, text string, platform Platform) Frame {
	return Frame{Type: FrameError, Code: code, Text: text, Platform: platform}
}
