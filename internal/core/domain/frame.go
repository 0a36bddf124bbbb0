package domain

// Encoding tags how a frame arrived on the wire. Forwarding keeps it.
type Encoding string

const (
	EncodingText   Encoding = "text_envelope"
	EncodingBinary Encoding = "binary"
)

// Frame is one inbound message on its way through a single fan-out.
// Data is the raw form exactly as received and must not be mutated.
type Frame struct {
	Origin   PeerID
	Encoding Encoding
	Data     []byte
}

// Remote reports whether the frame was relayed from another relay instance.
func (f Frame) Remote() bool {
	return f.Origin == ""
}
