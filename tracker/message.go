package tracker

import "bytes"

// Message is a message received from a peer.
type Message struct {
	ID     string
	PeerID string
	Data   []byte
}

// clone returns a copy of m that shares no memory with it.
func (m Message) clone() Message {
	c := m
	if m.Data != nil {
		c.Data = bytes.Clone(m.Data)
	}
	return c
}

// Equal reports whether two messages carry the same id, peer and payload.
func (m Message) Equal(o Message) bool {
	return m.ID == o.ID && m.PeerID == o.PeerID && bytes.Equal(m.Data, o.Data)
}
