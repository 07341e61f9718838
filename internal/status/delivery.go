package status

import (
	"fmt"
	"slices"
)

// Delivery is the delivery state of a message. Sending is local-only and never
// appears in a persisted remote document.
type Delivery string

const (
	Sending   Delivery = "sending"
	Sent      Delivery = "sent"
	Delivered Delivery = "delivered"
	Read      Delivery = "read"
	Failed    Delivery = "failed"
)

var deliveryTransitions = map[Delivery][]Delivery{
	Sending:   {Sent, Failed},
	Sent:      {Delivered, Read},
	Delivered: {Read},
}

// Valid reports whether d is a known delivery state.
func (d Delivery) Valid() bool {
	switch d {
	case Sending, Sent, Delivered, Read, Failed:
		return true
	}
	return false
}

// Advance validates a delivery transition. Staying in the same state is allowed.
func Advance(from, to Delivery) error {
	if from == to {
		return nil
	}
	if !slices.Contains(deliveryTransitions[from], to) {
		return fmt.Errorf("invalid delivery transition from %s to %s", from, to)
	}
	return nil
}

// Derive computes the delivery state of a message sent by senderID from its
// readBy list: read when the conversational partner is present, delivered when
// anyone besides the sender is present, sent otherwise.
func Derive(readBy []string, senderID, partnerID string) Delivery {
	if partnerID != "" && partnerID != senderID && slices.Contains(readBy, partnerID) {
		return Read
	}
	if len(readBy) > 1 {
		return Delivered
	}
	return Sent
}

var deliveryRank = map[Delivery]int{Sending: 0, Sent: 1, Delivered: 2, Read: 3}

// Later returns whichever of a and b is further along sending → sent →
// delivered → read. Failed is terminal and always wins.
func Later(a, b Delivery) Delivery {
	if a == Failed || b == Failed {
		return Failed
	}
	if deliveryRank[b] > deliveryRank[a] {
		return b
	}
	return a
}
