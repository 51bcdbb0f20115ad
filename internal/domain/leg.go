package domain

type LegID string

type LegDirection string

const (
	LegSend    LegDirection = "send"
	LegReceive LegDirection = "recv"
)

// MediaLeg is a produced or consumed media stream. The produced leg is owned
// exclusively by the media session; consumed legs are keyed by remote user id.
type MediaLeg struct {
	ID        LegID        `json:"id"`
	Kind      string       `json:"kind"`
	Direction LegDirection `json:"direction"`
	Paused    bool         `json:"paused"`
}
