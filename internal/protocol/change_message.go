package protocol

import (
	"time"

	"esa_go/internal/esa"
)

// ChangeType is the kind of a change batch.
type ChangeType int

const (
	ChangeTypeDelta ChangeType = iota
	ChangeTypeSubImage
	ChangeTypeResubDelta
	ChangeTypeHeartbeat
)

func (c ChangeType) String() string {
	switch c {
	case ChangeTypeDelta:
		return "DELTA"
	case ChangeTypeSubImage:
		return "SUB_IMAGE"
	case ChangeTypeResubDelta:
		return "RESUB_DELTA"
	case ChangeTypeHeartbeat:
		return "HEARTBEAT"
	default:
		return "UNKNOWN"
	}
}

// SegmentType is the role of a frame inside a segmented batch.
type SegmentType int

const (
	SegmentNone SegmentType = iota
	SegmentStart
	SegmentMiddle
	SegmentEnd
)

func (s SegmentType) String() string {
	switch s {
	case SegmentNone:
		return "NONE"
	case SegmentStart:
		return "SEG_START"
	case SegmentMiddle:
		return "SEG"
	case SegmentEnd:
		return "SEG_END"
	default:
		return "UNKNOWN"
	}
}

// ChangeMessage is a normalized batch of item changes. Items keep frame order;
// repeated ids are legal and the later one wins.
type ChangeMessage[T any] struct {
	ID          int
	ChangeType  ChangeType
	SegmentType SegmentType
	Clk         string
	InitialClk  string
	ConflateMs  *int64
	HeartbeatMs *int64
	PublishTime time.Time // server time (pt)
	ArrivalTime time.Time // capture time
	Items       []T
}

// MarketChangeMessage and OrderChangeMessage are the two batch flavours.
type (
	MarketChangeMessage = ChangeMessage[*esa.MarketChange]
	OrderChangeMessage  = ChangeMessage[*esa.OrderMarketChange]
)

func (c *ChangeMessage[T]) isStartSegment() bool {
	return c.SegmentType == SegmentNone || c.SegmentType == SegmentStart
}

func (c *ChangeMessage[T]) isEndSegment() bool {
	return c.SegmentType == SegmentNone || c.SegmentType == SegmentEnd
}

func (c *ChangeMessage[T]) isRecoveryKind() bool {
	return c.ChangeType == ChangeTypeSubImage || c.ChangeType == ChangeTypeResubDelta
}

// IsStartOfNewSubscription reports the first frame of a brand-new (not resumed) subscription.
func (c *ChangeMessage[T]) IsStartOfNewSubscription() bool {
	return c.ChangeType == ChangeTypeSubImage && c.isStartSegment()
}

// IsStartOfRecovery reports the first frame of an image or resubscription replay.
func (c *ChangeMessage[T]) IsStartOfRecovery() bool {
	return c.isRecoveryKind() && c.isStartSegment()
}

// IsEndOfRecovery reports the last frame of an image or resubscription replay.
func (c *ChangeMessage[T]) IsEndOfRecovery() bool {
	return c.isRecoveryKind() && c.isEndSegment()
}
