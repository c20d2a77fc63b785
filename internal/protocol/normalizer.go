package protocol

import (
	"time"

	"esa_go/internal/esa"
)

func parseChangeType(ct string) ChangeType {
	switch ct {
	case esa.ChangeTypeSubImage:
		return ChangeTypeSubImage
	case esa.ChangeTypeResubDelta:
		return ChangeTypeResubDelta
	case esa.ChangeTypeHeartbeat:
		return ChangeTypeHeartbeat
	default:
		return ChangeTypeDelta
	}
}

func parseSegmentType(st string) SegmentType {
	switch st {
	case esa.SegmentTypeStart:
		return SegmentStart
	case esa.SegmentTypeSeg:
		return SegmentMiddle
	case esa.SegmentTypeEnd:
		return SegmentEnd
	default:
		return SegmentNone
	}
}

func publishTime(pt int64) time.Time {
	if pt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(pt).UTC()
}

// FromMarketChangeMessage normalizes one mcm frame.
func FromMarketChangeMessage(msg *esa.MarketChangeMessage, arrival time.Time) *MarketChangeMessage {
	return &MarketChangeMessage{
		ID:          msg.ID,
		ChangeType:  parseChangeType(msg.Ct),
		SegmentType: parseSegmentType(msg.SegmentType),
		Clk:         msg.Clk,
		InitialClk:  msg.InitialClk,
		ConflateMs:  msg.ConflateMs,
		HeartbeatMs: msg.HeartbeatMs,
		PublishTime: publishTime(msg.Pt),
		ArrivalTime: arrival,
		Items:       msg.Mc,
	}
}

// FromOrderChangeMessage normalizes one ocm frame.
func FromOrderChangeMessage(msg *esa.OrderChangeMessage, arrival time.Time) *OrderChangeMessage {
	return &OrderChangeMessage{
		ID:          msg.ID,
		ChangeType:  parseChangeType(msg.Ct),
		SegmentType: parseSegmentType(msg.SegmentType),
		Clk:         msg.Clk,
		InitialClk:  msg.InitialClk,
		ConflateMs:  msg.ConflateMs,
		HeartbeatMs: msg.HeartbeatMs,
		PublishTime: publishTime(msg.Pt),
		ArrivalTime: arrival,
		Items:       msg.Oc,
	}
}
