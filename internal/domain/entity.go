package domain

import (
	"time"
)

// Frame directions recorded by the frame recorder.
const (
	DirectionInbound  = "IN"
	DirectionOutbound = "OUT"
)

// Frame is one raw protocol line captured from a stream connection.
type Frame struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Connection uint64    `gorm:"index" json:"connection"` // Connection generation the line belongs to
	Direction  string    `gorm:"size:3;index" json:"direction"`
	Line       string    `json:"line"`
	RecordedAt time.Time `gorm:"index" json:"recorded_at"`
}
