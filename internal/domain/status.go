package domain

// ConnectionStatus is the state of the stream connection.
type ConnectionStatus int

const (
	StatusStopped ConnectionStatus = iota
	StatusConnected
	StatusAuthenticated
	StatusSubscribed
	StatusDisconnected
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusStopped:
		return "STOPPED"
	case StatusConnected:
		return "CONNECTED"
	case StatusAuthenticated:
		return "AUTHENTICATED"
	case StatusSubscribed:
		return "SUBSCRIBED"
	case StatusDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// IsAuthenticated is true once requests other than authentication may be sent.
func (s ConnectionStatus) IsAuthenticated() bool {
	return s == StatusAuthenticated || s == StatusSubscribed
}
