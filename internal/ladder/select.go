package ladder

// SelectPrice updates a single-valued field. An image sets it to the incoming
// value or wipes it to 0; a delta overwrites only when a value is supplied.
func SelectPrice(isImage bool, current *float64, incoming *float64) float64 {
	switch {
	case incoming != nil:
		*current = *incoming
	case isImage:
		*current = 0
	}
	return *current
}
