package fetcher

import "context"

// Disabled never reports an address and never performs I/O.
type Disabled struct{}

func (Disabled) Fetch(context.Context) (Addresses, error) {
	return Addresses{}, nil
}
