package swap

import "errors"

var (
	// ErrNoRouter means the swap router address is not configured.
	ErrNoRouter = errors.New("swap router address not configured")
	// ErrNoRoute means no candidate path produced a quote.
	ErrNoRoute = errors.New("no viable swap route")
	// ErrBadQuote means the router returned a malformed amounts array.
	ErrBadQuote = errors.New("invalid quote from router")
	// ErrSwapReverted means the submitted swap transaction failed on chain.
	ErrSwapReverted = errors.New("swap transaction reverted")
)
