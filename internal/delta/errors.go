package delta

import "errors"

var (
	errShortStream = errors.New("delta: truncated or malformed codec stream")
	errUnknownTag  = errors.New("delta: unknown codec stream tag")
)
