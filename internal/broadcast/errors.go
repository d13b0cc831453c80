package broadcast

import "errors"

// ErrSlowListener indicates a listener's buffer was full when an event
// arrived. The broadcaster responds by unregistering the listener.
var ErrSlowListener = errors.New("listener buffer full")
