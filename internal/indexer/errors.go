package indexer

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned when a periodic update is started twice
var ErrAlreadyRunning = errors.New("periodic update already running")

// EntityResolutionError means the channel id does not resolve to a crawlable channel
type EntityResolutionError struct {
	ChannelID string
	Err       error
}

func (e *EntityResolutionError) Error() string {
	return fmt.Sprintf("resolve channel %s: %v", e.ChannelID, e.Err)
}

func (e *EntityResolutionError) Unwrap() error { return e.Err }

// ConnectorError means reading messages from the source failed
type ConnectorError struct {
	ChannelID string
	Err       error
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("read channel %s: %v", e.ChannelID, e.Err)
}

func (e *ConnectorError) Unwrap() error { return e.Err }
