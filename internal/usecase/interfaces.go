package usecase

import (
	"context"

	ws "chatsync/internal/infrastructure/websocket"
)

// Transport is the part of the websocket connection the chat engine drives.
type Transport interface {
	Connect(ctx context.Context, force bool) error
	Stop()
	Connected() bool
	Publish(destination string, payload interface{}) bool
	Subscribe(destination string, handler ws.FrameHandler) func()
	OnStateChange(fn func(connected bool)) func()
}
