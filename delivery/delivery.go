// Package delivery sends finished job output to a chat conversation.
package delivery

import "context"

// Gateway delivers a text message to a conversation target. Any error means
// the message was not delivered.
type Gateway interface {
	Send(ctx context.Context, target, text string) error
}

// GatewayFunc adapts a function to Gateway
type GatewayFunc func(ctx context.Context, target, text string) error

func (f GatewayFunc) Send(ctx context.Context, target, text string) error {
	return f(ctx, target, text)
}
