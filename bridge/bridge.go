package bridge

import "context"

// Poster delivers a message towards the background without waiting for it to
// be applied. Post must not block; a nil error only means the message was accepted.
type Poster interface {
	Post(m Message) error
}

// Consumer is the background side of the bridge. Handle reports nothing back to
// the sender; failures are the consumer's to log.
type Consumer interface {
	Handle(ctx context.Context, m Message)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ctx context.Context, m Message)

func (f ConsumerFunc) Handle(ctx context.Context, m Message) { f(ctx, m) }

// Broadcaster fans a notification out to every connected foreground client.
type Broadcaster interface {
	Broadcast(n Notification)
}

// Source lets foreground code listen for notifications.
type Source interface {
	Subscribe(fn func(Notification)) (cancel func())
}
