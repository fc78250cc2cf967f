package notify

import (
	"context"
	"log"
)

// Target addresses either a single participant or the shared discussion
// thread of a request.
type Target struct {
	ActorID  string `json:"actor_id,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
}

func Actor(id string) Target  { return Target{ActorID: id} }
func Thread(id string) Target { return Target{ThreadID: id} }
func (t Target) IsZero() bool { return t.ActorID == "" && t.ThreadID == "" }

// Well-known broadcast targets the delivery bridge fans out: the developer
// pool channel and the administrator channel.
var (
	PoolTarget   = Target{ActorID: "pool"}
	AdminsTarget = Target{ActorID: "admins"}
)

// Link is an optional call-to-action attached to a message.
type Link struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Notifier delivers messages to participants. Deliveries are
// fire-and-forget: callers log a failed Send and move on, never retry.
type Notifier interface {
	Send(ctx context.Context, to Target, message string, links ...Link) error
}

// ThreadRef identifies a created discussion thread.
type ThreadRef struct {
	ID   string `json:"id"`
	Link string `json:"link,omitempty"`
}

// ThreadCreator opens a shared discussion thread for a request. Best-effort;
// an error must not abort the mutation that wanted the thread.
type ThreadCreator interface {
	CreateThread(ctx context.Context, title string) (ThreadRef, error)
}

// LogNotifier writes deliveries to the process log. It is the default sink
// when no webhook is configured.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) logger() *log.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return log.Default()
}

func (n LogNotifier) Send(ctx context.Context, to Target, message string, links ...Link) error {
	switch {
	case to.ThreadID != "":
		n.logger().Printf("notify thread=%s: %s", to.ThreadID, message)
	case to.ActorID != "":
		n.logger().Printf("notify actor=%s: %s", to.ActorID, message)
	}
	return nil
}

// NopThreads is a ThreadCreator that never creates a thread.
type NopThreads struct{}

func (NopThreads) CreateThread(ctx context.Context, title string) (ThreadRef, error) {
	return ThreadRef{}, nil
}
