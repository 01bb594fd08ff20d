package repo

import "context"

// LogSource is the managed process' console output
type LogSource interface {
	// Subscribe registers fn for every new console line. Only one subscriber
	// per source is tracked; a second call replaces the first.
	Subscribe(fn func(line string))

	// Unsubscribe removes the subscriber
	Unsubscribe()

	// Cached returns the lines already produced, oldest first
	Cached() []string
}

// Sender receives the output of a dispatched command
type Sender interface {
	Name() string
	SendMessage(text string)
}

// CommandDispatcher runs console commands in the managed process
type CommandDispatcher interface {
	// CommandInfo resolves a command line to its permission node
	CommandInfo(line string) (node string, ok bool)

	// Dispatch executes line on behalf of sender
	Dispatch(ctx context.Context, sender Sender, line string) error
}
