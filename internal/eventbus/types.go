package eventbus

import "time"

// Topic names one logical channel on the bus.
type Topic string

// Standard topics emitted by the bridge.
const (
	TopicBridgeListening   Topic = "bridge.listening"
	TopicConfigChanged     Topic = "config.changed"
	TopicConfigInvalidated Topic = "config.invalidated"
	TopicDevServerState    Topic = "devserver.state"
)

// Source tags the component that published an event.
type Source string

const (
	SourceBridge    Source = "bridge"
	SourceGateway   Source = "gateway"
	SourceWatcher   Source = "watcher"
	SourceDevServer Source = "devserver"
	SourceClient    Source = "client"
	SourceUnknown   Source = "unknown"
)

// Envelope carries one published message plus its routing metadata.
type Envelope struct {
	Topic         Topic
	Timestamp     time.Time
	Source        Source
	CorrelationID string
	Payload       any
}

// ListeningEvent is published when the bridge listener is accepting
// connections and the startup notifier has run. PlayerURL is empty when the
// config could not be loaded or the address could not be resolved.
type ListeningEvent struct {
	SessionID string
	Address   string
	PlayerURL string
}

// ConfigChangedEvent is the raw file-change notification for the config path.
type ConfigChangedEvent struct {
	Path string
	Op   string
}

// Reasons for a config cache invalidation.
const (
	InvalidateFileChanged = "file_changed"
	InvalidateManual      = "manual"
)

// ConfigInvalidatedEvent is published after the bridge clears its config
// cache, meaning the next read will hit the file. Connected players should
// reload on this, not on the raw change event.
type ConfigInvalidatedEvent struct {
	Path   string
	Reason string // InvalidateFileChanged or InvalidateManual
}

// DevServerState summarises dev-process lifecycle transitions.
type DevServerState string

const (
	DevServerStarting DevServerState = "starting"
	DevServerRunning  DevServerState = "running"
	DevServerExited   DevServerState = "exited"
)

// DevServerStateEvent notifies consumers about managed dev-process
// transitions. ExitCode is set only for DevServerExited.
type DevServerStateEvent struct {
	State    DevServerState
	PID      int
	ExitCode *int
	Restarts int
}

// Descriptor groups below pair each Topic constant with its payload
// type, so Publish[T] and SubscribeTo[T] reject mismatches at compile
// time.

// Bridge groups bridge lifecycle topic descriptors.
var Bridge = struct {
	Listening TopicDef[ListeningEvent]
}{
	Listening: NewTopicDef[ListeningEvent](TopicBridgeListening),
}

// Config groups config-file topic descriptors.
var Config = struct {
	Changed     TopicDef[ConfigChangedEvent]
	Invalidated TopicDef[ConfigInvalidatedEvent]
}{
	Changed:     NewTopicDef[ConfigChangedEvent](TopicConfigChanged),
	Invalidated: NewTopicDef[ConfigInvalidatedEvent](TopicConfigInvalidated),
}

// DevServer groups dev-process topic descriptors.
var DevServer = struct {
	State TopicDef[DevServerStateEvent]
}{
	State: NewTopicDef[DevServerStateEvent](TopicDevServerState),
}
