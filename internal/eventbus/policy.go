package eventbus

// Priority ranks how much a topic's consumers care about losing events.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityCritical Priority = 2
)

// DeliveryStrategy picks which side loses when a subscriber channel is
// full.
type DeliveryStrategy string

const (
	// StrategyDropOldest evicts the queued head so the incoming event
	// lands; consumers always see the most recent state.
	StrategyDropOldest DeliveryStrategy = "drop-oldest"
	// StrategyDropNewest discards the incoming event; consumers keep the
	// order they already have.
	StrategyDropNewest DeliveryStrategy = "drop-newest"
)

// DeliveryPolicy is a topic's backpressure contract.
type DeliveryPolicy struct {
	Strategy DeliveryStrategy
	Priority Priority
}

var fallbackPolicy = DeliveryPolicy{
	Strategy: StrategyDropOldest,
	Priority: PriorityNormal,
}

// builtinPolicies assigns each bridge topic its backpressure contract.
// Listening is critical: dropping it loses the launch URL. Config topics
// want latest-wins. Dev-server transitions are informational; the status
// endpoint reads live state anyway.
var builtinPolicies = map[Topic]DeliveryPolicy{
	TopicBridgeListening:   {Strategy: StrategyDropOldest, Priority: PriorityCritical},
	TopicConfigChanged:     {Strategy: StrategyDropOldest, Priority: PriorityNormal},
	TopicConfigInvalidated: {Strategy: StrategyDropOldest, Priority: PriorityNormal},
	TopicDevServerState:    {Strategy: StrategyDropNewest, Priority: PriorityLow},
}

func policyFor(topic Topic, overrides map[Topic]DeliveryPolicy) DeliveryPolicy {
	if p, ok := overrides[topic]; ok {
		return p
	}
	if p, ok := builtinPolicies[topic]; ok {
		return p
	}
	return fallbackPolicy
}
