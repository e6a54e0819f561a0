package enums

import "fmt"

// SyncPhase is the persisted state of a sync run.
type SyncPhase string

const (
	SyncPhaseStarted     SyncPhase = "started"
	SyncPhaseFetching    SyncPhase = "fetching"
	SyncPhaseNormalizing SyncPhase = "normalizing"
	SyncPhaseCommitting  SyncPhase = "committing"
	SyncPhaseSuccess     SyncPhase = "success"
	SyncPhasePartial     SyncPhase = "partial"
	SyncPhaseFailed      SyncPhase = "failed"
)

var validSyncPhases = []SyncPhase{
	SyncPhaseStarted,
	SyncPhaseFetching,
	SyncPhaseNormalizing,
	SyncPhaseCommitting,
	SyncPhaseSuccess,
	SyncPhasePartial,
	SyncPhaseFailed,
}

func (p SyncPhase) String() string {
	return string(p)
}

func (p SyncPhase) IsValid() bool {
	for _, candidate := range validSyncPhases {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the phase is one of the run outcomes.
func (p SyncPhase) IsTerminal() bool {
	return p == SyncPhaseSuccess || p == SyncPhasePartial || p == SyncPhaseFailed
}

// SyncOutcome is the terminal result of a run.
type SyncOutcome string

const (
	SyncOutcomeSuccess SyncOutcome = "success"
	SyncOutcomePartial SyncOutcome = "partial"
	SyncOutcomeFailed  SyncOutcome = "failed"
)

func (o SyncOutcome) String() string {
	return string(o)
}

// Phase maps the outcome onto its terminal phase.
func (o SyncOutcome) Phase() SyncPhase {
	return SyncPhase(o)
}

// SyncMode selects between watermark-based and from-scratch fetching.
type SyncMode string

const (
	SyncModeIncremental SyncMode = "incremental"
	SyncModeFull        SyncMode = "full"
)

func (m SyncMode) String() string {
	return string(m)
}

// ParseSyncMode converts raw input into a SyncMode. Empty input is incremental.
func ParseSyncMode(value string) (SyncMode, error) {
	switch value {
	case "", string(SyncModeIncremental):
		return SyncModeIncremental, nil
	case string(SyncModeFull):
		return SyncModeFull, nil
	}
	return "", fmt.Errorf("invalid sync mode %q", value)
}

// SyncTrigger records what started a run.
type SyncTrigger string

const (
	SyncTriggerManual        SyncTrigger = "manual"
	SyncTriggerScheduled     SyncTrigger = "scheduled"
	SyncTriggerOAuthCallback SyncTrigger = "oauth_callback"
)

func (t SyncTrigger) String() string {
	return string(t)
}

// ResourceType is an upstream collection mirrored into raw records.
type ResourceType string

const (
	ResourceProducts        ResourceType = "products"
	ResourceCustomers       ResourceType = "customers"
	ResourceOrders          ResourceType = "orders"
	ResourceMarketingEvents ResourceType = "marketing_events"
)

// SyncResources is the fixed fetch order of a run. Orders and marketing
// events come last so attribution sees the freshest catalog state.
var SyncResources = []ResourceType{
	ResourceProducts,
	ResourceCustomers,
	ResourceOrders,
	ResourceMarketingEvents,
}

func (r ResourceType) String() string {
	return string(r)
}

func (r ResourceType) IsValid() bool {
	for _, candidate := range SyncResources {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseResourceType converts raw input into a ResourceType.
func ParseResourceType(value string) (ResourceType, error) {
	for _, candidate := range SyncResources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid resource type %q", value)
}
