package pagination

import (
	"fmt"
	"strings"

	"github.com/Sternrassler/pagestore/pkg/registry"
)

// Event names accepted by Controller.On.
const (
	// EventInstanceConfigChanged fires whenever an instance's configuration is
	// written. The payload is an InstanceConfig.
	EventInstanceConfigChanged = "instanceConfigChanged"

	// EventItemsMerged fires after a fetched page was merged into a partition.
	// The payload is a MergeEvent.
	EventItemsMerged = "itemsMerged"

	// mutationResourceInitialized is committed by CreateResource and flushes
	// queued instances. It is internal and cannot be subscribed to via On.
	mutationResourceInitialized = "resourceInitialized"
)

var validEvents = []string{EventInstanceConfigChanged, EventItemsMerged}

// Mutation is a state transition notification committed to a Store.
type Mutation struct {
	Resource string `json:"resource"`
	Type     string `json:"type"`
	Payload  any    `json:"payload,omitempty"`
}

// MergeEvent describes one merge into a partition.
type MergeEvent struct {
	RegistryKey registry.Key `json:"registryKey"`
	Page        int          `json:"page"`
	Offset      int          `json:"offset"`
	Count       int          `json:"count"`
	Total       int          `json:"total"`
}

// ValidateEventName returns ErrInvalidEventName for names other than
// EventInstanceConfigChanged and EventItemsMerged.
func ValidateEventName(event string) error {
	for _, valid := range validEvents {
		if event == valid {
			return nil
		}
	}
	return fmt.Errorf("%w: %q, valid events are: %s", ErrInvalidEventName, event, strings.Join(validEvents, ", "))
}
