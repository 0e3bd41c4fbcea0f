package publish

import (
	"fmt"

	"github.com/roach88/cascade/internal/ir"
)

// EventsChannel returns the Pub/Sub channel for dispatch records.
// Pattern: cascade:{namespace}:events
func EventsChannel(namespace string) string {
	return fmt.Sprintf("cascade:%s:events", namespace)
}

// FlowKey returns the list holding a flow's records in dispatch order.
// Pattern: cascade:{namespace}:flow:{flow_token}
func FlowKey(namespace, flowToken string) string {
	return fmt.Sprintf("cascade:%s:flow:%s", namespace, flowToken)
}

// InstanceKey returns the hash holding an instance's latest dispatch.
// Pattern: cascade:{namespace}:instance:{component}:{id}
func InstanceKey(namespace string, ref ir.InstanceRef) string {
	return fmt.Sprintf("cascade:%s:instance:%s:%s", namespace, ref.Component, ref.ID)
}
