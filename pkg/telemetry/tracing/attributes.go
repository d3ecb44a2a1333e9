package tracing

import "go.opentelemetry.io/otel/attribute"

// Attribute keys set on keyweave spans.
const (
	AttrKeyID      = attribute.Key("keyweave.key_id")
	AttrStrategy   = attribute.Key("keyweave.strategy")
	AttrOperation  = attribute.Key("keyweave.operation_type")
	AttrOperator   = attribute.Key("keyweave.operator")
	AttrSnapshotID = attribute.Key("keyweave.snapshot_id")
	AttrRequestID  = attribute.Key("keyweave.request_id")
)
