package telemetry

import "fmt"

// Node identifies the metadata node that emits traces and profiles. It is
// attached to the trace resource and to every profile as tags.
type Node struct {
	NodeID  uint32
	GroupID uint32 // buddy group, 0 when the node is not mirrored
}

// Config holds OpenTelemetry tracing configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Node           Node

	// Endpoint is the OTLP gRPC collector (host:port).
	Endpoint string
	Insecure bool

	// SampleRate applies to root spans only. Child spans follow their parent.
	SampleRate float64
}

// DefaultConfig returns tracing disabled with collector defaults filled in.
func DefaultConfig() Config {
	return Config{
		ServiceName:    defaultServiceName,
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}

// ProfilingConfig contains configuration for Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Node           Node

	// Endpoint is the Pyroscope server URL (e.g. "http://localhost:4040").
	Endpoint string

	// ProfileTypes lists the profiles to collect. See profileTypes for the
	// accepted names.
	ProfileTypes []string
}

func (c ProfilingConfig) tags() map[string]string {
	tags := map[string]string{
		"version": c.ServiceVersion,
		"node_id": fmt.Sprint(c.Node.NodeID),
	}
	if c.Node.GroupID != 0 {
		tags["group_id"] = fmt.Sprint(c.Node.GroupID)
	}
	return tags
}
