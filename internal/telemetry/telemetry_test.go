package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "dittometa", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()

	shutdown, err := Init(ctx, DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())

	_, span := StartSpan(ctx, "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestNewResource_NodeAttributes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Node = Node{NodeID: 3, GroupID: 7}

	res, err := newResource(context.Background(), cfg)
	require.NoError(t, err)

	set := res.Set()
	v, ok := set.Value(attribute.Key(AttrNodeID))
	require.True(t, ok)
	assert.Equal(t, int64(3), v.AsInt64())
	v, ok = set.Value(attribute.Key(AttrGroupID))
	require.True(t, ok)
	assert.Equal(t, int64(7), v.AsInt64())
	v, ok = set.Value("service.instance.id")
	require.True(t, ok)
	assert.Equal(t, "node-3", v.AsString())

	cfg.Node.GroupID = 0
	res, err = newResource(context.Background(), cfg)
	require.NoError(t, err)
	_, ok = res.Set().Value(attribute.Key(AttrGroupID))
	assert.False(t, ok)
}

func TestNewSampler(t *testing.T) {
	sampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
	}))

	decide := func(s sdktrace.Sampler, ctx context.Context) sdktrace.SamplingDecision {
		return s.ShouldSample(sdktrace.SamplingParameters{
			ParentContext: ctx,
			TraceID:       trace.TraceID{2},
			Name:          "metastore.MkDir",
		}).Decision
	}

	assert.Equal(t, sdktrace.RecordAndSample, decide(newSampler(1), context.Background()))
	assert.Equal(t, sdktrace.Drop, decide(newSampler(0), context.Background()))
	// Children of a sampled parent are kept regardless of the root rate.
	assert.Equal(t, sdktrace.RecordAndSample, decide(newSampler(0), sampled))
}

func TestEndSpan(t *testing.T) {
	ctx := context.Background()
	advisory := func(err error) bool { return err.Error() == "advisory" }

	require.NotPanics(t, func() {
		_, span := StartMetaStoreSpan(ctx, "Stat")
		EndSpan(span, nil, advisory)

		_, span = StartMetaStoreSpan(ctx, "Stat")
		EndSpan(span, errors.New("advisory"), advisory)

		_, span = StartMetaStoreSpan(ctx, "Stat")
		EndSpan(span, errors.New("boom"), nil)
	})
}

func TestAttributeHelpers(t *testing.T) {
	t.Run("strings", func(t *testing.T) {
		tests := []struct {
			key  string
			attr func(string) attribute.KeyValue
		}{
			{AttrEntryID, EntryID},
			{AttrParentID, ParentID},
			{AttrEntryName, EntryName},
			{AttrNewName, NewName},
			{AttrLockKind, LockKind},
			{AttrClientID, ClientID},
		}
		for _, tt := range tests {
			kv := tt.attr("v")
			assert.Equal(t, tt.key, string(kv.Key))
			assert.Equal(t, "v", kv.Value.AsString())
		}
	})

	t.Run("Inlined", func(t *testing.T) {
		attr := Inlined(true)
		assert.Equal(t, AttrInlined, string(attr.Key))
		assert.True(t, attr.Value.AsBool())
	})

	t.Run("LinkCount", func(t *testing.T) {
		attr := LinkCount(3)
		assert.Equal(t, int64(3), attr.Value.AsInt64())
	})
}

// ============================================================================
// Profiling
// ============================================================================

func TestInitProfilingDisabled(t *testing.T) {
	stop, err := InitProfiling(ProfilingConfig{ProfileTypes: []string{"bogus"}})
	require.NoError(t, err)
	assert.NoError(t, stop())
}

func TestParseProfileTypes(t *testing.T) {
	types, mutex, block, err := parseProfileTypes([]string{"cpu", "mutex_count"})
	require.NoError(t, err)
	assert.Len(t, types, 2)
	assert.True(t, mutex)
	assert.False(t, block)

	_, _, _, err = parseProfileTypes([]string{"cpu", "heap"})
	assert.ErrorContains(t, err, `"heap"`)

	_, err = InitProfiling(ProfilingConfig{Enabled: true, ProfileTypes: []string{"heap"}})
	assert.Error(t, err)
}

func TestProfileTypeNames(t *testing.T) {
	names := ProfileTypeNames()
	assert.Len(t, names, 10)
	assert.IsIncreasing(t, names)
	assert.Contains(t, names, "goroutines")
}

func TestProfilingTags(t *testing.T) {
	cfg := ProfilingConfig{ServiceVersion: "v1", Node: Node{NodeID: 4}}
	assert.Equal(t, map[string]string{"version": "v1", "node_id": "4"}, cfg.tags())

	cfg.Node.GroupID = 9
	assert.Equal(t, "9", cfg.tags()["group_id"])
}
