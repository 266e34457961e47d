package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namyoh/rheem/internal/estimate"
	"github.com/namyoh/rheem/internal/platform"
	"github.com/namyoh/rheem/internal/rheemerrors"
)

var (
	localDesc  = platform.ChannelDescriptor{Name: "local.collection", Platform: "local"}
	remoteDesc = platform.ChannelDescriptor{Name: "remote.bytes", Platform: "remote"}
)

func TestFindReturnsEmptyJunctionWhenAlreadyCompatible(t *testing.T) {
	g := NewGraph()

	j, err := g.Find(localDesc, localDesc)

	require.NoError(t, err)
	assert.Empty(t, j.Conversions)
}

func TestFindResolvesASingleHopConversion(t *testing.T) {
	g := NewGraph()
	g.Register(Conversion{
		Name: "local-to-remote", From: localDesc, To: remoteDesc,
		CostEstimate: estimate.Interval{Lower: 5, Upper: 5, P: 1.0},
		Build:        func(in platform.ChannelInstance) (platform.ChannelInstance, error) { return in, nil },
	})

	j, err := g.Find(localDesc, remoteDesc)

	require.NoError(t, err)
	require.Len(t, j.Conversions, 1)
	assert.Equal(t, "local-to-remote", j.Conversions[0].Name)
	assert.Equal(t, 5.0, j.TotalCost.Lower)
}

func TestFindPrefersCheaperOfTwoPaths(t *testing.T) {
	mid := platform.ChannelDescriptor{Name: "mid", Platform: "mid"}
	g := NewGraph()
	g.Register(Conversion{
		Name: "direct", From: localDesc, To: remoteDesc,
		CostEstimate: estimate.Interval{Lower: 100, Upper: 100, P: 1.0},
		Build:        passthroughBuild,
	})
	g.Register(Conversion{
		Name: "hop1", From: localDesc, To: mid,
		CostEstimate: estimate.Interval{Lower: 1, Upper: 1, P: 1.0},
		Build:        passthroughBuild,
	})
	g.Register(Conversion{
		Name: "hop2", From: mid, To: remoteDesc,
		CostEstimate: estimate.Interval{Lower: 1, Upper: 1, P: 1.0},
		Build:        passthroughBuild,
	})

	j, err := g.Find(localDesc, remoteDesc)

	require.NoError(t, err)
	assert.Equal(t, 2.0, j.TotalCost.Lower)
	require.Len(t, j.Conversions, 2)
	assert.Equal(t, "hop1", j.Conversions[0].Name)
	assert.Equal(t, "hop2", j.Conversions[1].Name)
}

func TestFindErrorsWhenNoPathExists(t *testing.T) {
	g := NewGraph()
	_, err := g.Find(localDesc, remoteDesc)
	assert.Error(t, err)
	assert.ErrorIs(t, err, rheemerrors.ErrNoViablePlan)
}

func TestCompatibleRequiresReusableForABroadcastConsumer(t *testing.T) {
	broadcastWant := platform.ChannelDescriptor{SupportsBroadcast: true}
	nonReusableHave := platform.ChannelDescriptor{SupportsBroadcast: true, Reusable: false}
	reusableHave := platform.ChannelDescriptor{SupportsBroadcast: true, Reusable: true}

	assert.False(t, compatible(nonReusableHave, broadcastWant))
	assert.True(t, compatible(reusableHave, broadcastWant))
}

func TestJunctionApplyRunsConversionsInOrder(t *testing.T) {
	j := &Junction{Conversions: []Conversion{
		{Name: "double", Build: func(in platform.ChannelInstance) (platform.ChannelInstance, error) {
			return fakeInstance{n: in.(fakeInstance).n * 2}, nil
		}},
		{Name: "add-one", Build: func(in platform.ChannelInstance) (platform.ChannelInstance, error) {
			return fakeInstance{n: in.(fakeInstance).n + 1}, nil
		}},
	}}

	out, err := j.Apply(fakeInstance{n: 3})

	require.NoError(t, err)
	assert.Equal(t, 7, out.(fakeInstance).n) // (3*2)+1
}

func passthroughBuild(in platform.ChannelInstance) (platform.ChannelInstance, error) { return in, nil }

type fakeInstance struct{ n int }

func (fakeInstance) Descriptor() platform.ChannelDescriptor          { return platform.ChannelDescriptor{} }
func (fakeInstance) WasProduced() bool                               { return true }
func (fakeInstance) MarkProduced()                                   {}
func (fakeInstance) MeasuredCardinality() (uint64, bool)             { return 0, false }
func (fakeInstance) SetMeasuredCardinality(uint64)                   {}
func (fakeInstance) IsMarkedForInstrumentation() bool                { return false }
func (fakeInstance) LazyChannelLineage() []platform.ChannelInstance  { return nil }
