package tokens

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aerogrind/solcore/pkg/config"
)

func TestBackpressureNeverEvictsOpenPosition(t *testing.T) {
	ranked := []RankedMint{
		{Mint: "open1", Bucket: BucketOpenPosition},
		{Mint: "open2", Bucket: BucketOpenPosition},
		{Mint: "bg1", Bucket: BucketBackground},
		{Mint: "bg2", Bucket: BucketBackground},
		{Mint: "bg3", Bucket: BucketBackground},
	}

	kept := Backpressure(ranked, 3)
	require.Len(t, kept, 3)

	var openKept int
	for _, k := range kept {
		if k.Bucket == BucketOpenPosition {
			openKept++
		}
	}
	require.Equal(t, 2, openKept, "both open-position mints must survive backpressure")
}

func TestBackpressureNoopUnderLimit(t *testing.T) {
	ranked := []RankedMint{{Mint: "a"}, {Mint: "b"}}
	require.Equal(t, ranked, Backpressure(ranked, 10))
}

func TestRecomputeAssignsOpenPositionFirst(t *testing.T) {
	st := NewStore(nil)
	now := time.Now()
	st.Upsert("mintX", "discovery", now)
	st.UpdateSnapshot("mintX", func(s *Snapshot) {
		s.PerSource["discovery"] = SourcePrice{PriceSOL: 1, At: now}
	})

	in := PriorityInputs{
		HasPosition: func(mint string) bool { return mint == "mintX" },
	}
	Recompute(st, config.Filter{}, nil, in, now)

	snap, ok := st.Snapshot("mintX")
	require.True(t, ok)
	require.Equal(t, BucketOpenPosition, snap.Priority)
}

func TestRecomputeDemotesOldStandardMintToBackground(t *testing.T) {
	st := NewStore(nil)
	now := time.Now()
	discovered := now.Add(-20 * time.Minute)
	st.Upsert("mintOld", "discovery", discovered)
	st.UpdateSnapshot("mintOld", func(s *Snapshot) {
		s.PerSource["discovery"] = SourcePrice{PriceSOL: 1, At: now}
	})
	st.Upsert("mintFresh", "discovery", now)
	st.UpdateSnapshot("mintFresh", func(s *Snapshot) {
		s.PerSource["discovery"] = SourcePrice{PriceSOL: 1, At: now}
	})

	in := PriorityInputs{BackgroundAge: 10 * time.Minute}
	Recompute(st, config.Filter{}, nil, in, now)

	old, ok := st.Snapshot("mintOld")
	require.True(t, ok)
	require.Equal(t, BucketBackground, old.Priority, "a mint tracked well past the background-age cutoff with no qualifying signal demotes to Background")

	fresh, ok := st.Snapshot("mintFresh")
	require.True(t, ok)
	require.Equal(t, BucketStandard, fresh.Priority, "a recently-discovered mint stays Standard")
}
