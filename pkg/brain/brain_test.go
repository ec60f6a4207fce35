package brain

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_Valid(t *testing.T) {
	tests := []struct {
		id    ID
		valid bool
	}{
		{Analytical, true},
		{Creative, true},
		{Sentinel, true},
		{ID("oracle"), false},
		{ID(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.id.Valid())
		})
	}
}

func TestAll(t *testing.T) {
	ids := All()
	assert.Len(t, ids, 6)
	for _, id := range ids {
		assert.True(t, id.Valid(), "id %s should be valid", id)
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Brain{ID: Analytical, Enabled: true}))

	err := r.Register(&Brain{ID: Analytical, Enabled: true})
	assert.Error(t, err)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(&Brain{ID: ID("nope")}))
	assert.Error(t, r.Register(nil))
}

func TestRegistry_Get(t *testing.T) {
	r := NewDefaultRegistry()

	b, err := r.Get(Technical)
	require.NoError(t, err)
	assert.Equal(t, Technical, b.ID)

	_, err = r.Get(ID("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_ListFiltersByTagAndEnabled(t *testing.T) {
	r := NewDefaultRegistry()

	all := r.List("")
	assert.Len(t, all, 6)

	safety := r.List(TagSafety)
	require.Len(t, safety, 1)
	assert.Equal(t, Sentinel, safety[0].ID)

	// Disabled brains drop out of listings.
	b, err := r.Get(Creative)
	require.NoError(t, err)
	b.Enabled = false
	assert.Len(t, r.List(""), 5)
}

func TestRegistry_ListPreservesRegistrationOrder(t *testing.T) {
	r := NewDefaultRegistry()
	ids := make([]ID, 0, 6)
	for _, b := range r.List("") {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, All(), ids)
}

func TestRecordOutcome_Concurrent(t *testing.T) {
	r := NewDefaultRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.RecordOutcome(Analytical, n%2 == 0)
		}(i)
	}
	wg.Wait()

	b, err := r.Get(Analytical)
	require.NoError(t, err)
	success, failure := b.Outcomes()
	assert.Equal(t, int64(50), success)
	assert.Equal(t, int64(50), failure)
}

func TestRecordOutcome_UnknownIDIsIgnored(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, func() {
		r.RecordOutcome(ID("ghost"), true)
	})
}
