package contracts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBatch(t *testing.T) {
	p := newTestPipeline(t, nil, WithModelExtraction(false))
	docs := []Document{
		{Name: "a.txt", Text: sampleContract},
		{Name: "empty.txt", Text: "  "},
		{Name: "b.txt", Text: `ООО "А" и АО "Б". Итого: 100 руб., НДС 25 руб. Ставка НДС 20%.`},
	}

	results, err := p.RunBatch(context.Background(), docs, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "a.txt", results[0].Name)
	require.NotNil(t, results[0].Result)
	assert.True(t, results[0].Result.Valid())

	assert.Nil(t, results[1].Result)
	assert.ErrorIs(t, results[1].Err, ErrEmptyDocument)

	require.NotNil(t, results[2].Result)
	assert.Len(t, results[2].Result.Warnings, 1)
	assert.NotEqual(t, results[0].Result.Diagnostics.RunID, results[2].Result.Diagnostics.RunID)
}

func TestRunBatch_Cancelled(t *testing.T) {
	p := newTestPipeline(t, nil, WithModelExtraction(false))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := p.RunBatch(ctx, []Document{{Name: "a", Text: sampleContract}, {Name: "b", Text: sampleContract}}, 1)

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Nil(t, r.Result)
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestRunBatch_Empty(t *testing.T) {
	p := newTestPipeline(t, nil, WithModelExtraction(false))

	results, err := p.RunBatch(context.Background(), nil, 4)
	require.NoError(t, err)
	assert.Empty(t, results)
}
