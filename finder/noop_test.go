package finder_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/SED-EEW/eewamps/finder"
)

func TestNoopAlgorithm_ScanNeverSeedsAnEvent(t *testing.T) {
	var algo finder.NoopAlgorithm

	params, err := algo.Scan(context.Background(), []finder.PGA{{ValueCmS2: 10}}, nil)
	assert.NoError(t, err)
	assert.Nil(t, params)
}

func TestNoopAlgorithm_NewEventPanicsIfEverCalled(t *testing.T) {
	var algo finder.NoopAlgorithm

	assert.Panics(t, func() {
		algo.NewEvent(finder.Coordinate{}, nil, 1, 0)
	})
}
