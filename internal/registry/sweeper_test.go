package registry

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/yooprep/internal/models"
	"github.com/yoockh/yooprep/internal/utils"
)

func TestSweepAbandonsExpiredSessions(t *testing.T) {
	reg, fs, clock := testRegistry(t)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock.SetNow(func() time.Time { return now })

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	sweeper := NewSweeper(reg, clock, time.Minute, 2*time.Minute, log)

	id, err := reg.Create(context.Background(), testCfg(), "")
	require.NoError(t, err)

	// inside the budget: nothing happens
	now = now.Add(10 * time.Minute)
	sweeper.Sweep(context.Background())
	assert.Equal(t, 1, reg.ActiveCount())
	assert.False(t, clock.Warned(id))

	// warning window: flagged but still live
	now = now.Add(4 * time.Minute) // 1 minute remaining
	sweeper.Sweep(context.Background())
	assert.Equal(t, 1, reg.ActiveCount())
	assert.True(t, clock.Warned(id))

	// at exactly zero the next sweep abandons it
	now = now.Add(time.Minute)
	sweeper.Sweep(context.Background())
	assert.Equal(t, 0, reg.ActiveCount())
	assert.Equal(t, models.StatusAbandoned, fs.status(id))

	// a later message on the swept session reports timeout
	orc, err := reg.Resolve(context.Background(), id)
	require.NoError(t, err)
	_, err = orc.SendUserMessage(context.Background(), "still there?")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeSessionTimeout))
}

func TestPingDuringWarningWindowExtends(t *testing.T) {
	reg, _, clock := testRegistry(t)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock.SetNow(func() time.Time { return now })

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	sweeper := NewSweeper(reg, clock, time.Minute, 2*time.Minute, log)

	id, err := reg.Create(context.Background(), testCfg(), "")
	require.NoError(t, err)

	now = now.Add(13 * time.Minute) // 2 minutes remaining
	sweeper.Sweep(context.Background())
	assert.True(t, clock.Warned(id))

	expiry, err := reg.Ping(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, now.Add(15*time.Minute), expiry)
	assert.False(t, clock.Warned(id))

	// the extension carries past the old deadline
	now = now.Add(5 * time.Minute)
	sweeper.Sweep(context.Background())
	assert.Equal(t, 1, reg.ActiveCount())
}
