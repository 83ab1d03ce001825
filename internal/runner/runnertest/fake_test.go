package runnertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/reconradar/internal/errors"
)

func TestFake(t *testing.T) {
	ctx := context.Background()
	f := New().
		OnOutput("iw dev", "phy#0\n\tInterface wlan0\n").
		OnFailure("iw wlan0 scan dump", 255, "command failed: Operation not permitted (-1)").
		On("ping -c 1 -W 1 10.0.0.9", Response{Delay: time.Second})

	res, err := f.Run(ctx, time.Second, "iw", "dev")
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "wlan0")

	_, err = f.Run(ctx, time.Second, "iw", "wlan0", "scan", "dump")
	assert.True(t, errors.IsCode(err, errors.CodePermission))

	_, err = f.Run(ctx, 10*time.Millisecond, "ping", "-c", "1", "-W", "1", "10.0.0.9")
	assert.True(t, errors.IsCode(err, errors.CodeToolTimeout))

	_, err = f.Run(ctx, time.Second, "iwlist", "wlan0", "scan")
	assert.True(t, errors.IsCode(err, errors.CodeToolUnavailable))

	assert.Equal(t, []string{"iw dev", "iw wlan0 scan dump", "ping -c 1 -W 1 10.0.0.9", "iwlist wlan0 scan"}, f.Calls())
	assert.True(t, f.Called("iw dev"))
	assert.Len(t, f.CallsWithPrefix("iw "), 2)
}

func TestFakeSequence(t *testing.T) {
	f := New().
		OnFailure("hcitool dev", 1, "").
		OnOutput("hcitool dev", "ok")

	_, err := f.Run(context.Background(), time.Second, "hcitool", "dev")
	assert.Error(t, err)
	res, err := f.Run(context.Background(), time.Second, "hcitool", "dev")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Stdout)
	res, err = f.Run(context.Background(), time.Second, "hcitool", "dev")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Stdout)
}
