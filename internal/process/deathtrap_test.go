package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeathtrapFires(t *testing.T) {
	h, err := Spawn("sleep 30", "")
	require.NoError(t, err)

	trap, err := ArmDeathtrap(h.Pid(), 200*time.Millisecond)
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		_ = h.Terminate(false, 0)
		t.Fatal("deathtrap did not kill the process group")
	}
	<-trap.Fired()
	assert.Equal(t, 128+9, h.PollNoHang().Code)
}

func TestDeathtrapDisarm(t *testing.T) {
	h, err := Spawn("sleep 2", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Terminate(false, 0) })

	trap, err := ArmDeathtrap(h.Pid(), 500*time.Millisecond)
	require.NoError(t, err)
	trap.Disarm()

	// Disarming twice is harmless.
	trap.Disarm()

	time.Sleep(time.Second)
	assert.Equal(t, Running, h.PollNoHang().Phase)
}

func TestArmDeathtrapRejectsInit(t *testing.T) {
	_, err := ArmDeathtrap(1, time.Second)
	assert.Error(t, err)
	_, err = ArmDeathtrap(0, time.Second)
	assert.Error(t, err)
}
