package device

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simharness/internal/mcperr"
)

// TestWaitForBootDeadlineDuringRefresh covers the deadline landing
// while a catalog refresh is mid-flight: the killed child process
// surfaces as a timeout, not a host failure.
func TestWaitForBootDeadlineDuringRefresh(t *testing.T) {
	listCalls := 0
	run := func(ctx context.Context, name string, args ...string) ([]byte, string, error) {
		line := name + " " + strings.Join(args, " ")
		switch {
		case strings.Contains(line, "simctl boot"):
			return nil, "", nil
		case strings.Contains(line, "list devices"):
			listCalls++
			if listCalls <= 2 {
				return []byte(devicesJSON), "", nil
			}
			// The deadline kills the child mid-call.
			<-ctx.Done()
			return nil, "", errors.New("signal: killed")
		}
		return nil, "command not found", errors.New("exit status 127")
	}

	reg := newRegistryWithRunner(nil, run)
	_, err := reg.Refresh(context.Background())
	require.NoError(t, err)

	monitor := NewBootMonitor(reg, nil)
	_, err = monitor.WaitForBoot(context.Background(), "BBB-222", 200*time.Millisecond)

	var me *mcperr.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, mcperr.TimeoutError, me.Code)
	assert.Equal(t, "BBB-222", me.Data["device_id"])
	assert.Equal(t, true, me.Data["can_retry"])
}
