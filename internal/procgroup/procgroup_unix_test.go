// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKillReapsGroup(t *testing.T) {
	cmd := exec.Command("sh", "-c", "sleep 100 & sleep 100")
	Set(cmd)
	require.NoError(t, cmd.Start())

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)
	require.Equal(t, pid, pgid, "child must lead its own group")

	require.NoError(t, Kill(cmd, syscall.SIGKILL))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr)
		status, ok := exitErr.Sys().(syscall.WaitStatus)
		require.True(t, ok)
		require.Equal(t, syscall.SIGKILL, status.Signal())
	case <-time.After(5 * time.Second):
		t.Fatal("process group survived SIGKILL")
	}
}

func TestKillNilCommand(t *testing.T) {
	require.NoError(t, Kill(nil, syscall.SIGTERM))
	require.NoError(t, Kill(&exec.Cmd{}, syscall.SIGTERM))
}
