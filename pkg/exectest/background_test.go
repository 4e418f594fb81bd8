package exectest

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackground(t *testing.T) {
	if !Installed("sh") {
		t.Skip("No shell found")
	}
	cmd := exec.Command("sh", "-c", "echo queued; echo -n claimed")
	bg := NewBackground(t, cmd)
	defer bg.Close()
	bg.Name = "sh"
	bg.LogStdout = true
	bg.Start()
	<-bg.Done()
	assert.NoError(t, bg.Err())
}

func TestBackground_Exit(t *testing.T) {
	if !Installed("sh") {
		t.Skip("No shell found")
	}
	bg := NewBackground(t, exec.Command("sh", "-c", "exit 3"))
	defer bg.Close()
	bg.Start()
	<-bg.Done()
	assert.Error(t, bg.Err())
}

func TestInstalled(t *testing.T) {
	assert.False(t, Installed("definitely-not-a-queue-binary"))
}
