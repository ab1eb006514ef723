package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/eventbus/core"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTopologyCommand(t *testing.T) {
	out, err := execute(t, "topology")
	require.NoError(t, err)
	assert.Equal(t, "exchange\ttest_exchange\n"+
		"queue\ttest_queue\n"+
		"routing key\ttest.topic\n"+
		"routing key\ttest.topic_two\n", out)
}

func TestPublishCommand_Memory(t *testing.T) {
	out, err := execute(t, "publish", "--transport", "memory", "--key", "test.topic_two", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "published to test_exchange with key test.topic_two")
}

func TestPublishCommand_UnknownKey(t *testing.T) {
	_, err := execute(t, "publish", "--transport", "memory", "--key", "test.unknown", "hello")
	assert.ErrorIs(t, err, core.ErrDecoding)
}
