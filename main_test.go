package main

import (
	"testing"
	"time"

	"github.com/ferranbt/ethstats-agent/ethstats"
	"github.com/stretchr/testify/assert"
)

func TestReadConfig(t *testing.T) {
	config := readConfig()
	assert.Equal(t, ethstats.DefaultConfig().QueryTimeout, config.QueryTimeout)
	assert.Equal(t, ethstats.DefaultConfig().RPCEndpoint(), config.RPCEndpoint())

	t.Setenv("QUERY_TIMEOUT", "2s")
	t.Setenv("RPC_PORT", "8545")
	t.Setenv("EC2_INSTANCE_ID", "node-1")

	config = readConfig()
	assert.Equal(t, 2*time.Second, config.QueryTimeout)
	assert.Equal(t, 8545, config.RPCPort)
	assert.Equal(t, "node-1", config.InstanceName)
}
