package ethstats

import (
	"runtime"

	"github.com/gosimple/slug"
	"github.com/shirou/gopsutil/v3/host"
)

// NewNodeInfo builds the identity of the agent for the local platform.
func NewNodeInfo(name, node string) *NodeInfo {
	osVer, err := host.KernelVersion()
	if err != nil || osVer == "" {
		osVer = runtime.GOARCH
	}
	return newNodeInfo(name, node, runtime.GOOS, osVer)
}

func newNodeInfo(name, node, os, osVer string) *NodeInfo {
	return &NodeInfo{
		ID:    makeID(name, os, osVer),
		Name:  name,
		Node:  node,
		Os:    os,
		OsVer: osVer,
	}
}

func makeID(name, os, osVer string) string {
	return slug.Make(name + " " + os + " " + osVer)
}
