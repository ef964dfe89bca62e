package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewSnowflakeID generates a snowflake ID string from a process-wide node
// whose ID comes from SNOWFLAKE_NODE (default 1). If the node cannot be
// initialized it falls back to a KSUID string.
func NewSnowflakeID() string {
	nodeOnce.Do(func() { node = nodeFromEnv() })
	if node == nil {
		return NewKSUID()
	}
	return node.Generate().String()
}

// nodeFromEnv returns nil when SNOWFLAKE_NODE is outside the node range.
func nodeFromEnv() *snowflake.Node {
	nodeID := int64(1)
	if v, err := strconv.ParseInt(os.Getenv("SNOWFLAKE_NODE"), 10, 64); err == nil {
		nodeID = v
	}
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil
	}
	return n
}
