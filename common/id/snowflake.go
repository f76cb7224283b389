package id

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node    *snowflake.Node
	initErr error
	once    sync.Once
)

// Init initializes the Snowflake node with the given node ID. Only the
// first call takes effect; later calls return its error.
func Init(nodeID int64) error {
	once.Do(func() {
		node, initErr = snowflake.NewNode(nodeID)
	})
	return initErr
}

// New generates a new time-ordered int64 ID. The generator is lazily
// initialized with node 1 when Init was never called (tests, tools).
func New() int64 {
	return mustNode().Generate().Int64()
}

// NewApprovalID returns an ID derived from the action tag and the submission
// time. The snowflake carries the millisecond timestamp plus a per-node
// sequence, so two submissions in the same millisecond still differ.
func NewApprovalID(action string) string {
	return fmt.Sprintf("%s-%s", action, mustNode().Generate().Base36())
}

func mustNode() *snowflake.Node {
	if err := Init(1); err != nil {
		panic(fmt.Sprintf("snowflake init: %v", err))
	}
	return node
}
