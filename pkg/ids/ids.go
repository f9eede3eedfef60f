// Package ids provides process-wide snowflake ID generation for durable
// entities. IDs are time-ordered int64 values, which keeps message listings
// naturally sorted by insertion.
package ids

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

func initNode() {
	nid := int64(1)
	if v := os.Getenv("SCRM_NODE_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			nid = n % 1024
		}
	}
	n, err := snowflake.NewNode(nid)
	if err != nil {
		panic(err)
	}
	node = n
}

// Next returns a new unique int64 identifier.
func Next() int64 {
	once.Do(initNode)
	return node.Generate().Int64()
}

// NextString returns a new unique identifier in decimal string form.
func NextString() string {
	once.Do(initNode)
	return node.Generate().String()
}
