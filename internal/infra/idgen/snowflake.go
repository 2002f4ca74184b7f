package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"

	"radish-rewards/internal/domain"
)

// Snowflake issues TXN_ prefixed transaction numbers.
type Snowflake struct {
	node *snowflake.Node
}

// NewSnowflake creates a generator for the given node id (0..1023).
func NewSnowflake(nodeID int64) (*Snowflake, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Snowflake{node: node}, nil
}

// NextTransactionNo implements domain.TransactionNumberer.
func (s *Snowflake) NextTransactionNo() string {
	return "TXN_" + s.node.Generate().String()
}

var _ domain.TransactionNumberer = (*Snowflake)(nil)
