package ordertask

import (
	"strconv"

	"github.com/google/uuid"
)

// IDGenerator derives place-order task ids. The namespace is seeded with a
// server secret, so ids cannot be reproduced without it.
type IDGenerator struct {
	namespace uuid.UUID
}

func NewIDGenerator(secret string) *IDGenerator {
	return &IDGenerator{
		namespace: uuid.NewSHA1(uuid.NameSpaceURL, []byte("flash-sale:place-order-task:"+secret)),
	}
}

// TaskID returns the same id for the same (userID, itemID) pair.
func (g *IDGenerator) TaskID(userID, itemID int64) string {
	name := strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(itemID, 10)
	return uuid.NewSHA1(g.namespace, []byte(name)).String()
}
