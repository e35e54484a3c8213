package types

import (
	"github.com/google/uuid"
)

type CanvasID string
type NodeID string
type EdgeID string
type ImageID string
type JobID string
type RevisionID string
type BatchID string

func NewCanvasID() CanvasID {
	return CanvasID(uuid.New().String())
}

func NewNodeID() NodeID {
	return NodeID(uuid.New().String())
}

func NewEdgeID() EdgeID {
	return EdgeID(uuid.New().String())
}

func NewImageID() ImageID {
	return ImageID(uuid.New().String())
}

func NewJobID() JobID {
	return JobID(uuid.New().String())
}

func NewRevisionID() RevisionID {
	return RevisionID(uuid.New().String())
}

func NewBatchID() BatchID {
	return BatchID(uuid.New().String())
}
