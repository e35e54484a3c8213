package graph

import "github.com/user/gencanvas/internal/types"

// Direction is the axis along which children are placed.
type Direction string

const (
	DirectionDown  Direction = "down"
	DirectionRight Direction = "right"
)

// Layout positions new children relative to their parent: Gap along the
// generation direction, SiblingGap across it per existing active child.
type Layout struct {
	Direction  Direction
	Gap        float64
	SiblingGap float64
}

func DefaultLayout() Layout {
	return Layout{
		Direction:  DirectionDown,
		Gap:        420,
		SiblingGap: 360,
	}
}

// duplicateOffset is applied to both axes when duplicating a node.
const duplicateOffset = 40

func (l Layout) childPosition(parent types.Position, index int) types.Position {
	stagger := float64(index) * l.SiblingGap
	if l.Direction == DirectionRight {
		return types.Position{X: parent.X + l.Gap, Y: parent.Y + stagger}
	}
	return types.Position{X: parent.X + stagger, Y: parent.Y + l.Gap}
}
