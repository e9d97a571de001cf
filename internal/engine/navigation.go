package engine

// Navigator is a clamped cursor over the flattened question list.
type Navigator struct {
	index int
	count int
}

func NewNavigator(count int) *Navigator {
	return &Navigator{count: count}
}

func (n *Navigator) Index() int { return n.index }

func (n *Navigator) Count() int { return n.count }

// Next moves forward one question; it reports false at the last question.
func (n *Navigator) Next() bool {
	if n.index >= n.count-1 {
		return false
	}
	n.index++
	return true
}

// Previous moves back one question; it reports false at the first question.
func (n *Navigator) Previous() bool {
	if n.index <= 0 {
		return false
	}
	n.index--
	return true
}

// JumpTo places the cursor on any in-range index.
func (n *Navigator) JumpTo(index int) error {
	if index < 0 || index >= n.count {
		return ErrOutOfRange
	}
	n.index = index
	return nil
}
