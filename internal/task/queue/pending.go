package queue

// pendingList holds pending jobs ordered by priority weight.
// Insertion is stable: a job goes after every job of equal or lower weight.
type pendingList struct {
	items []*job
}

func (l *pendingList) Len() int { return len(l.items) }

func (l *pendingList) Insert(j *job) {
	w := j.priority.Weight()
	idx := len(l.items)
	for i, it := range l.items {
		if it.priority.Weight() > w {
			idx = i
			break
		}
	}
	l.items = append(l.items, nil)
	copy(l.items[idx+1:], l.items[idx:])
	l.items[idx] = j
}

func (l *pendingList) PopFront() *job {
	if len(l.items) == 0 {
		return nil
	}
	j := l.items[0]
	l.items[0] = nil
	l.items = l.items[1:]
	return j
}

func (l *pendingList) Remove(id string) bool {
	for i, it := range l.items {
		if it.id == id {
			copy(l.items[i:], l.items[i+1:])
			l.items[len(l.items)-1] = nil
			l.items = l.items[:len(l.items)-1]
			return true
		}
	}
	return false
}

// IDs returns pending job ids in dispatch order.
func (l *pendingList) IDs() []string {
	out := make([]string, len(l.items))
	for i, it := range l.items {
		out[i] = it.id
	}
	return out
}
