package combatant

// IndexOf returns the position of the participant with id in order, or -1.
func IndexOf(order []Participant, id string) int {
	for i, p := range order {
		if p.Info.ID == id {
			return i
		}
	}
	return -1
}

// Find returns the participant with id.
func Find(order []Participant, id string) (Participant, bool) {
	if i := IndexOf(order, id); i >= 0 {
		return order[i], true
	}
	return Participant{}, false
}

// Replace returns a new order with the participant sharing p's ID swapped
// for p. order itself is not modified. An unknown ID returns a plain copy.
func Replace(order []Participant, p Participant) []Participant {
	out := make([]Participant, len(order))
	copy(out, order)
	if i := IndexOf(out, p.Info.ID); i >= 0 {
		out[i] = p
	}
	return out
}

// CloneOrder deep-copies an initiative order.
func CloneOrder(order []Participant) []Participant {
	if order == nil {
		return nil
	}
	out := make([]Participant, len(order))
	for i, p := range order {
		out[i] = p.Clone()
	}
	return out
}

// OnSide returns the participants fighting for side, in order.
func OnSide(order []Participant, side Side) []Participant {
	var out []Participant
	for _, p := range order {
		if p.Info.Side == side {
			out = append(out, p)
		}
	}
	return out
}
