package tune

// Event reports one step of a search. Done marks the final event, whose
// Candidate and Measurement are the selection.
type Event struct {
	Kernel    string
	Candidate Candidate
	Measurement
	Err   error
	Best  bool
	Done  bool
	Found bool
}

// Skipped reports whether the candidate's trial failed.
func (e Event) Skipped() bool { return e.Err != nil }

// Observer receives search events. A nil Observer drops them.
type Observer func(Event)

func (o Observer) notify(e Event) {
	if o != nil {
		o(e)
	}
}

// Join fans events out to several observers.
func Join(observers ...Observer) Observer {
	return func(e Event) {
		for _, o := range observers {
			o.notify(e)
		}
	}
}
