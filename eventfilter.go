package workflowrun

// EventFilter can be passed to the event streaming implementation to allow
// specific consumers to have an earlier on filtering process. True is returned
// when the event should be skipped.
type EventFilter func(e *Event) bool

func FilterUsing(e *Event, filters ...EventFilter) bool {
	for _, filter := range filters {
		if mustFilterOut := filter(e); mustFilterOut {
			return true
		}
	}

	return false
}

func FilterByProjectID(projectID string) EventFilter {
	return func(e *Event) bool {
		pid, ok := e.Headers[HeaderProjectID]
		if !ok {
			return false
		}

		return pid != projectID
	}
}

func FilterByAction(action string) EventFilter {
	return func(e *Event) bool {
		a, ok := e.Headers[HeaderAction]
		if !ok {
			return false
		}

		return a != action
	}
}

func FilterByRunID(runID string) EventFilter {
	return func(e *Event) bool {
		rID, ok := e.Headers[HeaderRunID]
		if !ok {
			return false
		}

		return rID != runID
	}
}

func FilterByEventType(et EventType) EventFilter {
	return func(e *Event) bool {
		return e.Type != int(et)
	}
}
