package fiscal

// Event codes (tpEvento) with a defined effect on the referenced document.
const (
	EventCorrection    = "110110"
	EventCancellation  = "110111"
	EventSubstitution  = "110112"
	EventContingencyEP = "110140"
)

// Family identifies the document family an event was registered against.
type Family uint8

const (
	FamilyNFe Family = iota
	FamilyCTe
	FamilyMDFe
)

// Transition describes what an event does to the document it references.
type Transition struct {
	Status        Status
	ChangesStatus bool
	Corrects      bool
}

// EventTransition maps an event code to its effect. Code 110112 is a
// cancellation by substitution for NF-e but a closure for MDF-e.
func EventTransition(family Family, code string) Transition {
	switch code {
	case EventCancellation:
		return Transition{Status: StatusCancelled, ChangesStatus: true}
	case EventSubstitution:
		if family == FamilyMDFe {
			return Transition{}
		}
		return Transition{Status: StatusCancelled, ChangesStatus: true}
	case EventContingencyEP:
		return Transition{Status: StatusAuthorized, ChangesStatus: true}
	case EventCorrection:
		return Transition{Corrects: true}
	default:
		return Transition{}
	}
}

// FamilyOfKey derives the family from the model digits embedded in a
// 44-digit access key (positions 21-22).
func FamilyOfKey(accessKey string) Family {
	if len(accessKey) != 44 {
		return FamilyNFe
	}
	switch accessKey[20:22] {
	case "57", "67":
		return FamilyCTe
	case "58":
		return FamilyMDFe
	default:
		return FamilyNFe
	}
}

// Apply applies an event's transition to a base document in place.
// Events whose own registration was denied have no effect.
func (t Transition) Apply(base *Document, event *Document) bool {
	if event.Status == StatusDenied {
		return false
	}
	changed := false
	if t.ChangesStatus && base.Status != t.Status {
		base.Status = t.Status
		changed = true
	}
	if t.Corrects && !base.Corrected {
		base.Corrected = true
		changed = true
	}
	return changed
}

// TransitionOf returns the transition carried by an event document.
func TransitionOf(event *Document) Transition {
	return EventTransition(FamilyOfKey(event.ReferencedKey), event.EventCode)
}
