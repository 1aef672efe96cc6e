package journey

// Role identifies a speaker in the coaching conversation. The team roster is
// a closed set: routing decisions are made against these variants rather than
// per-agent branching.
type Role string

const (
	RoleMember      Role = "member"
	RoleCoordinator Role = "coordinator" // concierge, primary contact
	RoleMedical     Role = "medical"     // medical strategist
	RoleData        Role = "data"        // wearable/performance scientist
	RoleNutrition   Role = "nutrition"
	RoleCoaching    Role = "coaching" // physiotherapy and training
	RoleSpecialist  Role = "specialist"
	RoleDiagnostics Role = "diagnostics" // lab work and test panels
)

var roleNames = map[Role]string{
	RoleMember:      "Member",
	RoleCoordinator: "Ruby",
	RoleMedical:     "Dr. Warren",
	RoleData:        "Advik",
	RoleNutrition:   "Carla",
	RoleCoaching:    "Rachel",
	RoleSpecialist:  "Neel",
	RoleDiagnostics: "Lab",
}

// TeamRoles lists every non-member role in a stable order.
func TeamRoles() []Role {
	return []Role{
		RoleCoordinator,
		RoleMedical,
		RoleData,
		RoleNutrition,
		RoleCoaching,
		RoleSpecialist,
		RoleDiagnostics,
	}
}

// Valid reports whether r is a known roster role.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// DisplayName returns the human name used in transcripts.
func (r Role) DisplayName() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return string(r)
}

// Topic labels the subject of one conversation thread.
type Topic string

const (
	TopicCheckIn     Topic = "check-in"
	TopicDiagnostics Topic = "diagnostics"
	TopicDataReview  Topic = "data-review"
	TopicNutrition   Topic = "nutrition"
	TopicTraining    Topic = "training"
	TopicTravel      Topic = "travel"
	TopicStrategy    Topic = "strategy"
)

// rotationTopics fill the remaining thread slots once outstanding flags have
// been serviced.
var rotationTopics = []Topic{
	TopicCheckIn,
	TopicDataReview,
	TopicNutrition,
	TopicTraining,
	TopicStrategy,
}

// RotationTopics returns a copy of the default topic rotation.
func RotationTopics() []Topic {
	out := make([]Topic, len(rotationTopics))
	copy(out, rotationTopics)
	return out
}

// RouteTopic maps a thread topic to the role that leads it. The coordinator
// is always an eligible fallback for unknown topics.
func RouteTopic(topic Topic) Role {
	switch topic {
	case TopicDiagnostics:
		return RoleDiagnostics
	case TopicDataReview:
		return RoleData
	case TopicNutrition:
		return RoleNutrition
	case TopicTraining:
		return RoleCoaching
	case TopicStrategy:
		return RoleSpecialist
	case TopicTravel, TopicCheckIn:
		return RoleCoordinator
	default:
		return RoleCoordinator
	}
}

// LeadRole resolves who answers for a topic given the member's outstanding
// flags. A pending test result moves the diagnostics thread to the medical
// role so the results are interpreted rather than re-ordered; otherwise the
// fixed topic routing applies.
func LeadRole(topic Topic, attrs Attributes) Role {
	if topic == TopicDiagnostics && attrs[AttrPendingTestResult] != "" {
		return RoleMedical
	}
	return RouteTopic(topic)
}

// EligibleRoles returns the roles allowed to speak in a thread on the given
// topic, lead first. The coordinator is always eligible; a pending test
// result additionally admits the medical role so results can be interpreted
// in the same thread.
func EligibleRoles(topic Topic, attrs Attributes) []Role {
	lead := LeadRole(topic, attrs)
	roles := []Role{lead}
	if lead != RoleCoordinator {
		roles = append(roles, RoleCoordinator)
	}
	if attrs[AttrPendingTestResult] != "" && lead != RoleMedical {
		roles = append(roles, RoleMedical)
	}
	return roles
}
