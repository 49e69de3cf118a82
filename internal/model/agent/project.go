package agent

// Project is a closed set of agent groups that share access and memory rules.
type Project int

const (
	ProjectNone Project = iota
	ProjectMyCarMindATO
	ProjectNAMC
)

// ProjectSpec holds the rules a project applies to its members.
type ProjectSpec struct {
	// Canonical is the project's top-level route.
	Canonical string
	// Members lists agent ids, the top-level agent included.
	Members []string
	// FreeSubroutes are subroute slashes that need no elevated access.
	FreeSubroutes []string
	// SharedMemory makes every member read memories by the top route segment.
	SharedMemory bool
	// HomeLocation enables the home location context block.
	HomeLocation bool
}

var projects = map[Project]ProjectSpec{
	ProjectMyCarMindATO: {
		Canonical: "MyCarMindATO",
		Members: []string{
			"mycarmindato",
			"mycarmindato-driver",
			"mycarmindato-trucker",
			"mycarmindato-delivery",
			"mycarmindato-timetraveler",
		},
		FreeSubroutes: []string{"MyCarMindATO/Driver"},
		SharedMemory:  true,
		HomeLocation:  true,
	},
	ProjectNAMC: {
		Canonical: "NAMC",
		Members:   []string{"namc", "namc-lore"},
	},
}

var memberIndex = func() map[string]Project {
	index := make(map[string]Project)
	for project, spec := range projects {
		for _, id := range spec.Members {
			index[id] = project
		}
	}
	return index
}()

// ProjectOf returns the project an agent id belongs to, or ProjectNone.
func ProjectOf(agentID string) Project {
	return memberIndex[agentID]
}

// Spec returns the rules of p. ProjectNone has an empty spec.
func (p Project) Spec() ProjectSpec {
	return projects[p]
}

func (p Project) String() string {
	if p == ProjectNone {
		return "none"
	}
	return projects[p].Canonical
}

// FreeSubroutes returns the union of every project's free subroute allowlist.
func FreeSubroutes() []string {
	var out []string
	for _, p := range []Project{ProjectMyCarMindATO, ProjectNAMC} {
		out = append(out, projects[p].FreeSubroutes...)
	}
	return out
}
