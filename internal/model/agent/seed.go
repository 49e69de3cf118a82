package agent

// DefaultID is the agent used when nothing else resolves.
const DefaultID = "default"

// Seed provides the built-in agent catalog.
func Seed() []Config {
	carTools := []ToolID{ToolGetDirections, ToolGetWeather}
	return []Config{
		{
			ID:          DefaultID,
			Name:        "Hub",
			Slash:       "Hub",
			Description: "General purpose chat assistant",
			Tools:       []ToolID{ToolGetWeather, ToolCreateDocument, ToolUpdateDocument, ToolRequestSuggestions},
		},
		{
			ID:          "namc",
			Name:        "NAMC Curator",
			Slash:       "NAMC",
			Description: "Museum curator for the North American Maritime Collection.",
			Tools:       []ToolID{ToolSearchCollection, ToolGetWeather},
			Workflow:    WorkflowNAMCCurator,
		},
		{
			ID:          "namc-lore",
			Name:        "NAMC Lore Keeper",
			Slash:       "NAMC/Lore",
			Description: "Deep archive stories from the collection.",
			Tools:       []ToolID{ToolSearchCollection},
			Workflow:    WorkflowNAMCCurator,
		},
		{
			ID:          "mycarmindato",
			Name:        "MyCarMindATO",
			Slash:       "MyCarMindATO",
			Description: "Road companion for every kind of trip.",
			Tools:       carTools,
			Workflow:    WorkflowMyCarMind,
		},
		{
			ID:          "mycarmindato-driver",
			Name:        "MyCarMindATO Driver",
			Slash:       "MyCarMindATO/Driver",
			Description: "Everyday driving: routes, stops, reminders.",
			Tools:       carTools,
			Workflow:    WorkflowMyCarMind,
		},
		{
			ID:          "mycarmindato-trucker",
			Name:        "MyCarMindATO Trucker",
			Slash:       "MyCarMindATO/Trucker",
			Description: "Long-haul logs, weigh stations and rest planning.",
			Tools:       carTools,
			Workflow:    WorkflowMyCarMind,
		},
		{
			ID:          "mycarmindato-delivery",
			Name:        "MyCarMindATO Delivery Driver",
			Slash:       "MyCarMindATO/DeliveryDriver",
			Description: "Multi-drop delivery runs.",
			Tools:       carTools,
			Workflow:    WorkflowMyCarMind,
		},
		{
			ID:          "mycarmindato-timetraveler",
			Name:        "MyCarMindATO Time Traveler",
			Slash:       "MyCarMindATO/TimeTraveler",
			Description: "Road trips through the history of a place.",
			Tools:       carTools,
			Workflow:    WorkflowMyCarMind,
		},
		{
			ID:          "brooksbears",
			Name:        "Brooks Bears",
			Slash:       "BrooksBears",
			Description: "Bedtime stories that remember your family.",
			Tools:       []ToolID{},
			Memory:      MemoryRoute,
		},
		{
			ID:          "incognito",
			Name:        "Incognito",
			Slash:       "Incognito",
			Description: "No memories read, none leaked.",
			Tools:       []ToolID{ToolGetWeather},
			Memory:      MemoryNone,
		},
	}
}
