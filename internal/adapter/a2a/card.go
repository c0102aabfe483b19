package a2a

import "github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"

// CardVersion is advertised on every agent card.
const CardVersion = "1.0.0"

type cardTemplate struct {
	description  string
	capabilities []string
	skills       []domain.Skill
}

var cardTemplates = map[string]cardTemplate{
	domain.AgentOrchestrator: {
		description:  "Orchestrator that routes requests to specialist agents and answers general questions",
		capabilities: []string{"routing", "conversation", "memory"},
		skills: []domain.Skill{
			{ID: "route", Name: "Request routing", Description: "Classifies a request and dispatches it to the right specialist", Tags: []string{"routing"}},
		},
	},
	domain.AgentVision: {
		description:  "Vision agent for image analysis and visual content understanding",
		capabilities: []string{"image_analysis", "video_analysis", "ocr"},
		skills: []domain.Skill{
			{ID: "describe_image", Name: "Image description", Description: "Describes and answers questions about images and videos", Tags: []string{"vision", "image", "video"}},
		},
	},
	domain.AgentDocument: {
		description:  "Document agent for text extraction and document analysis",
		capabilities: []string{"text_extraction", "summarization", "document_qa"},
		skills: []domain.Skill{
			{ID: "analyze_document", Name: "Document analysis", Description: "Extracts, summarizes and answers questions about documents", Tags: []string{"document", "pdf"}},
		},
	},
	domain.AgentData: {
		description:  "Data agent for data analysis and SQL queries",
		capabilities: []string{"sql", "analytics", "visualization"},
		skills: []domain.Skill{
			{ID: "analyze_data", Name: "Data analysis", Description: "Writes SQL, analyzes data and suggests charts", Tags: []string{"data", "sql"}},
		},
	},
	domain.AgentTool: {
		description:  "Tool agent with calculator, weather and database utilities",
		capabilities: []string{"calculator", "weather", "database_query"},
		skills: []domain.Skill{
			{ID: "calculator", Name: "Calculator", Description: "Evaluates mathematical expressions", Tags: []string{"math"}},
			{ID: "weather", Name: "Weather", Description: "Reports current conditions for a location", Tags: []string{"weather"}},
			{ID: "database_query", Name: "Database query", Description: "Looks up records in the reference database", Tags: []string{"data"}},
		},
	},
}

// NewAgentCard builds the card a worker publishes. Unknown names get a
// generic card.
func NewAgentCard(name, url string) domain.AgentCard {
	tpl, ok := cardTemplates[name]
	if !ok {
		tpl = cardTemplate{description: name + " agent"}
	}
	return domain.AgentCard{
		Name:         name + "-agent",
		Description:  tpl.description,
		URL:          url,
		Version:      CardVersion,
		Capabilities: append([]string(nil), tpl.capabilities...),
		Skills:       append([]domain.Skill(nil), tpl.skills...),
	}
}
