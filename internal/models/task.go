package models

// AgentKind determines whether a task can pause for a human decision and
// whether its results carry a grounding badge.
type AgentKind string

const (
	// KindDataGrounded tasks run straight through; their results are
	// grounded in fetched engagement records.
	KindDataGrounded AgentKind = "data_grounded"
	// KindKnowledgeGrounded tasks may reach a decision point mid-run and
	// wait for the consultant before revealing further output.
	KindKnowledgeGrounded AgentKind = "knowledge_grounded"
)

// Task is one delegable task definition from the catalog.
type Task struct {
	ID         string    `yaml:"id"`
	Title      string    `yaml:"title"`
	Engagement string    `yaml:"engagement"`
	Domain     Domain    `yaml:"domain"`
	Kind       AgentKind `yaml:"kind"`
	Playbook   string    `yaml:"playbook"`
	Prompt     string    `yaml:"prompt"`
}
