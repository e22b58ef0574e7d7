// Package intent decides whether a chat message needs extra work before the
// prompt is assembled, and runs that work.
package intent

import (
	"context"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/johncui/mnemo/pkg/model"
)

// Intent names what a message asks for beyond a plain reply.
type Intent string

const (
	None     Intent = "none"
	Research Intent = "research"
)

// Classifier maps a message to an Intent.
type Classifier interface {
	Classify(ctx context.Context, message string) (Intent, error)
}

// Rule fires Intent when the lowercased message contains any trigger.
type Rule struct {
	Intent   Intent   `yaml:"intent"`
	Triggers []string `yaml:"triggers"`
}

// DefaultRules reproduce the research keywords the service always knew.
func DefaultRules() []Rule {
	return []Rule{
		{Intent: Research, Triggers: []string{"research", "find information about"}},
	}
}

// KeywordClassifier is a substring matcher. Rules are tried in order and
// the first match wins.
type KeywordClassifier struct {
	rules []Rule
}

func NewKeywordClassifier(rules []Rule) *KeywordClassifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	normalized := make([]Rule, 0, len(rules))
	for _, r := range rules {
		var triggers []string
		for _, t := range r.Triggers {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				triggers = append(triggers, t)
			}
		}
		if r.Intent == "" || len(triggers) == 0 {
			continue
		}
		normalized = append(normalized, Rule{Intent: r.Intent, Triggers: triggers})
	}
	return &KeywordClassifier{rules: normalized}
}

func (k *KeywordClassifier) Classify(_ context.Context, message string) (Intent, error) {
	lower := strings.ToLower(message)
	for _, r := range k.rules {
		for _, t := range r.Triggers {
			if strings.Contains(lower, t) {
				return r.Intent, nil
			}
		}
	}
	return None, nil
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads classifier rules from a YAML file of the form
//
//	rules:
//	  - intent: research
//	    triggers: ["research", "look up"]
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read intent rules", goerr.V("path", path), goerr.T(model.TagConfig))
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, goerr.Wrap(err, "failed to parse intent rules", goerr.V("path", path), goerr.T(model.TagConfig))
	}
	if len(f.Rules) == 0 {
		return nil, goerr.New("intent rules file has no rules", goerr.V("path", path), goerr.T(model.TagConfig))
	}
	return f.Rules, nil
}

// Handler produces a context block for one intent. An empty block adds
// nothing to the prompt.
type Handler interface {
	Handle(ctx context.Context, message string) (string, error)
}

// Registry dispatches intents to their handlers.
type Registry struct {
	classifier Classifier
	handlers   map[Intent]Handler
}

func NewRegistry(classifier Classifier) *Registry {
	return &Registry{classifier: classifier, handlers: make(map[Intent]Handler)}
}

// Register sets the handler for an intent, replacing any earlier one.
func (r *Registry) Register(i Intent, h Handler) *Registry {
	r.handlers[i] = h
	return r
}

// Run classifies message and returns the block of the matching handler.
// Intents without a handler produce no block.
func (r *Registry) Run(ctx context.Context, message string) (Intent, string, error) {
	if r == nil || r.classifier == nil {
		return None, "", nil
	}
	i, err := r.classifier.Classify(ctx, message)
	if err != nil {
		return None, "", err
	}
	h, ok := r.handlers[i]
	if !ok {
		return i, "", nil
	}
	block, err := h.Handle(ctx, message)
	if err != nil {
		return i, "", goerr.Wrap(err, "intent handler failed", goerr.V("intent", i))
	}
	return i, block, nil
}

// ResearchHandler runs the message through a Researcher.
type ResearchHandler struct {
	researcher model.Researcher
}

func NewResearchHandler(r model.Researcher) *ResearchHandler {
	return &ResearchHandler{researcher: r}
}

func (h *ResearchHandler) Handle(ctx context.Context, message string) (string, error) {
	out, err := h.researcher.Research(ctx, message)
	if err != nil {
		return "", goerr.Wrap(err, "research failed", goerr.T(model.TagProvider))
	}
	return "Research results:\n" + out + "\n\n", nil
}

var (
	_ Classifier = (*KeywordClassifier)(nil)
	_ Handler    = (*ResearchHandler)(nil)
)
