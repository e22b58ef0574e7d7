package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/johncui/mnemo/pkg/model"
)

const defaultDDGBase = "https://api.duckduckgo.com/"

// DuckDuckGo answers research queries from the DuckDuckGo Instant Answer
// API. It needs no key.
type DuckDuckGo struct {
	baseURL   string
	maxTopics int
	client    *http.Client
}

type DuckDuckGoOption func(*DuckDuckGo)

func WithDDGBaseURL(u string) DuckDuckGoOption {
	return func(d *DuckDuckGo) { d.baseURL = u }
}

func WithDDGMaxTopics(n int) DuckDuckGoOption {
	return func(d *DuckDuckGo) { d.maxTopics = n }
}

func NewDuckDuckGo(opts ...DuckDuckGoOption) *DuckDuckGo {
	d := &DuckDuckGo{
		baseURL:   defaultDDGBase,
		maxTopics: 5,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	Heading       string     `json:"Heading"`
	AbstractText  string     `json:"AbstractText"`
	AbstractURL   string     `json:"AbstractURL"`
	Answer        string     `json:"Answer"`
	Definition    string     `json:"Definition"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

// Research returns a plain-text summary of the instant answer, or a short
// notice when DuckDuckGo has nothing for the query.
func (d *DuckDuckGo) Research(ctx context.Context, query string) (string, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create research request", goerr.T(model.TagProvider))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", goerr.Wrap(err, "research request failed", goerr.V("query", query), goerr.T(model.TagProvider))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", goerr.New("unexpected research status", goerr.V("status", resp.StatusCode), goerr.T(model.TagProvider))
	}

	var out ddgResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", goerr.Wrap(err, "failed to decode research response", goerr.T(model.TagProvider))
	}
	return d.summarize(query, out), nil
}

func (d *DuckDuckGo) summarize(query string, r ddgResponse) string {
	var lines []string
	if r.Heading != "" {
		lines = append(lines, r.Heading)
	}
	if r.Answer != "" {
		lines = append(lines, r.Answer)
	}
	if r.AbstractText != "" {
		line := r.AbstractText
		if r.AbstractURL != "" {
			line += " (" + r.AbstractURL + ")"
		}
		lines = append(lines, line)
	}
	if r.Definition != "" {
		lines = append(lines, r.Definition)
	}

	for i, t := range flattenTopics(r.RelatedTopics) {
		if i >= d.maxTopics {
			break
		}
		line := "- " + t.Text
		if t.FirstURL != "" {
			line += " (" + t.FirstURL + ")"
		}
		lines = append(lines, line)
	}

	if len(lines) == 0 {
		return "No results found for " + query
	}
	return strings.Join(lines, "\n")
}

func flattenTopics(topics []ddgTopic) []ddgTopic {
	var out []ddgTopic
	for _, t := range topics {
		if t.Text != "" {
			out = append(out, t)
		}
		out = append(out, flattenTopics(t.Topics)...)
	}
	return out
}

var _ model.Researcher = (*DuckDuckGo)(nil)
