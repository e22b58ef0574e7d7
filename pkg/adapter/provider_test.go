package adapter_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/johncui/mnemo/pkg/adapter"
	"github.com/johncui/mnemo/pkg/model"
)

func TestClaudeGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("joins text blocks", func(t *testing.T) {
		var req map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gt.Equal(t, r.URL.Path, "/v1/messages")
			gt.Equal(t, r.Header.Get("X-Api-Key"), "test-key")
			gt.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"id": "msg_01", "type": "message", "role": "assistant", "model": "claude-test",
				"content": [{"type": "text", "text": "Hello "}, {"type": "text", "text": "there"}],
				"stop_reason": "end_turn",
				"usage": {"input_tokens": 3, "output_tokens": 2}
			}`))
		}))
		defer srv.Close()

		c, err := adapter.NewClaude(adapter.ClaudeConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "claude-test"})
		gt.NoError(t, err)

		out, err := c.Generate(ctx, "Current message: hi")
		gt.NoError(t, err)
		gt.Equal(t, out, "Hello there")
		gt.Equal(t, req["model"], any("claude-test"))

		msgs := req["messages"].([]any)
		gt.A(t, msgs).Length(1)
		gt.S(t, fmt.Sprint(msgs[0])).Contains("Current message: hi")
	})

	t.Run("api failure is a provider error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))
		}))
		defer srv.Close()

		c, err := adapter.NewClaude(adapter.ClaudeConfig{APIKey: "k", BaseURL: srv.URL})
		gt.NoError(t, err)
		_, err = c.Generate(ctx, "hi")
		gt.Error(t, err)
		gt.True(t, goerrHasProvider(err))
	})

	t.Run("missing key is a config error", func(t *testing.T) {
		_, err := adapter.NewClaude(adapter.ClaudeConfig{})
		gt.True(t, model.IsConfig(err))
	})
}

func TestOpenAIGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the first choice", func(t *testing.T) {
		var req map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gt.Equal(t, r.URL.Path, "/chat/completions")
			gt.Equal(t, r.Header.Get("Authorization"), "Bearer sk-test")
			gt.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o",
				"choices": [{"index": 0, "finish_reason": "stop",
					"message": {"role": "assistant", "content": "Hi there"}}]
			}`))
		}))
		defer srv.Close()

		g, err := adapter.NewOpenAIGenerator(adapter.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
		gt.NoError(t, err)

		out, err := g.Generate(ctx, "Current message: hi")
		gt.NoError(t, err)
		gt.Equal(t, out, "Hi there")
		gt.Equal(t, req["model"], any("gpt-4o"))

		msgs := req["messages"].([]any)
		gt.A(t, msgs).Length(1)
		gt.S(t, fmt.Sprint(msgs[0])).Contains("Current message: hi")
	})

	t.Run("api failure is a provider error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
		}))
		defer srv.Close()

		g, err := adapter.NewOpenAIGenerator(adapter.OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
		gt.NoError(t, err)
		_, err = g.Generate(ctx, "hi")
		gt.Error(t, err)
		gt.True(t, goerrHasProvider(err))
	})

	t.Run("missing key is a config error", func(t *testing.T) {
		_, err := adapter.NewOpenAIGenerator(adapter.OpenAIConfig{})
		gt.True(t, model.IsConfig(err))
	})
}

func TestDuckDuckGo(t *testing.T) {
	ctx := context.Background()

	t.Run("summarizes an instant answer", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gt.Equal(t, r.URL.Query().Get("q"), "golang")
			gt.Equal(t, r.URL.Query().Get("format"), "json")
			w.Write([]byte(`{
				"Heading": "Go (programming language)",
				"AbstractText": "Go is a statically typed language.",
				"AbstractURL": "https://en.wikipedia.org/wiki/Go",
				"RelatedTopics": [
					{"Text": "Goroutines", "FirstURL": "https://duckduckgo.com/Goroutine"},
					{"Name": "Tools", "Topics": [{"Text": "gofmt", "FirstURL": "https://duckduckgo.com/gofmt"}]},
					{"Text": "Channels", "FirstURL": "https://duckduckgo.com/Channel"}
				]
			}`))
		}))
		defer srv.Close()

		d := adapter.NewDuckDuckGo(adapter.WithDDGBaseURL(srv.URL+"/"), adapter.WithDDGMaxTopics(2))
		out, err := d.Research(ctx, "golang")
		gt.NoError(t, err)
		gt.S(t, out).Contains("Go (programming language)")
		gt.S(t, out).Contains("Go is a statically typed language. (https://en.wikipedia.org/wiki/Go)")
		gt.S(t, out).Contains("- Goroutines")
		gt.S(t, out).Contains("- gofmt")
		gt.S(t, out).NotContains("Channels")
	})

	t.Run("empty answer", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		out, err := adapter.NewDuckDuckGo(adapter.WithDDGBaseURL(srv.URL+"/")).Research(ctx, "zzqx")
		gt.NoError(t, err)
		gt.Equal(t, out, "No results found for zzqx")
	})

	t.Run("http failure is a provider error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := adapter.NewDuckDuckGo(adapter.WithDDGBaseURL(srv.URL+"/")).Research(ctx, "x")
		gt.True(t, goerrHasProvider(err))
	})
}

// minimalPDF builds a one-page PDF showing text with correct xref offsets.
func minimalPDF(text string) []byte {
	stream := fmt.Sprintf("BT /F1 24 Tf 72 700 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestPDFExtractor(t *testing.T) {
	ctx := context.Background()
	p := adapter.NewPDFExtractor()

	t.Run("reads the text layer", func(t *testing.T) {
		text, err := p.ExtractText(ctx, minimalPDF("Hello memory"))
		gt.NoError(t, err)
		gt.S(t, text).Contains("Hello memory")
	})

	t.Run("garbage is a validation error", func(t *testing.T) {
		_, err := p.ExtractText(ctx, []byte("definitely not a pdf"))
		gt.Error(t, err)
		gt.True(t, model.IsValidation(err))
	})
}

func TestGemini(t *testing.T) {
	apiKey := os.Getenv("TEST_GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("TEST_GEMINI_API_KEY is not set")
	}

	ctx := context.Background()
	g, err := adapter.NewGemini(ctx, adapter.GeminiConfig{APIKey: apiKey, Dimensions: 256})
	gt.NoError(t, err)

	vec, err := g.Embed(ctx, "Hello, what is the capital of France?")
	gt.NoError(t, err)
	gt.A(t, vec).Length(256)

	out, err := g.Generate(ctx, "Reply with the single word: ok")
	gt.NoError(t, err)
	gt.True(t, out != "")
}

func TestGeminiNeedsCredentials(t *testing.T) {
	_, err := adapter.NewGemini(context.Background(), adapter.GeminiConfig{})
	gt.True(t, model.IsConfig(err))
}
