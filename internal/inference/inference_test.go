package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"

	"github.com/parseqri/parseqri/internal/config"
)

func TestRetryingRecoversFromTransientFailures(t *testing.T) {
	var calls atomic.Int32
	model := Func(func(context.Context, Prompt) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("connection reset by peer")
		}
		return "SELECT 1", nil
	})
	out, err := NewRetrying(model, RetryConfig{Attempts: 3, Delay: time.Millisecond}).Infer(context.Background(), Prompt{User: "q"})
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	if out != "SELECT 1" || calls.Load() != 3 {
		t.Fatalf("out=%q calls=%d", out, calls.Load())
	}
}

func TestRetryingGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	model := Func(func(context.Context, Prompt) (string, error) {
		calls.Add(1)
		return "   ", nil
	})
	_, err := NewRetrying(model, RetryConfig{Attempts: 2, Delay: time.Millisecond}).Infer(context.Background(), Prompt{User: "q"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("error = %v, want ErrEmptyResponse", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestRetryingDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	model := Func(func(context.Context, Prompt) (string, error) {
		calls.Add(1)
		return "", &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"}
	})
	_, err := NewRetrying(model, RetryConfig{Attempts: 4, Delay: time.Millisecond}).Infer(context.Background(), Prompt{User: "q"})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestRetryingRetriesRateLimitResponses(t *testing.T) {
	var calls atomic.Int32
	model := Func(func(context.Context, Prompt) (string, error) {
		if calls.Add(1) == 1 {
			return "", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}
		}
		return "ok", nil
	})
	if _, err := NewRetrying(model, RetryConfig{Attempts: 2, Delay: time.Millisecond}).Infer(context.Background(), Prompt{User: "q"}); err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
}

func TestRetryingRetriesAttemptTimeout(t *testing.T) {
	var calls atomic.Int32
	model := Func(func(ctx context.Context, _ Prompt) (string, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	})
	r := NewRetrying(model, RetryConfig{Attempts: 2, Delay: time.Millisecond, AttemptTimeout: 10 * time.Millisecond})
	out, err := r.Infer(context.Background(), Prompt{User: "q"})
	if err != nil || out != "ok" {
		t.Fatalf("Infer() = %q, %v", out, err)
	}
}

func TestRetryingStopsWhenCallerCancels(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	model := Func(func(context.Context, Prompt) (string, error) {
		calls.Add(1)
		cancel()
		return "", errors.New("boom")
	})
	_, err := NewRetrying(model, RetryConfig{Attempts: 5, Delay: time.Millisecond}).Infer(ctx, Prompt{User: "q"})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestNewRateLimitedPassthroughWhenDisabled(t *testing.T) {
	model := Func(func(context.Context, Prompt) (string, error) { return "x", nil })
	if _, ok := NewRateLimited(model, 0, 1).(Func); !ok {
		t.Fatal("expected unwrapped model when rate is zero")
	}
}

func TestRateLimitedHonorsContext(t *testing.T) {
	model := Func(func(context.Context, Prompt) (string, error) { return "x", nil })
	limited := NewRateLimited(model, 0.001, 1)
	if _, err := limited.Infer(context.Background(), Prompt{User: "q"}); err != nil {
		t.Fatalf("first Infer() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := limited.Infer(ctx, Prompt{User: "q"}); err == nil {
		t.Fatal("expected rate limit wait to fail within deadline")
	}
}

func TestOpenAIModelSendsChatCompletion(t *testing.T) {
	var gotAuth string
	var gotBody openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"SELECT 1"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	model, err := NewOpenAIModel(OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "k", Model: "gpt-test"})
	if err != nil {
		t.Fatalf("NewOpenAIModel() error = %v", err)
	}
	out, err := model.Infer(context.Background(), Prompt{System: "sys", User: "question"})
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	if out != "SELECT 1" {
		t.Fatalf("Infer() = %q", out)
	}
	if gotAuth != "Bearer k" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotBody.Model != "gpt-test" || len(gotBody.Messages) != 2 || gotBody.Messages[1].Content != "question" {
		t.Fatalf("request = %+v", gotBody)
	}
}

func TestOpenAIModelSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	model, err := NewOpenAIModel(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIModel() error = %v", err)
	}
	_, err = model.Infer(context.Background(), Prompt{User: "q"})
	if httpStatus(err) != http.StatusBadRequest {
		t.Fatalf("status = %d (%v)", httpStatus(err), err)
	}
}

func TestNewOpenAIModelRequiresKey(t *testing.T) {
	if _, err := NewOpenAIModel(OpenAIConfig{BaseURL: "http://localhost"}); err == nil {
		t.Fatal("expected error without api key")
	}
}

type fakeLLM struct {
	messages []llms.MessageContent
	reply    string
}

func (f *fakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	if f.reply == "" {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChainModelBuildsMessages(t *testing.T) {
	llm := &fakeLLM{reply: "yes"}
	out, err := NewLangChainModel(llm, 0).Infer(context.Background(), Prompt{System: "sys", User: "is this a chart?"})
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	if out != "yes" {
		t.Fatalf("Infer() = %q", out)
	}
	if len(llm.messages) != 2 || llm.messages[0].Role != llms.ChatMessageTypeSystem || llm.messages[1].Role != llms.ChatMessageTypeHuman {
		t.Fatalf("messages = %+v", llm.messages)
	}
}

func TestLangChainModelEmptyChoices(t *testing.T) {
	_, err := NewLangChainModel(&fakeLLM{}, 0).Infer(context.Background(), Prompt{User: "q"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("error = %v", err)
	}
}

func TestNewDisabled(t *testing.T) {
	if _, err := New(config.AIConfig{}, nil); !errors.Is(err, ErrDisabled) {
		t.Fatalf("error = %v", err)
	}
}

func TestNewOpenAIWrapsRetries(t *testing.T) {
	model, err := New(config.AIConfig{
		Enabled:       true,
		Provider:      config.ProviderOpenAI,
		BaseURL:       "http://127.0.0.1:1/v1",
		APIKey:        "k",
		Model:         "m",
		RetryAttempts: 2,
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := model.(*Retrying); !ok {
		t.Fatalf("model type = %T", model)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(config.AIConfig{Enabled: true, Provider: "watson"}, nil)
	if err == nil || !strings.Contains(err.Error(), "watson") {
		t.Fatalf("error = %v", err)
	}
}

func TestNewEmbedderRequiresModel(t *testing.T) {
	if _, err := NewEmbedder(EmbedderConfig{Provider: "ollama"}); err == nil {
		t.Fatal("expected error without model")
	}
	if _, err := NewEmbedder(EmbedderConfig{Provider: "watson", Model: "m"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
