package openai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.AdaEmbeddingV2
	// DefaultEmbeddingDimensions is the expected dimension of embeddings from ada-002
	DefaultEmbeddingDimensions = 1536
	// DefaultChatModel is the model used for classification, reranking and answers
	DefaultChatModel = openai.GPT4oMini
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAPIKey is returned when OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
	// ErrNoCompletion is returned when the chat API returns no choices
	ErrNoCompletion = errors.New("no completion returned")
)

const classifierInstruction = `You are a Knowledge Curator. Classify the input into exactly one word: NOISE, DOCUMENT, BUG, IDEA, or FEEDBACK.
NOISE: casual chatter, greetings, short acks, scheduling, vague thoughts.
DOCUMENT: technical facts, specs, fixes, how-to guides.
BUG: bug reports with repro steps or errors.
IDEA: feature requests or product suggestions.
FEEDBACK: constructive user feedback.
Output ONLY the single label word.`

const pairScoreInstruction = `You score how relevant a document is to a query. Respond with a single number between -10 and 10, where 10 means the document directly answers the query and negative values mean it is unrelated. Output ONLY the number.`

// EmbeddingAPI defines the interface for embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, text string) ([]float32, error)
}

// ChatAPI defines the interface for chat completions
type ChatAPI interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// Client wraps the OpenAI API for embeddings and chat-based scoring
type Client struct {
	embeddings EmbeddingAPI
	chat       ChatAPI
	dimensions int
}

// APIAdapter adapts the go-openai client to the EmbeddingAPI and ChatAPI interfaces
type APIAdapter struct {
	client         *openai.Client
	embeddingModel openai.EmbeddingModel
	chatModel      string
}

func NewAPIAdapter(apiKey, embeddingModel, chatModel string) *APIAdapter {
	model := openai.EmbeddingModel(embeddingModel)
	if model == "" {
		model = DefaultEmbeddingModel
	}
	if chatModel == "" {
		chatModel = DefaultChatModel
	}
	return &APIAdapter{
		client:         openai.NewClient(apiKey),
		embeddingModel: model,
		chatModel:      chatModel,
	}
}

// CreateEmbeddings calls the OpenAI API to create embeddings
func (a *APIAdapter) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: a.embeddingModel,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	return resp.Data[0].Embedding, nil
}

// Complete runs a single-turn chat completion
func (a *APIAdapter) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     a.chatModel,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

type Config struct {
	APIKey              string
	EmbeddingModel      string
	ChatModel           string
	EmbeddingDimensions int
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	adapter := NewAPIAdapter(cfg.APIKey, cfg.EmbeddingModel, cfg.ChatModel)
	return &Client{
		embeddings: adapter,
		chat:       adapter,
		dimensions: dimensions,
	}
}

// NewClientFromEnv creates a new OpenAI client using OPENAI_API_KEY environment variable
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// GenerateEmbedding generates an embedding for the given text
func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	embedding, err := c.embeddings.CreateEmbeddings(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}

	if len(embedding) != c.dimensions {
		return nil, ErrWrongDimensions
	}

	return embedding, nil
}

// Classify asks the model for a worthiness label. The raw completion is
// returned untouched; callers parse it against the label vocabulary.
func (c *Client) Classify(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	return c.chat.Complete(ctx, classifierInstruction, text, 10)
}

// ScorePair scores a (query, document) pair for reranking.
func (c *Client) ScorePair(ctx context.Context, query, text string) (float64, error) {
	user := fmt.Sprintf("Query: %s\n\nDocument:\n%s", query, text)
	out, err := c.chat.Complete(ctx, pairScoreInstruction, user, 8)
	if err != nil {
		return 0, err
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable pair score %q: %w", out, err)
	}
	return score, nil
}

// GenerateAnswer produces a grounded answer from the retrieved contexts. With
// no contexts the model answers conversationally.
func (c *Client) GenerateAnswer(ctx context.Context, query string, contexts []string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", ErrEmptyText
	}

	var user string
	if len(contexts) > 0 {
		parts := make([]string, 0, len(contexts))
		for i, text := range contexts {
			if len(text) > 800 {
				text = text[:800]
			}
			parts = append(parts, fmt.Sprintf("[Document %d]\n%s", i+1, text))
		}
		user = fmt.Sprintf(
			"Use the documents below to answer the question. Synthesize them into a helpful, direct answer.\n\n---DOCUMENTS---\n%s\n---END DOCUMENTS---\n\nQuestion: %s",
			strings.Join(parts, "\n\n"), query,
		)
	} else {
		user = query
	}

	answer, err := c.chat.Complete(ctx, "You are a knowledgeable assistant. Answer clearly and concisely.", user, 1024)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}
