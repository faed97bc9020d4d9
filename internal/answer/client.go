// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

// Package answer generates grounded answers over retrieved document chunks
// by calling an OpenAI-compatible chat-completions collaborator.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/dossier-dev/dossier/pkg/errors"
)

const answerTemperature = 0.7

const systemPrompt = `你是一个智能文档助手，负责分析用户的个人文档。
请使用以下上下文信息来回答用户的问题。
要求：
1. 必须使用中文回答。
2. 如果答案不在上下文中，请明确说明你不知道。
3. 结合对话历史来理解用户的意图（例如“他的”指代上文提到的人）。
`

const noContextReply = "我无法在提供的文档中找到任何相关信息。"

const noContextReplyPlain = "I couldn't find any relevant information in the provided documents."

// Context is one retrieved chunk handed to the model as grounding material.
type Context struct {
	Source string
	Text   string
}

// Message is one prior conversation turn.
type Message struct {
	Role    string // "user", "assistant", or "system"
	Content string
}

// EventType defines the type of answer stream event.
type EventType string

const (
	EventTypeDelta EventType = "delta"
	EventTypeDone  EventType = "done"
	EventTypeError EventType = "error"
)

// Event is one item on an answer stream. Delta events carry text; a stream
// ends with exactly one Done or Error event.
type Event struct {
	Type EventType
	Text string
	Err  error
}

// Config carries the collaborator endpoint settings.
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// Client talks to the answer-generation collaborator. Construct once per
// process and share across requests.
type Client struct {
	client openaisdk.Client
	model  string
}

func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New(errors.CodeConfigValidateInvalidValue, "answer endpoint is required")
	}
	if cfg.Model == "" {
		return nil, errors.New(errors.CodeConfigValidateInvalidValue, "answer model is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.Endpoint),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &Client{
		client: openaisdk.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

// Stream answers query grounded on contexts, emitting text deltas on the
// returned channel. The channel is closed after the terminal Done or Error
// event. With no contexts and no history it short-circuits with a canned
// reply instead of calling the collaborator.
func (c *Client) Stream(ctx context.Context, query string, contexts []Context, history []Message) (<-chan Event, error) {
	eventCh := make(chan Event, 16)

	if len(contexts) == 0 && len(history) == 0 {
		go func() {
			defer close(eventCh)
			eventCh <- Event{Type: EventTypeDelta, Text: noContextReply}
			eventCh <- Event{Type: EventTypeDone}
		}()
		return eventCh, nil
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    buildMessages(query, contexts, history),
		Temperature: param.NewOpt(answerTemperature),
	}

	go func() {
		defer close(eventCh)
		c.streamChat(ctx, params, eventCh)
	}()

	return eventCh, nil
}

// streamChat runs the streaming loop, converting SDK chunks into Event values.
func (c *Client) streamChat(ctx context.Context, params openaisdk.ChatCompletionNewParams, ch chan<- Event) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)

	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				ch <- Event{Type: EventTypeDelta, Text: choice.Delta.Content}
			}
		}
	}

	if err := stream.Err(); err != nil {
		ch <- Event{
			Type: EventTypeError,
			Err:  errors.Wrap(err, errors.CodeAnswerUpstreamFailure, "streaming answer"),
		}
		return
	}
	ch <- Event{Type: EventTypeDone}
}

// Answer is the non-streaming variant used by the CLI search path. The
// prompt is a single user message carrying the context and the question.
func (c *Client) Answer(ctx context.Context, query string, contexts []Context) (string, error) {
	if len(contexts) == 0 {
		return noContextReplyPlain, nil
	}

	blocks := make([]string, 0, len(contexts))
	for _, cc := range contexts {
		blocks = append(blocks, fmt.Sprintf("Source: %s\nContent: %s", cc.Source, cc.Text))
	}
	prompt := fmt.Sprintf(`You are a helpful assistant analyzing personal documents. Use the following context to answer the user's question.
If the answer is not in the context, say you don't know.

Context:
%s

Question: %s
Answer:`, strings.Join(blocks, "\n\n"), query)

	resp, err := c.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    []openaisdk.ChatCompletionMessageParamUnion{openaisdk.UserMessage(prompt)},
		Temperature: param.NewOpt(answerTemperature),
	})
	if err != nil {
		return "", errors.Wrap(err, errors.CodeAnswerUpstreamFailure, "generating answer")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New(errors.CodeAnswerUpstreamFailure, "collaborator returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// buildMessages assembles system prompt, prior turns, and the grounded query.
func buildMessages(query string, contexts []Context, history []Message) []openaisdk.ChatCompletionMessageParamUnion {
	msgs := []openaisdk.ChatCompletionMessageParamUnion{openaisdk.SystemMessage(systemPrompt)}

	for _, m := range history {
		switch m.Role {
		case "user":
			msgs = append(msgs, openaisdk.UserMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openaisdk.AssistantMessage(m.Content))
		case "system":
			msgs = append(msgs, openaisdk.SystemMessage(m.Content))
		default:
			slog.Warn("skipping history message with unknown role", "role", m.Role)
		}
	}

	blocks := make([]string, 0, len(contexts))
	for _, cc := range contexts {
		blocks = append(blocks, fmt.Sprintf("来源: %s\n内容: %s", cc.Source, cc.Text))
	}
	user := fmt.Sprintf("上下文信息:\n%s\n\n用户问题: %s\n回答:", strings.Join(blocks, "\n\n"), query)
	msgs = append(msgs, openaisdk.UserMessage(user))
	return msgs
}
