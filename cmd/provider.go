package cmd

import (
	"github.com/longkey1/llmrelay/internal/anthropic"
	"github.com/longkey1/llmrelay/internal/chat"
	"github.com/longkey1/llmrelay/internal/config"
	"github.com/longkey1/llmrelay/internal/gemini"
	"github.com/longkey1/llmrelay/internal/openai"
)

// newRegistry registers one adapter per supported provider. Credentials are
// resolved per request, so a provider without a token still answers with an
// error event instead of being missing.
func newRegistry(cfg *config.Config) *chat.Registry {
	return chat.NewRegistry(
		openai.NewProvider(cfg),
		anthropic.NewProvider(cfg),
		gemini.NewProvider(cfg),
	)
}
