package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Thin collaborator endpoints. These are glue over the platform's CRUD
// API and carry none of the streaming protocol's reconciliation logic.

type ChatSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ChatDetail struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Messages []ChatMessage `json:"messages"`
}

type ChatMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Agent struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

type Provider struct {
	Name   string   `json:"name"`
	Models []string `json:"models"`
}

type MCPServer struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Enabled bool     `json:"enabled"`
	Tools   []string `json:"tools,omitempty"`
}

func (c *Client) ListChats(ctx context.Context, limit int) ([]ChatSummary, error) {
	path := "/api/chats"
	if limit > 0 {
		path += "?limit=" + url.QueryEscape(fmt.Sprint(limit))
	}
	var out []ChatSummary
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetChat(ctx context.Context, chatID string) (ChatDetail, error) {
	var out ChatDetail
	if err := c.doJSON(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(chatID), nil, &out); err != nil {
		return ChatDetail{}, err
	}
	return out, nil
}

func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/chats/"+url.PathEscape(chatID), nil, nil)
}

// TruncateChat drops every message after messageID, server side.
func (c *Client) TruncateChat(ctx context.Context, chatID, messageID string) error {
	body := map[string]string{"message_id": messageID}
	return c.doJSON(ctx, http.MethodPost, "/api/chats/"+url.PathEscape(chatID)+"/truncate", body, nil)
}

func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var out []Agent
	if err := c.doJSON(ctx, http.MethodGet, "/api/agents", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListProviders(ctx context.Context) ([]Provider, error) {
	var out []Provider
	if err := c.doJSON(ctx, http.MethodGet, "/api/providers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListMCPServers(ctx context.Context) ([]MCPServer, error) {
	var out []MCPServer
	if err := c.doJSON(ctx, http.MethodGet, "/api/mcp/servers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ToggleMCPServer(ctx context.Context, serverID string, enabled bool) error {
	body := map[string]bool{"enabled": enabled}
	return c.doJSON(ctx, http.MethodPost, "/api/mcp/servers/"+url.PathEscape(serverID)+"/toggle", body, nil)
}
