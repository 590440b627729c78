// Package mcpserver registers MCP tools that expose the sync engine and
// the local checklist documents.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/alexjbarnes/checklist-sync/internal/checklist"
	"github.com/alexjbarnes/checklist-sync/internal/models"
)

// Syncer is the part of the sync engine the tools drive.
type Syncer interface {
	State() models.SyncState
	LastReport() (models.PassReport, bool)
	Synchronize(ctx context.Context) error
}

// Documents lists and reads local checklist documents.
type Documents interface {
	ListNames(ctx context.Context) ([]string, error)
	Get(ctx context.Context, name string) (*models.LocalRecord, error)
}

// RegisterTools adds all sync tools to the given MCP server.
func RegisterTools(server *mcp.Server, s Syncer, docs Documents, logger *slog.Logger) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_status",
		Description: "Report the current sync state (DISCONNECTED, NEEDS_SYNC, SYNCING, IN_SYNC, FAILED) and the outcome of the last pass.",
	}, statusHandler(s))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_now",
		Description: "Run a synchronization pass immediately and return the resulting state. Does nothing if a pass is already running.",
	}, syncNowHandler(s, logger))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "checklist_list",
		Description: "List every local checklist document with its modification time and group, checklist and item counts. No item content.",
	}, listHandler(docs))
}

// --- Input types ---

// StatusInput has no parameters.
type StatusInput struct{}

// SyncNowInput has no parameters.
type SyncNowInput struct{}

// ListInput has no parameters.
type ListInput struct{}

// --- Output types ---

// StatusResult is returned by sync_status and sync_now.
type StatusResult struct {
	State    string             `json:"state"`
	LastPass *models.PassReport `json:"last_pass,omitempty"`
}

// ChecklistEntry describes one local document. Error is set instead of
// the counts when the document cannot be parsed.
type ChecklistEntry struct {
	Name       string    `json:"name"`
	Modified   time.Time `json:"modified"`
	Groups     int       `json:"groups"`
	Checklists int       `json:"checklists"`
	Items      int       `json:"items"`
	Error      string    `json:"error,omitempty"`
}

// ListResult is returned by checklist_list.
type ListResult struct {
	Total      int              `json:"total"`
	Checklists []ChecklistEntry `json:"checklists"`
}

// --- Handlers ---

func statusHandler(s Syncer) mcp.ToolHandlerFor[StatusInput, *StatusResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *StatusResult, error) {
		result := status(s)
		return textResult(result), result, nil
	}
}

func syncNowHandler(s Syncer, logger *slog.Logger) mcp.ToolHandlerFor[SyncNowInput, *StatusResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ SyncNowInput) (*mcp.CallToolResult, *StatusResult, error) {
		logger.Info("sync requested over MCP")

		// A started pass runs to completion even if the caller goes away.
		if err := s.Synchronize(context.WithoutCancel(ctx)); err != nil {
			return nil, nil, fmt.Errorf("sync failed: %w", err)
		}

		result := status(s)

		return textResult(result), result, nil
	}
}

func listHandler(docs Documents) mcp.ToolHandlerFor[ListInput, *ListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ ListInput) (*mcp.CallToolResult, *ListResult, error) {
		names, err := docs.ListNames(ctx)
		if err != nil {
			return nil, nil, err
		}

		result := &ListResult{Checklists: make([]ChecklistEntry, 0, len(names))}

		for _, name := range names {
			rec, err := docs.Get(ctx, name)
			if err != nil {
				return nil, nil, err
			}

			// Removed between listing and reading.
			if rec == nil {
				continue
			}

			result.Checklists = append(result.Checklists, describe(rec))
		}

		result.Total = len(result.Checklists)

		return textResult(result), result, nil
	}
}

func status(s Syncer) *StatusResult {
	result := &StatusResult{State: s.State().String()}
	if report, ok := s.LastReport(); ok {
		result.LastPass = &report
	}

	return result
}

func describe(rec *models.LocalRecord) ChecklistEntry {
	entry := ChecklistEntry{Name: rec.Name, Modified: rec.ModifiedTime.UTC()}

	f, err := checklist.Unmarshal(rec.Contents)
	if err != nil {
		entry.Error = err.Error()
		return entry
	}

	sum := f.Summarize()
	entry.Groups = sum.Groups
	entry.Checklists = sum.Checklists
	entry.Items = sum.Items

	return entry
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
