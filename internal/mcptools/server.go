// Package mcptools exposes the reminder store as MCP tools over stdio.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"reminder-engine/internal/clock"
	"reminder-engine/internal/reminder"
	"reminder-engine/internal/store"
)

const (
	serverName    = "reminder-engine"
	serverVersion = "1.0.0"
)

type Server struct {
	mcpServer *server.MCPServer
	store     *store.ReminderStore
	clock     clock.Clock
}

func NewServer(st *store.ReminderStore, clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.System{}
	}
	s := &Server{store: st, clock: clk}
	s.mcpServer = server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server for serving.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Serve speaks MCP over the given streams until ctx is cancelled or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("add_reminder",
			mcp.WithDescription("Add a new reminder with a title and a local due moment"),
			mcp.WithString("title", mcp.Required(), mcp.Description("Reminder title")),
			mcp.WithString("due_at", mcp.Required(), mcp.Description("Due moment as YYYY-MM-DD HH:MM, local time")),
		),
		s.handleAddReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_reminders",
			mcp.WithDescription("List active reminders ordered by due moment, optionally filtered by status"),
			mcp.WithString("status", mcp.Description("Filter: Pending, EarlyNotified or Notified; empty for all")),
		),
		s.handleListReminders,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_due_reminders",
			mcp.WithDescription("List active reminders whose due moment has passed"),
		),
		s.handleGetDueReminders,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("complete_reminder",
			mcp.WithDescription("Mark a reminder as completed and move it to the completed log"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleCompleteReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("delete_reminder",
			mcp.WithDescription("Delete a reminder permanently"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleDeleteReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("update_reminder",
			mcp.WithDescription("Update a reminder's title, comments or due moment"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
			mcp.WithString("title", mcp.Description("New title")),
			mcp.WithString("comments", mcp.Description("New comments")),
			mcp.WithString("due_at", mcp.Description("New due moment as YYYY-MM-DD HH:MM")),
		),
		s.handleUpdateReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("add_progress",
			mcp.WithDescription("Record a progress update (0-10) with an optional comment"),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
			mcp.WithNumber("progress", mcp.Required(), mcp.Description("Progress from 0 to 10")),
			mcp.WithString("comment", mcp.Description("Short comment")),
		),
		s.handleAddProgress,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_completed",
			mcp.WithDescription("List completed reminders in completion order"),
		),
		s.handleListCompleted,
	)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(output)), nil
}

func (s *Server) handleAddReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := req.GetString("title", "")
	dueAt := req.GetString("due_at", "")

	added, err := s.store.Create(ctx, title, dueAt)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add reminder: %v", err)), nil
	}
	if due, err := added.DueAt(); err == nil && due.Before(s.clock.Now()) {
		return mcp.NewToolResultText(fmt.Sprintf("Warning: %s is already past due.\n%s", added.Title, mustJSON(added))), nil
	}
	return jsonResult(added)
}

func (s *Server) handleListReminders(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := reminder.Status(req.GetString("status", ""))
	if status != "" && !status.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown status %q", status)), nil
	}

	var out []reminder.Reminder
	for _, r := range s.store.List() {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return mcp.NewToolResultText("No reminders found."), nil
	}
	return jsonResult(out)
}

func (s *Server) handleGetDueReminders(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	now := s.clock.Now()
	var out []reminder.Reminder
	for _, r := range s.store.List() {
		if reminder.Classify(r, now, 0) == reminder.StateOverdue {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return mcp.NewToolResultText("No due reminders."), nil
	}
	return jsonResult(out)
}

func (s *Server) handleCompleteReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	done, err := s.store.Complete(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to complete reminder: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Reminder %s (%s) marked as completed.", done.ID, done.Title)), nil
}

func (s *Server) handleDeleteReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if err := s.store.Delete(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete reminder: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Reminder %s deleted.", id)), nil
}

func (s *Server) handleUpdateReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	title := req.GetString("title", "")
	comments := req.GetString("comments", "")
	dueAt := req.GetString("due_at", "")

	var due time.Time
	if dueAt != "" {
		var err error
		if due, err = reminder.ParseDue(dueAt); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid due_at: %v", err)), nil
		}
	}

	updated, err := s.store.Update(ctx, id, func(r *reminder.Reminder) error {
		if title == "" && comments == "" && dueAt == "" {
			return store.ErrNoChange
		}
		if title != "" {
			r.Title = title
		}
		if comments != "" {
			r.Comments = comments
		}
		if dueAt != "" {
			r.SetDue(due)
		}
		return nil
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update reminder: %v", err)), nil
	}
	return jsonResult(updated)
}

func (s *Server) handleAddProgress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	progress := req.GetFloat("progress", -1)
	if progress != float64(int(progress)) {
		return mcp.NewToolResultError("progress must be a whole number"), nil
	}

	updated, err := s.store.AppendProgress(ctx, id, int(progress), req.GetString("comment", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add progress: %v", err)), nil
	}
	return jsonResult(updated)
}

func (s *Server) handleListCompleted(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	completed := s.store.Completed()
	if len(completed) == 0 {
		return mcp.NewToolResultText("No completed reminders."), nil
	}
	return jsonResult(completed)
}

func mustJSON(v any) string {
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}
