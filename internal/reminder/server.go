package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName    = "reminder"
	serverVersion = "2.0.0"
)

// Server is the MCP server for reminder management.
type Server struct {
	mcpServer *server.MCPServer
	store     *Store
	now       func() time.Time
}

// NewServer creates a new Reminder MCP server backed by the given store.
func NewServer(store *Store) *Server {
	s := &Server{
		store: store,
		now:   time.Now,
	}

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

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("list_reminders",
			mcp.WithDescription("List a user's reminders, optionally filtered by status (pending, sent, acknowledged, cancelled)"),
			mcp.WithString("phone", mcp.Required(), mcp.Description("User phone number")),
			mcp.WithString("status", mcp.Description("Filter by status, or empty for all")),
		),
		s.handleListReminders,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_due_reminders",
			mcp.WithDescription("Get all pending reminders that are due now or overdue"),
		),
		s.handleGetDueReminders,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("acknowledge_reminder",
			mcp.WithDescription("Mark a reminder as acknowledged by the user"),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleStatusChange(StatusAcknowledged),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("cancel_reminder",
			mcp.WithDescription("Cancel a reminder; it will not be delivered"),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleStatusChange(StatusCancelled),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("snooze_reminder",
			mcp.WithDescription("Push a pending reminder forward by a number of minutes from now"),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Reminder ID")),
			mcp.WithNumber("minutes", mcp.Description("Minutes to snooze (default 30)")),
		),
		s.handleSnoozeReminder,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("delete_reminder",
			mcp.WithDescription("Delete a reminder permanently"),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleDeleteReminder,
	)
}

func (s *Server) handleListReminders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	phone := req.GetString("phone", "")
	if phone == "" {
		return mcp.NewToolResultError("phone is required"), nil
	}

	var statuses []string
	if status := req.GetString("status", ""); status != "" {
		statuses = append(statuses, status)
	}

	reminders, err := s.store.ListByUser(ctx, phone, statuses...)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reminders: %v", err)), nil
	}

	if len(reminders) == 0 {
		return mcp.NewToolResultText("No reminders found."), nil
	}

	output, _ := json.MarshalIndent(reminders, "", "  ")
	return mcp.NewToolResultText(string(output)), nil
}

func (s *Server) handleGetDueReminders(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reminders, err := s.store.GetDue(ctx, s.now(), 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get due reminders: %v", err)), nil
	}

	if len(reminders) == 0 {
		return mcp.NewToolResultText("No due reminders."), nil
	}

	output, _ := json.MarshalIndent(reminders, "", "  ")
	return mcp.NewToolResultText(string(output)), nil
}

func (s *Server) handleStatusChange(status string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, ok := requireID(req)
		if !ok {
			return mcp.NewToolResultError("id is required and must be a positive number"), nil
		}

		if err := s.store.UpdateStatus(ctx, id, status); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to mark reminder %s: %v", status, err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Reminder %d marked as %s.", id, status)), nil
	}
}

func (s *Server) handleSnoozeReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := requireID(req)
	if !ok {
		return mcp.NewToolResultError("id is required and must be a positive number"), nil
	}
	minutes := int(req.GetFloat("minutes", 30))
	if minutes <= 0 {
		return mcp.NewToolResultError("minutes must be positive"), nil
	}

	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get reminder: %v", err)), nil
	}
	if current.Status != StatusPending {
		return mcp.NewToolResultError(fmt.Sprintf("reminder %d is %s, only pending reminders can be snoozed", id, current.Status)), nil
	}

	due := s.now().Add(time.Duration(minutes) * time.Minute)
	updated, err := s.store.Update(ctx, id, UpdateFields{ScheduledFor: &due})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to snooze reminder: %v", err)), nil
	}

	output, _ := json.MarshalIndent(updated, "", "  ")
	return mcp.NewToolResultText(string(output)), nil
}

func (s *Server) handleDeleteReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := requireID(req)
	if !ok {
		return mcp.NewToolResultError("id is required and must be a positive number"), nil
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete reminder: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Reminder %d deleted.", id)), nil
}

func requireID(req mcp.CallToolRequest) (int64, bool) {
	idFloat := req.GetFloat("id", -1)
	if idFloat <= 0 {
		return 0, false
	}
	return int64(idFloat), true
}
