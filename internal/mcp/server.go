// Package mcp exposes operator tools for the bridge over the Model Context
// Protocol.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
	"github.com/devricklin/feishu-console-bridge/internal/biz/usecase"
	"github.com/devricklin/feishu-console-bridge/internal/errs"
	"github.com/devricklin/feishu-console-bridge/internal/service"
)

// DefaultListTicketLimit is used when console_list_rotations gets no limit
const DefaultListTicketLimit = 20

// Server provides operator tools for channel rotation, reload and status
type Server struct {
	server   *sdk.Server
	bot      *usecase.BotUsecase
	rotation *usecase.RotationUsecase
	relay    *service.RelayScheduler
	logger   *slog.Logger
}

// NewServer creates a new operator MCP server
func NewServer(
	bot *usecase.BotUsecase,
	rotation *usecase.RotationUsecase,
	relay *service.RelayScheduler,
	version string,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		server: sdk.NewServer(&sdk.Implementation{
			Name:    "console-bridge",
			Version: version,
		}, nil),
		bot:      bot,
		rotation: rotation,
		relay:    relay,
		logger:   logger.With("component", "mcp"),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "console_rotate_channel",
		Description: "Replace a console channel with a fresh copy to purge its history. The copy takes the old channel's members and its place in the configuration; the old channel is deleted.",
	}, s.handleRotateChannel)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "console_resume_rotation",
		Description: "Continue a failed channel rotation from the step that failed.",
	}, s.handleResumeRotation)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "console_reload",
		Description: "Re-read the bot configuration file. Reconnects to the chat platform only if the token changed.",
	}, s.handleReload)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "console_status",
		Description: "Show the console channels, the relay interval, the outbound queue and the configured permissions.",
	}, s.handleStatus)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "console_list_rotations",
		Description: "List recent channel rotations, newest first.",
	}, s.handleListRotations)
}

// Handler returns the streamable HTTP handler serving the tools
func (s *Server) Handler() http.Handler {
	return sdk.NewStreamableHTTPHandler(func(*http.Request) *sdk.Server {
		return s.server
	}, nil)
}

// Serve serves the tools over streamable HTTP on addr until ctx is done
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errs.Wrap(err, errs.CodeOperatorServeFailure, "serve operator tools", errs.Field("addr", addr))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errs.Wrap(err, errs.CodeOperatorServeFailure, "shut down operator tools")
	}
	return nil
}

// Run serves the tools over stdio
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &sdk.StdioTransport{})
}

// TicketView is the tool representation of a rotation ticket
type TicketView struct {
	ID           string `json:"id"`
	OldChannelID string `json:"old_channel_id"`
	NewChannelID string `json:"new_channel_id,omitempty"`
	Index        int    `json:"index"`
	State        string `json:"state"`
	FailedStep   string `json:"failed_step,omitempty"`
	Error        string `json:"error,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func ticketView(t *domain.RotationTicket) *TicketView {
	if t == nil {
		return nil
	}
	return &TicketView{
		ID:           t.ID,
		OldChannelID: t.OldChannelID,
		NewChannelID: t.NewChannelID,
		Index:        t.Index,
		State:        string(t.State),
		FailedStep:   string(t.FailedStep),
		Error:        t.Error,
		CreatedAt:    t.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    t.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// RotateChannelInput is the input for console_rotate_channel
type RotateChannelInput struct {
	ChannelID string `json:"channel_id" jsonschema:"The console channel (chat_id) to rotate"`
	Wait      bool   `json:"wait,omitempty" jsonschema:"Block until the rotation has finished or failed"`
}

// RotationOutput is the output of the rotation tools
type RotationOutput struct {
	Success bool        `json:"success"`
	Ticket  *TicketView `json:"ticket,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (s *Server) handleRotateChannel(ctx context.Context, _ *sdk.CallToolRequest, input RotateChannelInput) (*sdk.CallToolResult, RotationOutput, error) {
	if input.ChannelID == "" {
		return nil, RotationOutput{Error: "channel_id is required"}, nil
	}

	var (
		ticket *domain.RotationTicket
		err    error
	)
	if input.Wait {
		ticket, err = s.rotation.RotateAndWait(ctx, input.ChannelID)
	} else {
		ticket, err = s.rotation.Rotate(ctx, input.ChannelID, nil)
	}
	return nil, s.rotationOutput(ticket, err), nil
}

// ResumeRotationInput is the input for console_resume_rotation
type ResumeRotationInput struct {
	TicketID string `json:"ticket_id" jsonschema:"The id of the failed rotation ticket"`
	Wait     bool   `json:"wait,omitempty" jsonschema:"Block until the rotation has finished or failed"`
}

func (s *Server) handleResumeRotation(ctx context.Context, _ *sdk.CallToolRequest, input ResumeRotationInput) (*sdk.CallToolResult, RotationOutput, error) {
	if input.TicketID == "" {
		return nil, RotationOutput{Error: "ticket_id is required"}, nil
	}

	var (
		ticket *domain.RotationTicket
		err    error
	)
	if input.Wait {
		ticket, err = s.rotation.ResumeAndWait(ctx, input.TicketID)
	} else {
		ticket, err = s.rotation.Resume(ctx, input.TicketID, nil)
	}
	return nil, s.rotationOutput(ticket, err), nil
}

func (s *Server) rotationOutput(ticket *domain.RotationTicket, err error) RotationOutput {
	if err != nil {
		s.logger.Warn("Rotation request failed", "error", err)
		return RotationOutput{Ticket: ticketView(ticket), Error: err.Error()}
	}
	return RotationOutput{Success: true, Ticket: ticketView(ticket)}
}

// ReloadInput is empty - no input needed
type ReloadInput struct{}

// ReloadOutput is the output for console_reload
type ReloadOutput struct {
	Success  bool     `json:"success"`
	Status   *Status  `json:"status,omitempty"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (s *Server) handleReload(ctx context.Context, _ *sdk.CallToolRequest, _ ReloadInput) (*sdk.CallToolResult, ReloadOutput, error) {
	if err := s.bot.Reload(ctx); err != nil {
		s.logger.Warn("Reload failed", "error", err)
		return nil, ReloadOutput{Error: err.Error()}, nil
	}
	out := ReloadOutput{Success: true, Status: s.status()}
	if snap := s.bot.Snapshot(); snap != nil && snap.PresenceErr != nil {
		out.Warnings = append(out.Warnings, snap.PresenceErr.Error())
	}
	return nil, out, nil
}

// StatusInput is empty - no input needed
type StatusInput struct{}

// Status describes the running bridge
type Status struct {
	Loaded       bool     `json:"loaded"`
	Channels     []string `json:"channels"`
	PollInterval string   `json:"poll_interval"`
	Presence     string   `json:"presence,omitempty"`
	UseWhitelist bool     `json:"use_whitelist"`
	UseBlacklist bool     `json:"use_blacklist"`
	Users        int      `json:"users"`
	Pending      int      `json:"pending_lines"`
	Dropped      int      `json:"dropped_lines"`
}

func (s *Server) handleStatus(_ context.Context, _ *sdk.CallToolRequest, _ StatusInput) (*sdk.CallToolResult, Status, error) {
	return nil, *s.status(), nil
}

func (s *Server) status() *Status {
	stats := s.relay.Stats()
	st := &Status{
		Channels:     []string{},
		PollInterval: s.relay.Interval().String(),
		Pending:      stats.Pending,
		Dropped:      stats.Dropped,
	}
	snap := s.bot.Snapshot()
	if snap == nil {
		return st
	}
	st.Loaded = true
	st.Channels = snap.Channels.IDs()
	st.Presence = string(snap.Presence.Type) + " " + snap.Presence.Text
	st.UseWhitelist = snap.Policy.UsesWhitelist()
	st.UseBlacklist = snap.Policy.UsesBlacklist()
	st.Users = snap.Policy.UserCount()
	return st
}

// ListRotationsInput is the input for console_list_rotations
type ListRotationsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of tickets to return (default 20)"`
}

// ListRotationsOutput contains recent tickets
type ListRotationsOutput struct {
	Tickets []*TicketView `json:"tickets"`
	Error   string        `json:"error,omitempty"`
}

func (s *Server) handleListRotations(ctx context.Context, _ *sdk.CallToolRequest, input ListRotationsInput) (*sdk.CallToolResult, ListRotationsOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListTicketLimit
	}

	tickets, err := s.rotation.Tickets(ctx, limit)
	if err != nil {
		return nil, ListRotationsOutput{Error: err.Error()}, nil
	}

	out := ListRotationsOutput{Tickets: make([]*TicketView, 0, len(tickets))}
	for _, t := range tickets {
		out.Tickets = append(out.Tickets, ticketView(t))
	}
	return nil, out, nil
}
