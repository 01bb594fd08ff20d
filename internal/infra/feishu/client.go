package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
)

// Message represents a received Feishu message
type Message struct {
	ChatID     string
	MsgID      string
	MsgType    string // text, post
	Content    string // Plain text with the bot mention removed
	SenderID   string // open_id
	SenderType string // user, app
	CreateTime int64  // Milliseconds Unix timestamp from Feishu
}

// ChatMember represents a member in a chat
type ChatMember struct {
	MemberID   string `json:"member_id"`
	MemberType string `json:"member_type"`
	Name       string `json:"name"`
}

// ChatInfo holds the settings of a group chat that a copy inherits
type ChatInfo struct {
	ChatID              string `json:"chat_id"`
	Name                string `json:"name"`
	Description         string `json:"description"`
	ChatMode            string `json:"chat_mode"` // group, topic
	ChatType            string `json:"chat_type"` // private, public
	OwnerID             string `json:"owner_id"`
	AddMemberPermission string `json:"add_member_permission"`
	AtAllPermission     string `json:"at_all_permission"`
	EditPermission      string `json:"edit_permission"`
	ShareCardPermission string `json:"share_card_permission"`
	MembershipApproval  string `json:"membership_approval"`
	MemberCount         int    `json:"user_count"`
}

// MessageHandler is the callback for received messages
type MessageHandler func(msg *Message)

// maxMembersPerCall is the chat members API batch limit
const maxMembersPerCall = 50

// Client is the Feishu API client
type Client struct {
	creds   Credentials
	baseURL string
	logger  *slog.Logger

	larkCli *lark.Client
	wsCli   *larkws.Client
	ctx     context.Context
	cancel  context.CancelFunc

	mu        sync.RWMutex
	onMessage MessageHandler
	botOpenID string
	stopped   bool
}

// Option configures a Client
type Option func(*Client)

// WithDomain selects the open platform: "feishu", "lark" or a base URL.
func WithDomain(domain string) Option {
	return func(c *Client) {
		switch strings.ToLower(domain) {
		case "", "feishu":
			c.baseURL = lark.FeishuBaseUrl
		case "lark", "larksuite":
			c.baseURL = lark.LarkBaseUrl
		default:
			c.baseURL = strings.TrimRight(domain, "/")
		}
	}
}

// WithLogger sets the logger used by the client and the SDK
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a new Feishu client
func NewClient(creds Credentials, opts ...Option) *Client {
	c := &Client{
		creds:   creds,
		baseURL: lark.FeishuBaseUrl,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "feishu")
	return c
}

// OnMessage sets the message handler
func (c *Client) OnMessage(handler MessageHandler) {
	c.mu.Lock()
	c.onMessage = handler
	c.mu.Unlock()
}

// BotOpenID returns the bot's own open_id, known after Start
func (c *Client) BotOpenID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.botOpenID
}

// Start checks the credentials and starts receiving events over WebSocket.
// It returns once the bot identity is known; the WebSocket runs in the
// background until Stop.
func (c *Client) Start(ctx context.Context) error {
	sdkLog := newSDKLogger(c.logger)
	level := sdkLogLevel(c.logger)

	c.larkCli = lark.NewClient(c.creds.AppID, c.creds.AppSecret,
		lark.WithOpenBaseUrl(c.baseURL),
		lark.WithLogger(sdkLog),
		lark.WithLogLevel(level),
	)

	if err := c.fetchBotOpenID(ctx); err != nil {
		return fmt.Errorf("verify credentials for %s: %w", c.creds, err)
	}

	// Handlers must return quickly so the SDK can ACK, otherwise Feishu redelivers
	eventHandler := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(func(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
			go c.handleMessage(event)
			return nil
		})

	c.wsCli = larkws.NewClient(c.creds.AppID, c.creds.AppSecret,
		larkws.WithEventHandler(eventHandler),
		larkws.WithDomain(c.baseURL),
		larkws.WithLogger(sdkLog),
		larkws.WithLogLevel(level),
	)

	c.ctx, c.cancel = context.WithCancel(context.Background())
	go func() {
		c.logger.Info("Starting WebSocket connection")
		if err := c.wsCli.Start(c.ctx); err != nil && c.ctx.Err() == nil {
			c.logger.Error("WebSocket stopped", "error", err)
		}
	}()
	return nil
}

// Stop disconnects from Feishu. Events still delivered by the SDK afterwards
// are dropped.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.onMessage = nil
	c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// fetchBotOpenID fetches the bot's own open_id
func (c *Client) fetchBotOpenID(ctx context.Context) error {
	resp, err := c.larkCli.Get(ctx, "/open-apis/bot/v3/info", nil, larkcore.AccessTokenTypeTenant)
	if err != nil {
		return fmt.Errorf("get bot info: %w", err)
	}

	var botResult struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Bot  struct {
			OpenID  string `json:"open_id"`
			AppName string `json:"app_name"`
		} `json:"bot"`
	}
	if err := json.Unmarshal(resp.RawBody, &botResult); err != nil {
		return fmt.Errorf("decode bot info: %w", err)
	}
	if botResult.Code != 0 {
		return fmt.Errorf("API error: %s", botResult.Msg)
	}

	c.mu.Lock()
	c.botOpenID = botResult.Bot.OpenID
	c.mu.Unlock()
	c.logger.Info("Bot identity", "open_id", botResult.Bot.OpenID, "name", botResult.Bot.AppName)
	return nil
}

// handleMessage processes incoming Feishu messages
func (c *Client) handleMessage(event *larkim.P2MessageReceiveV1) {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return
	}
	rawMsg := event.Event.Message

	c.mu.RLock()
	handler, stopped, botOpenID := c.onMessage, c.stopped, c.botOpenID
	c.mu.RUnlock()
	if stopped || handler == nil {
		return
	}

	msg := &Message{
		ChatID:  deref(rawMsg.ChatId),
		MsgID:   deref(rawMsg.MessageId),
		MsgType: deref(rawMsg.MessageType),
	}
	if ts, err := strconv.ParseInt(deref(rawMsg.CreateTime), 10, 64); err == nil {
		msg.CreateTime = ts
	}
	if sender := event.Event.Sender; sender != nil {
		msg.SenderType = deref(sender.SenderType)
		if sender.SenderId != nil {
			msg.SenderID = deref(sender.SenderId.OpenId)
		}
	}

	// @_user_N placeholders: the bot's own mention is dropped, others become @Name
	mentionMap := make(map[string]string)
	for _, mention := range rawMsg.Mentions {
		if mention == nil || mention.Key == nil {
			continue
		}
		if mention.Id != nil && deref(mention.Id.OpenId) == botOpenID && botOpenID != "" {
			mentionMap[*mention.Key] = ""
			continue
		}
		mentionMap[*mention.Key] = "@" + deref(mention.Name)
	}

	content := deref(rawMsg.Content)
	switch msg.MsgType {
	case "text":
		msg.Content = parseTextContent(content, mentionMap)
	case "post":
		msg.Content = parsePostContent(content, mentionMap)
	default:
		c.logger.Debug("Unsupported message type", "type", msg.MsgType, "chat_id", msg.ChatID)
		return
	}
	msg.Content = strings.TrimSpace(msg.Content)

	c.logger.Debug("Received message", "chat_id", msg.ChatID, "sender_id", msg.SenderID, "type", msg.MsgType)
	handler(msg)
}

// parseTextContent extracts text from a text message
func parseTextContent(content string, mentionMap map[string]string) string {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}
	return replaceMentions(parsed.Text, mentionMap)
}

// parsePostContent extracts the text of a rich text message, one line per paragraph
func parsePostContent(content string, mentionMap map[string]string) string {
	var parsed struct {
		Title   string `json:"title"`
		Content [][]struct {
			Tag    string `json:"tag"`
			Text   string `json:"text,omitempty"`
			UserID string `json:"user_id,omitempty"`
		} `json:"content"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}

	var lines []string
	if parsed.Title != "" {
		lines = append(lines, parsed.Title)
	}
	for _, paragraph := range parsed.Content {
		var sb strings.Builder
		for _, elem := range paragraph {
			switch elem.Tag {
			case "text":
				sb.WriteString(elem.Text)
			case "at":
				if name, ok := mentionMap[elem.UserID]; ok {
					sb.WriteString(name)
				}
			}
		}
		if sb.Len() > 0 {
			lines = append(lines, sb.String())
		}
	}
	return replaceMentions(strings.Join(lines, "\n"), mentionMap)
}

// replaceMentions substitutes mention placeholders (@_user_1, ...)
func replaceMentions(text string, mentionMap map[string]string) string {
	for key, repl := range mentionMap {
		text = strings.ReplaceAll(text, key, repl)
	}
	return text
}

// SendText sends a text message to a chat
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	contentJSON, _ := json.Marshal(map[string]string{"text": text})

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(contentJSON)).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("send message failed: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("send message error: %s", resp.Msg)
	}
	return nil
}

// GetChatInfo retrieves information about a chat
func (c *Client) GetChatInfo(ctx context.Context, chatID string) (*ChatInfo, error) {
	req := larkim.NewGetChatReqBuilder().
		ChatId(chatID).
		UserIdType("open_id").
		Build()

	resp, err := c.larkCli.Im.Chat.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get chat info failed: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("get chat info error: %s", resp.Msg)
	}

	d := resp.Data
	info := &ChatInfo{
		ChatID:              chatID,
		Name:                deref(d.Name),
		Description:         deref(d.Description),
		ChatMode:            deref(d.ChatMode),
		ChatType:            deref(d.ChatType),
		OwnerID:             deref(d.OwnerId),
		AddMemberPermission: deref(d.AddMemberPermission),
		AtAllPermission:     deref(d.AtAllPermission),
		EditPermission:      deref(d.EditPermission),
		ShareCardPermission: deref(d.ShareCardPermission),
		MembershipApproval:  deref(d.MembershipApproval),
	}
	if n, err := strconv.Atoi(deref(d.UserCount)); err == nil {
		info.MemberCount = n
	}
	return info, nil
}

// CreateChat creates a group chat with the settings in info and returns its chat_id.
// The create API does not take the member, @all and share permissions; see
// UpdateChatPermissions.
func (c *Client) CreateChat(ctx context.Context, info *ChatInfo) (string, error) {
	body := larkim.NewCreateChatReqBodyBuilder().
		Name(info.Name).
		Description(info.Description)
	if info.OwnerID != "" {
		body = body.OwnerId(info.OwnerID)
	}
	if info.ChatMode != "" {
		body = body.ChatMode(info.ChatMode)
	}
	if info.ChatType != "" {
		body = body.ChatType(info.ChatType)
	}
	if info.EditPermission != "" {
		body = body.EditPermission(info.EditPermission)
	}
	if info.MembershipApproval != "" {
		body = body.MembershipApproval(info.MembershipApproval)
	}

	req := larkim.NewCreateChatReqBuilder().
		UserIdType("open_id").
		Body(body.Build()).
		Build()

	resp, err := c.larkCli.Im.Chat.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create chat failed: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("create chat error: %s", resp.Msg)
	}
	if resp.Data == nil || resp.Data.ChatId == nil {
		return "", fmt.Errorf("create chat error: no chat_id in response")
	}

	c.logger.Info("Chat created", "chat_id", *resp.Data.ChatId, "name", info.Name)
	return *resp.Data.ChatId, nil
}

// UpdateChatPermissions applies the add-member, @all and share-card
// permissions of info to chatID. Empty values are left as they are.
func (c *Client) UpdateChatPermissions(ctx context.Context, chatID string, info *ChatInfo) error {
	body, ok := permissionUpdate(info)
	if !ok {
		return nil
	}

	req := larkim.NewUpdateChatReqBuilder().
		ChatId(chatID).
		UserIdType("open_id").
		Body(body).
		Build()

	resp, err := c.larkCli.Im.Chat.Update(ctx, req)
	if err != nil {
		return fmt.Errorf("update chat permissions failed: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("update chat permissions error: %s", resp.Msg)
	}
	return nil
}

// permissionUpdate builds the update body for the permissions that only the
// update API accepts. ok is false when info carries none of them.
func permissionUpdate(info *ChatInfo) (*larkim.UpdateChatReqBody, bool) {
	if info == nil {
		return nil, false
	}
	body := larkim.NewUpdateChatReqBodyBuilder()
	ok := false
	if info.AddMemberPermission != "" {
		body = body.AddMemberPermission(info.AddMemberPermission)
		ok = true
	}
	if info.AtAllPermission != "" {
		body = body.AtAllPermission(info.AtAllPermission)
		ok = true
	}
	if info.ShareCardPermission != "" {
		body = body.ShareCardPermission(info.ShareCardPermission)
		ok = true
	}
	return body.Build(), ok
}

// GetChatMembers retrieves members of a chat (group)
// Uses pagination to get all members
func (c *Client) GetChatMembers(ctx context.Context, chatID string) ([]*ChatMember, error) {
	var members []*ChatMember
	var pageToken string

	for {
		reqBuilder := larkim.NewGetChatMembersReqBuilder().
			MemberIdType("open_id").
			ChatId(chatID).
			PageSize(100)
		if pageToken != "" {
			reqBuilder = reqBuilder.PageToken(pageToken)
		}

		resp, err := c.larkCli.Im.ChatMembers.Get(ctx, reqBuilder.Build())
		if err != nil {
			return nil, fmt.Errorf("get chat members failed: %w", err)
		}
		if !resp.Success() {
			return nil, fmt.Errorf("get chat members error: %s", resp.Msg)
		}

		for _, item := range resp.Data.Items {
			members = append(members, &ChatMember{
				MemberID:   deref(item.MemberId),
				MemberType: deref(item.MemberIdType),
				Name:       deref(item.Name),
			})
		}

		if resp.Data.HasMore == nil || !*resp.Data.HasMore || deref(resp.Data.PageToken) == "" {
			break
		}
		pageToken = *resp.Data.PageToken
	}
	return members, nil
}

// AddChatMembers adds users (open_id) to a chat
func (c *Client) AddChatMembers(ctx context.Context, chatID string, memberIDs []string) error {
	for start := 0; start < len(memberIDs); start += maxMembersPerCall {
		batch := memberIDs[start:min(start+maxMembersPerCall, len(memberIDs))]

		req := larkim.NewCreateChatMembersReqBuilder().
			ChatId(chatID).
			MemberIdType("open_id").
			Body(larkim.NewCreateChatMembersReqBodyBuilder().
				IdList(batch).
				Build()).
			Build()

		resp, err := c.larkCli.Im.ChatMembers.Create(ctx, req)
		if err != nil {
			return fmt.Errorf("add chat members failed: %w", err)
		}
		if !resp.Success() {
			return fmt.Errorf("add chat members error: %s", resp.Msg)
		}
		if resp.Data != nil && len(resp.Data.InvalidIdList) > 0 {
			c.logger.Warn("Some members could not be added", "chat_id", chatID, "invalid", resp.Data.InvalidIdList)
		}
	}
	return nil
}

// DeleteChat disbands a chat
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	req := larkim.NewDeleteChatReqBuilder().
		ChatId(chatID).
		Build()

	resp, err := c.larkCli.Im.Chat.Delete(ctx, req)
	if err != nil {
		return fmt.Errorf("delete chat failed: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("delete chat error: %s", resp.Msg)
	}

	c.logger.Info("Chat deleted", "chat_id", chatID)
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
