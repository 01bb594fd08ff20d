package biz

import (
	"log/slog"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
	"github.com/devricklin/feishu-console-bridge/internal/biz/repo"
	"github.com/devricklin/feishu-console-bridge/internal/biz/usecase"
)

// Usecases contains all usecases
type Usecases struct {
	Bot      *usecase.BotUsecase
	Rotation *usecase.RotationUsecase
	Buffer   *usecase.OutboundBuffer
}

// NewUsecases creates all usecases over the given repositories
func NewUsecases(
	chatRepo repo.ChatRepo,
	docRepo repo.DocumentRepo,
	ticketRepo repo.TicketRepo,
	mergeMode domain.MergeMode,
	bufferCfg usecase.BufferConfig,
	logger *slog.Logger,
) *Usecases {
	bot := usecase.NewBotUsecase(chatRepo, docRepo, mergeMode, logger)
	return &Usecases{
		Bot:      bot,
		Rotation: usecase.NewRotationUsecase(chatRepo, ticketRepo, bot, logger),
		Buffer:   usecase.NewOutboundBuffer(bufferCfg, logger),
	}
}
