package tg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pvzzle/mempoolwatch/internal/bus"
	"github.com/pvzzle/mempoolwatch/internal/ethrpc"
	"github.com/pvzzle/mempoolwatch/internal/ethwatch"
	"github.com/pvzzle/mempoolwatch/internal/mempool"
	"github.com/pvzzle/mempoolwatch/internal/storage"
	"github.com/pvzzle/mempoolwatch/internal/subs"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

const (
	cbWatch       = "watch"
	cbWatchLarge  = "watch_large"
	cbFollowBots  = "follow_bots"
	cbLookup      = "lookup"
	cbMyList      = "my_list"
	cbUnwatchAll  = "unwatch_all"
	cbUnwatchBig  = "unwatch_large"
	cbUnwatchAddr = "unwatch:"
	cbGas         = "gas"
	cbStatus      = "status"
	cbHistory     = "history"
	cbBackToMain  = "back_main"
)

// Monitor is the part of the mempool monitor the bot reports on.
type Monitor interface {
	Status() mempool.Status
	GasEstimate(ctx context.Context) mempool.GasEstimate
}

// Connector hands out a live RPC client for transaction lookups.
type Connector interface {
	EnsureConnected(ctx context.Context) (ethrpc.Client, error)
}

type Service struct {
	bot   *tgbot.Bot
	mon   Monitor
	conns Connector

	subStore *subs.Store
	notifyCh <-chan bus.Notification

	state *StateStore

	repo storage.Repository // nil when storage is disabled
	log  *zap.Logger
	now  func() time.Time
}

func NewService(
	b *tgbot.Bot,
	mon Monitor,
	conns Connector,
	subStore *subs.Store,
	notifyCh <-chan bus.Notification,
	repo storage.Repository,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		bot:      b,
		mon:      mon,
		conns:    conns,
		subStore: subStore,
		notifyCh: notifyCh,
		state:    NewStateStore(),
		repo:     repo,
		log:      log.Named("tg"),
		now:      time.Now,
	}
	s.registerHandlers()
	return s
}

func (s *Service) registerHandlers() {
	s.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, s.onStart)

	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbWatch, tgbot.MatchTypeExact, s.onCbWatch)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbWatchLarge, tgbot.MatchTypeExact, s.onCbWatchLarge)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbFollowBots, tgbot.MatchTypeExact, s.onCbFollowBots)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbLookup, tgbot.MatchTypeExact, s.onCbLookup)

	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbMyList, tgbot.MatchTypeExact, s.onCbMyList)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbUnwatchAll, tgbot.MatchTypeExact, s.onCbUnwatchAll)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbUnwatchBig, tgbot.MatchTypeExact, s.onCbUnwatchLarge)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbUnwatchAddr, tgbot.MatchTypePrefix, s.onCbUnwatchAddr)

	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbGas, tgbot.MatchTypeExact, s.onCbGas)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbStatus, tgbot.MatchTypeExact, s.onCbStatus)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbHistory, tgbot.MatchTypeExact, s.onCbHistory)
	s.bot.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, cbBackToMain, tgbot.MatchTypeExact, s.onCbBackToMain)

	s.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "", tgbot.MatchTypePrefix, s.onAnyText)
}

// StartNotifyLoop forwards dispatcher notifications to Telegram until ctx is done.
func (s *Service) StartNotifyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.notifyCh:
			_, err := s.bot.SendMessage(ctx, &tgbot.SendMessageParams{
				ChatID: n.ChatID,
				Text:   n.Text,
			})
			if err != nil {
				s.log.Warn("send notification failed", zap.Int64("chat_id", n.ChatID), zap.Error(err))
			}
		}
	}
}

func mainMenu() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "Watch address", CallbackData: cbWatch},
				{Text: "Large transfers", CallbackData: cbWatchLarge},
			},
			{
				{Text: "Follow MEV bots", CallbackData: cbFollowBots},
				{Text: "Lookup tx", CallbackData: cbLookup},
			},
			{
				{Text: "My watchlist", CallbackData: cbMyList},
				{Text: "History", CallbackData: cbHistory},
			},
			{
				{Text: "Gas", CallbackData: cbGas},
				{Text: "Status", CallbackData: cbStatus},
			},
		},
	}
}

func backMenu() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "Back", CallbackData: cbBackToMain}},
		},
	}
}

func (s *Service) send(ctx context.Context, b *tgbot.Bot, chatID int64, text string, markup models.ReplyMarkup) {
	params := &tgbot.SendMessageParams{ChatID: chatID, Text: text}
	if markup != nil {
		params.ReplyMarkup = markup
	}
	if _, err := b.SendMessage(ctx, params); err != nil {
		s.log.Debug("send message failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// callbackChat acknowledges the callback and returns the chat it came from.
func (s *Service) callbackChat(ctx context.Context, b *tgbot.Bot, upd *models.Update) (int64, bool) {
	cb := upd.CallbackQuery
	if cb == nil || cb.Message.Type == models.MaybeInaccessibleMessageTypeInaccessibleMessage || cb.Message.Message == nil {
		return 0, false
	}
	_ = s.answerCallback(ctx, b, cb.ID)
	return cb.Message.Message.Chat.ID, true
}

func (s *Service) answerCallback(ctx context.Context, b *tgbot.Bot, callbackID string) error {
	_, err := b.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
	})
	return err
}

func (s *Service) onStart(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil {
		return
	}
	chatID := upd.Message.Chat.ID
	s.state.Set(chatID, StateIdle)

	s.send(ctx, b, chatID, "Hi! I watch the Ethereum mempool for you.\n\nPick an action:", mainMenu())
}

func (s *Service) onCbBackToMain(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateIdle)
	s.send(ctx, b, chatID, "Main menu:", mainMenu())
}

func (s *Service) onCbWatch(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateAwaitWalletAddress)
	s.send(ctx, b, chatID, "Send the address to watch (0x...):", nil)
}

func (s *Service) onCbWatchLarge(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateAwaitLargeAmountEth)
	s.send(ctx, b, chatID, "Send the minimum value in ETH (> 0), e.g. 1.5", nil)
}

func (s *Service) onCbLookup(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateAwaitTxHash)
	s.send(ctx, b, chatID, "Send the transaction hash (0x...):", nil)
}

func (s *Service) onCbFollowBots(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.toggleFollowBots(ctx, b, chatID)
}

func (s *Service) toggleFollowBots(ctx context.Context, b *tgbot.Bot, chatID int64) {
	u, _ := s.subStore.GetCopy(chatID)
	follow := !u.FollowBots
	s.subStore.SetFollowBots(chatID, follow)

	if !follow {
		s.send(ctx, b, chatID, "✅ Stopped following tracked MEV bots.", backMenu())
		return
	}

	lines := []string{"✅ Following tracked MEV bots:"}
	for _, a := range s.subStore.Bots() {
		lines = append(lines, "— "+a.Hex())
	}
	s.send(ctx, b, chatID, strings.Join(lines, "\n"), backMenu())
}

func (s *Service) onAnyText(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	if upd.Message == nil {
		return
	}
	chatID := upd.Message.Chat.ID
	text := strings.TrimSpace(upd.Message.Text)

	if strings.HasPrefix(text, "/") {
		return
	}

	switch s.state.Get(chatID) {
	case StateAwaitTxHash:
		s.state.Set(chatID, StateIdle)
		s.handleLookup(ctx, b, chatID, text)

	case StateAwaitLargeAmountEth:
		s.handleSetLarge(ctx, b, chatID, text)

	case StateAwaitWalletAddress:
		s.handleAddWallet(ctx, b, chatID, text)

	default:
		s.send(ctx, b, chatID, "Use /start to open the menu.", nil)
	}
}

func (s *Service) handleLookup(ctx context.Context, b *tgbot.Bot, chatID int64, hashStr string) {
	h, ok := ParseTxHash(hashStr)
	if !ok {
		s.send(ctx, b, chatID, "That does not look like a transaction hash. Expected 0x + 64 hex chars.", backMenu())
		return
	}

	cl, err := s.conns.EnsureConnected(ctx)
	if err != nil {
		s.send(ctx, b, chatID, "No RPC endpoint is reachable right now, try again later.", backMenu())
		return
	}

	raw, err := cl.TransactionByHash(ctx, h)
	if errors.Is(err, ethrpc.ErrNotFound) {
		s.send(ctx, b, chatID, "Transaction not found.", backMenu())
		return
	}
	if errors.Is(err, ethrpc.ErrUndecodable) {
		s.log.Warn("lookup tx not decodable", zap.Stringer("hash", h), zap.Error(err))
		s.send(ctx, b, chatID, "The node returned a transaction this bot cannot decode.", backMenu())
		return
	}
	if err != nil {
		s.send(ctx, b, chatID, fmt.Sprintf("Lookup failed: %v", err), backMenu())
		return
	}

	tx := mempool.Normalize(h, raw, s.now())
	tracked := s.subStore.IsBot(raw.From)
	if to := raw.Tx.To(); to != nil && s.subStore.IsBot(*to) {
		tracked = true
	}

	if s.repo != nil {
		if err := s.repo.UpsertTx(ctx, ethwatch.ToRecord(tx, tracked)); err != nil {
			s.log.Warn("db upsert lookup tx failed", zap.String("hash", tx.Hash), zap.Error(err))
		}
		if err := s.repo.AddChatEvent(ctx, chatID, tx.Hash, storage.EventLookup); err != nil {
			s.log.Debug("db add chat event failed", zap.Int64("chat_id", chatID), zap.String("hash", tx.Hash), zap.Error(err))
		}
	}

	s.send(ctx, b, chatID, ethwatch.FormatTx("🔎 Transaction found", tx, tracked), backMenu())
}

func (s *Service) handleSetLarge(ctx context.Context, b *tgbot.Bot, chatID int64, amountStr string) {
	minWei, err := ParseEthToWei(amountStr)
	if err != nil {
		s.send(ctx, b, chatID, "Need a number > 0 (e.g. 0.5 or 10). Try again.", nil)
		return
	}

	s.subStore.SetLargeTxMin(chatID, minWei)
	s.state.Set(chatID, StateIdle)

	s.send(ctx, b, chatID,
		fmt.Sprintf("✅ OK! I will notify you about transactions with value >= %s ETH.", mempool.FormatEther(minWei)),
		backMenu())
}

func (s *Service) handleAddWallet(ctx context.Context, b *tgbot.Bot, chatID int64, addrStr string) {
	addr, ok := ParseAddress(addrStr)
	if !ok {
		s.send(ctx, b, chatID, "That does not look like an address. Expected 0x + 40 hex chars.", nil)
		return
	}

	s.subStore.AddWallet(chatID, addr)
	s.state.Set(chatID, StateIdle)

	s.send(ctx, b, chatID,
		fmt.Sprintf("✅ OK! I will notify you about pending transactions involving %s.", addr.Hex()),
		backMenu())
}

func (s *Service) onCbMyList(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.state.Set(chatID, StateIdle)
	s.sendWatchlist(ctx, b, chatID)
}

func (s *Service) onCbUnwatchLarge(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.subStore.SetLargeTxMin(chatID, nil)
	s.sendWatchlist(ctx, b, chatID)
}

func (s *Service) onCbUnwatchAddr(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	if addr, ok := ParseAddress(strings.TrimPrefix(upd.CallbackQuery.Data, cbUnwatchAddr)); ok {
		s.subStore.RemoveWallet(chatID, addr)
	}
	s.sendWatchlist(ctx, b, chatID)
}

func (s *Service) onCbUnwatchAll(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.subStore.ClearAll(chatID)
	s.send(ctx, b, chatID, "✅ Watchlist cleared.", nil)
	s.sendWatchlist(ctx, b, chatID)
}

func (s *Service) sendWatchlist(ctx context.Context, b *tgbot.Bot, chatID int64) {
	u, ok := s.subStore.GetCopy(chatID)

	var rows [][]models.InlineKeyboardButton
	if u.LargeTxMinWei != nil {
		rows = append(rows, []models.InlineKeyboardButton{{Text: "Remove: large transfers", CallbackData: cbUnwatchBig}})
	}
	for _, w := range u.Wallets {
		rows = append(rows, []models.InlineKeyboardButton{{
			Text:         "Remove: " + shortenHash(w.Hex()),
			CallbackData: cbUnwatchAddr + w.Hex(),
		}})
	}
	if ok {
		rows = append(rows, []models.InlineKeyboardButton{{Text: "Remove all", CallbackData: cbUnwatchAll}})
	}
	rows = append(rows, []models.InlineKeyboardButton{{Text: "Back", CallbackData: cbBackToMain}})

	s.send(ctx, b, chatID, FormatWatchlist(u, ok, s.subStore.Bots()), &models.InlineKeyboardMarkup{InlineKeyboard: rows})
}

func (s *Service) onCbGas(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.send(ctx, b, chatID, FormatGas(s.mon.GasEstimate(ctx)), backMenu())
}

func (s *Service) onCbStatus(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.send(ctx, b, chatID, FormatStatus(s.mon.Status()), backMenu())
}

func (s *Service) onCbHistory(ctx context.Context, b *tgbot.Bot, upd *models.Update) {
	chatID, ok := s.callbackChat(ctx, b, upd)
	if !ok {
		return
	}
	s.sendHistory(ctx, b, chatID)
}

func (s *Service) sendHistory(ctx context.Context, b *tgbot.Bot, chatID int64) {
	if s.repo == nil {
		s.send(ctx, b, chatID, "History is not available: storage is disabled.", backMenu())
		return
	}

	items, err := s.repo.ListHistory(ctx, chatID, historyLimit)
	if err != nil {
		s.send(ctx, b, chatID, fmt.Sprintf("Failed to read history: %v", err), backMenu())
		return
	}
	if len(items) == 0 {
		s.send(ctx, b, chatID, "History is empty.", backMenu())
		return
	}

	s.send(ctx, b, chatID, FormatHistory(items), backMenu())
}
