package pricer

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/maxbolgarin/abstract"
	"github.com/maxbolgarin/contem"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/maxbolgarin/logze"
	tele "gopkg.in/telebot.v4"
)

// AdminStore is the slice of the account storage the admin listing and
// mass-post commands need.
type AdminStore interface {
	GetAllAccountIDs(ctx context.Context) ([]int64, error)
	GetSpecialAccounts(ctx context.Context, field string, value any, limit int64) ([]AccountRecord, error)
	GetPremiumAccounts(ctx context.Context, from time.Time) ([]AccountRecord, error)
	GetPossiblePremiumAccounts(ctx context.Context) ([]AccountRecord, error)
}

// Bot is the thin command router: it resolves the account for every inbound
// update through the session cache, gates commands behind channel
// membership, and maps commands and state-machine text input to account and
// scheduler operations.
type Bot struct {
	bot       *tele.Bot
	sessions  *SessionCache
	store     AdminStore
	scheduler *BroadcastScheduler
	cfg       Config
	log       logze.Logger

	// deliver sends a text to one chat. Defaults to SendToChannel.
	deliver func(chatID int64, text string) error

	// requiredChats caches resolved channel ids for the membership gate.
	requiredChats *abstract.SafeMap[string, int64]
}

// NewBot connects to Telegram and registers the handlers, but does not start
// receiving updates yet: the scheduler has to be attached first, because it
// needs the bot as its channel sender. Call Start after SetScheduler.
func NewBot(cfg Config, sessions *SessionCache, store AdminStore, log logze.Logger) (*Bot, error) {
	b := &Bot{
		sessions:      sessions,
		store:         store,
		cfg:           cfg,
		log:           log,
		requiredChats: abstract.NewSafeMap[string, int64](),
	}
	b.deliver = b.SendToChannel

	poller, err := newPoller(cfg)
	if err != nil {
		return nil, err
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.BotToken,
		Poller:  poller,
		Client:  &http.Client{Timeout: 2 * cfg.LPTimeout},
		Verbose: cfg.Debug,
		OnError: func(err error, c tele.Context) {
			var chatID int64
			if c != nil && c.Chat() != nil {
				chatID = c.Chat().ID
			}
			b.log.Error(err, "Bot.OnError", "chat_id", chatID)
		},
	})
	if err != nil {
		return nil, errm.Wrap(err, "new telebot")
	}
	b.bot = bot

	b.registerHandlers()
	b.resolveRequiredChannels()

	return b, nil
}

// SetScheduler attaches the broadcast scheduler.
func (b *Bot) SetScheduler(s *BroadcastScheduler) {
	b.scheduler = s
}

// Start begins receiving updates and registers the stop in the application
// lifecycle.
func (b *Bot) Start(ctx contem.Context) {
	b.log.Info("bot is starting", "webhook", b.cfg.WebhookURL != "")
	lang.Go(AdaptLogger(b.log), b.bot.Start)
	ctx.AddFunc(b.bot.Stop)
}

// sched returns the attached scheduler. A nil scheduler means an update
// slipped in before SetScheduler; answer "no data yet" instead of crashing.
func (b *Bot) sched() (*BroadcastScheduler, error) {
	if b.scheduler == nil {
		return nil, errm.Wrap(ErrNoLatestData, "scheduler is not attached")
	}
	return b.scheduler, nil
}

// SendToChannel implements ChannelSender.
func (b *Bot) SendToChannel(channelID int64, text string) error {
	_, err := b.bot.Send(tele.ChatID(channelID), text)
	return err
}

func (b *Bot) registerHandlers() {
	b.handle("/start", false, b.onStart)
	b.handle("/get", true, b.onGet)
	b.handle("/markets", true, b.onMarkets)
	b.handle("/calculator", true, b.onCalculator)
	b.handle("/equalizer", true, b.onEqualizer)
	b.handle("/cancel", false, b.onCancel)
	b.handle("/leave", false, b.onLeave)
	b.handle("/auth", false, b.onAuth)

	b.handle("/start_posting", true, b.onStartPosting)
	b.handle("/stop_posting", true, b.onStopPosting)
	b.handle("/interval", true, b.onChangeInterval)
	b.handle("/switch_source", true, b.onSwitchSource)
	b.handle("/header", true, b.onSetHeader)
	b.handle("/footnote", true, b.onSetFootnote)
	b.handle("/upgrade", true, b.onUpgrade)
	b.handle("/downgrade", true, b.onDowngrade)
	b.handle("/admins", true, b.onAdmins)
	b.handle("/premium", true, b.onPremium)
	b.handle("/send_post", true, b.onSendPost)
	b.handle("/stats", true, b.onStats)

	b.handle(tele.OnText, true, b.onText)
}

func (b *Bot) onStart(c tele.Context, acc *Account) error {
	acc.ResetState()
	return c.Send(msg(acc, msgWelcome), removeKeyboard())
}

func (b *Bot) onCancel(c tele.Context, acc *Account) error {
	acc.ResetState()
	return c.Send(msg(acc, msgCancelled), removeKeyboard())
}

func (b *Bot) onGet(c tele.Context, acc *Account) error {
	sched, err := b.sched()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*b.cfg.FetchTimeout)
	defer cancel()

	post, err := BuildPersonalPost(ctx, sched.CryptoSource(), sched.CurrencySource(), acc)
	if err != nil {
		return err
	}
	return c.Send(post)
}

func (b *Bot) onMarkets(c tele.Context, acc *Account) error {
	acc.ChangeState(StateConfigMarkets, WithCacheReset())
	return c.Send(msg(acc, msgChooseMarkets),
		symbolKeyboard(b.cfg.CurrencySymbols, b.cfg.CryptoSymbols))
}

func (b *Bot) onCalculator(c tele.Context, acc *Account) error {
	acc.ChangeState(StateConfigCalculatorList, WithCacheReset())
	return c.Send(msg(acc, msgChooseCalc),
		symbolKeyboard(b.cfg.CurrencySymbols, b.cfg.CryptoSymbols))
}

func (b *Bot) onEqualizer(c tele.Context, acc *Account) error {
	acc.ChangeState(StateInputEqualizerAmount, WithCacheReset())
	return c.Send(msg(acc, msgSendAmounts))
}

func (b *Bot) onLeave(c tele.Context, acc *Account) error {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := b.sessions.Leave(ctx, acc.ChatID()); err != nil {
		return err
	}
	return c.Send(msg(acc, msgLeft), removeKeyboard())
}

// onAuth handles the credential pair. The check itself promotes the account,
// so a correct pair is all it takes to become god.
func (b *Bot) onAuth(c tele.Context, acc *Account) error {
	args := c.Args()
	if len(args) != 2 {
		return errm.Wrap(ErrInvalidInput, "auth expects username and password")
	}
	if !acc.Authorize(args[0], args[1], b.cfg.AdminCreds()) {
		return ErrUnauthorized
	}
	return c.Send(msg(acc, msgAuthOK))
}

func (b *Bot) onStartPosting(c tele.Context, acc *Account) error {
	if !acc.IsAdmin() {
		return ErrUnauthorized
	}

	args := c.Args()
	if len(args) == 0 {
		acc.ChangeState(StateSelectPostInterval, WithCacheReset())
		return c.Send(msg(acc, msgAskInterval))
	}
	return b.startPosting(c, args[0])
}

func (b *Bot) startPosting(c tele.Context, input string) error {
	sched, err := b.sched()
	if err != nil {
		return err
	}
	interval := sched.ParseInterval(input)
	if err := sched.Start(context.Background(), interval); err != nil {
		return err
	}
	return c.Send("Posting every " + interval.String() + ".")
}

func (b *Bot) onStopPosting(c tele.Context, acc *Account) error {
	if !acc.IsAdmin() {
		return ErrUnauthorized
	}
	sched, err := b.sched()
	if err != nil {
		return err
	}
	sched.Stop()
	return c.Send(msg(acc, msgPostingStopped))
}

func (b *Bot) onChangeInterval(c tele.Context, acc *Account) error {
	if !acc.IsAdmin() {
		return ErrUnauthorized
	}
	acc.ChangeState(StateChangePostInterval, WithCacheReset())
	return c.Send(msg(acc, msgAskInterval))
}

func (b *Bot) onSwitchSource(c tele.Context, acc *Account) error {
	if !acc.IsGod() {
		return ErrUnauthorized
	}
	sched, err := b.sched()
	if err != nil {
		return err
	}
	args := c.Args()
	if len(args) != 1 {
		return errm.Wrap(ErrInvalidInput, "expected a source name")
	}
	if err := sched.SwitchSource(args[0]); err != nil {
		return err
	}
	return c.Send("Source switched to " + sched.CryptoSource().Name() + ".")
}

func (b *Bot) onSetHeader(c tele.Context, acc *Account) error {
	if !acc.IsAdmin() {
		return ErrUnauthorized
	}
	acc.ChangeState(StateSetMessageHeader, WithCacheReset())
	return c.Send(msg(acc, msgSendHeader))
}

func (b *Bot) onSetFootnote(c tele.Context, acc *Account) error {
	if !acc.IsAdmin() {
		return ErrUnauthorized
	}
	acc.ChangeState(StateSetMessageFootnote, WithCacheReset())
	return c.Send(msg(acc, msgSendFootnote))
}

func (b *Bot) onUpgrade(c tele.Context, acc *Account) error {
	if !acc.IsGod() {
		return ErrUnauthorized
	}
	acc.ChangeState(StateUpgradeUser, WithCacheReset())
	return c.Send(msg(acc, msgAskUserToPromote))
}

func (b *Bot) onDowngrade(c tele.Context, acc *Account) error {
	if !acc.IsGod() {
		return ErrUnauthorized
	}
	acc.ChangeState(StateDowngradeUser, WithCacheReset())
	return c.Send(msg(acc, msgAskUserToDemote))
}

func (b *Bot) onAdmins(c tele.Context, acc *Account) error {
	if !acc.IsGod() {
		return ErrUnauthorized
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	admins, err := b.store.GetSpecialAccounts(ctx, "mode", int(ModeAdmin), 0)
	if err != nil {
		return err
	}
	if len(admins) == 0 {
		return c.Send("No admins.")
	}

	var sb strings.Builder
	sb.WriteString("Admins:\n")
	for _, rec := range admins {
		sb.WriteString(formatAccountLine(rec))
	}
	return c.Send(sb.String())
}

func (b *Bot) onPremium(c tele.Context, acc *Account) error {
	if !acc.IsAdmin() {
		return ErrUnauthorized
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	active, err := b.store.GetPremiumAccounts(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	ever, err := b.store.GetPossiblePremiumAccounts(ctx)
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("Premium: " + strconv.Itoa(len(active)) +
		" active, " + strconv.Itoa(len(ever)) + " ever\n")
	for _, rec := range active {
		sb.WriteString(formatAccountLine(rec))
	}
	return c.Send(sb.String())
}

func (b *Bot) onSendPost(c tele.Context, acc *Account) error {
	if !acc.IsAdmin() {
		return ErrUnauthorized
	}
	acc.ChangeState(StateSendPost, WithCacheReset())
	return c.Send(msg(acc, msgAskPostText))
}

// sendPostToAccounts delivers an admin-authored post to every stored account.
func (b *Bot) sendPostToAccounts(c tele.Context, text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	ids, err := b.store.GetAllAccountIDs(ctx)
	if err != nil {
		return err
	}
	delivered := sendToAccounts(ids, text, b.deliver, b.log)
	return c.Send("Delivered to " + strconv.Itoa(delivered) + " of " +
		strconv.Itoa(len(ids)) + " accounts.")
}

// sendToAccounts sends a text to every chat id, tolerating per-recipient
// failures: a blocked user stays in the store until the collector runs.
func sendToAccounts(ids []int64, text string, send func(int64, string) error, log logze.Logger) int {
	var delivered int
	for _, id := range ids {
		if err := send(id, text); err != nil {
			if !IsBlockedError(err) {
				log.Warn("cannot deliver post", "chat_id", id, "error", err.Error())
			}
			continue
		}
		delivered++
	}
	return delivered
}

func formatAccountLine(rec AccountRecord) string {
	id := strconv.FormatInt(rec.ChatID, 10)
	if rec.Username != "" {
		return "@" + rec.Username + " (" + id + ")\n"
	}
	return id + "\n"
}

func (b *Bot) onStats(c tele.Context, acc *Account) error {
	if !acc.IsAdmin() {
		return ErrUnauthorized
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	stats, err := b.sessions.Statistics(ctx)
	if err != nil {
		return err
	}

	return c.Send("Accounts: " + strconv.Itoa(stats.Total) +
		"\nToday: " + strconv.Itoa(stats.Today) +
		"\nYesterday: " + strconv.Itoa(stats.Yesterday) +
		"\nThis week: " + strconv.Itoa(stats.ThisWeek) +
		"\nThis month: " + strconv.Itoa(stats.ThisMonth) +
		"\nLive sessions: " + strconv.Itoa(b.sessions.Size()))
}

// onText drives the multi-step flows: what a plain text message means is
// decided by the account's current state.
func (b *Bot) onText(c tele.Context, acc *Account) error {
	text := strings.TrimSpace(c.Text())

	switch acc.State() {
	case StateConfigMarkets:
		return b.toggleMarket(c, acc, text, false)

	case StateConfigCalculatorList:
		return b.toggleMarket(c, acc, text, true)

	case StateInputEqualizerAmount:
		amounts, err := parseAmounts(text)
		if err != nil {
			return err
		}
		acc.AwaitEqualizerUnit(amounts)
		return c.Send(msg(acc, msgSendUnit))

	case StateInputEqualizerUnit:
		amounts, ok := acc.PendingAmounts()
		if !ok {
			acc.ResetState()
			return errm.Wrap(ErrInvalidInput, "pending amounts are lost")
		}
		reply, err := b.equalize(amounts, strings.ToUpper(text), acc)
		if err != nil {
			return err
		}
		acc.ResetState()
		return c.Send(reply)

	case StateSelectPostInterval:
		acc.ResetState()
		return b.startPosting(c, text)

	case StateChangePostInterval:
		acc.ResetState()
		sched, err := b.sched()
		if err != nil {
			return err
		}
		interval := sched.ParseInterval(text)
		sched.Stop()
		if err := sched.Start(context.Background(), interval); err != nil {
			return err
		}
		return c.Send("Interval changed to " + interval.String() + ".")

	case StateSetMessageHeader:
		acc.ResetState()
		sched, err := b.sched()
		if err != nil {
			return err
		}
		sched.SetMessageHeader(text)
		return c.Send(msg(acc, msgHeaderUpdated))

	case StateSetMessageFootnote:
		acc.ResetState()
		sched, err := b.sched()
		if err != nil {
			return err
		}
		sched.SetMessageFootnote(text)
		return c.Send(msg(acc, msgFootnoteUpdated))

	case StateSendPost:
		acc.ResetState()
		if !acc.IsAdmin() {
			return ErrUnauthorized
		}
		return b.sendPostToAccounts(c, text)

	case StateUpgradeUser:
		return b.setModeByUsername(c, acc, text, ModeAdmin)

	case StateDowngradeUser:
		return b.setModeByUsername(c, acc, text, ModeNormal)
	}

	// Text with no pending flow falls back to the personal report.
	return b.onGet(c, acc)
}

func (b *Bot) toggleMarket(c tele.Context, acc *Account, text string, calculator bool) error {
	symbol := strings.ToUpper(text)

	var err error
	switch {
	case slices.Contains(b.cfg.CryptoSymbols, symbol):
		err = lang.If(calculator, acc.ToggleCalcCrypto, acc.ToggleDesiredCrypto)(symbol)
	case slices.Contains(b.cfg.CurrencySymbols, symbol):
		err = lang.If(calculator, acc.ToggleCalcCurrency, acc.ToggleDesiredCurrency)(symbol)
	default:
		return errm.Wrap(ErrInvalidInput, "unknown symbol", "symbol", symbol)
	}
	if err != nil {
		return err
	}

	return c.Send(msg(acc, msgToggled))
}

func (b *Bot) setModeByUsername(c tele.Context, acc *Account, username string, mode Mode) error {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	target, err := b.sessions.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	target.SetMode(mode)
	acc.ResetState()

	return c.Send("@" + target.Username() + " is now " + mode.String() + ".")
}

// equalize converts the given amounts of one unit into the account's
// calculator symbols (or a small default set) using the latest price tables.
func (b *Bot) equalize(amounts []float64, unit string, acc *Account) (string, error) {
	sched, err := b.sched()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*b.cfg.FetchTimeout)
	defer cancel()

	cryptoTable, _ := fetchWithFallback(ctx, sched.CryptoSource())
	currencyTable, _ := fetchWithFallback(ctx, sched.CurrencySource())

	usdPrice, ok := priceInUSD(unit, cryptoTable, currencyTable)
	if !ok {
		return "", errm.Wrap(ErrInvalidInput, "unknown unit", "unit", unit)
	}

	targets := append(acc.CalcCryptos(), acc.CalcCurrencies()...)
	if len(targets) == 0 {
		targets = []string{"BTC", "USD"}
	}

	var total float64
	for _, a := range amounts {
		total += a
	}
	totalUSD := total * usdPrice

	var sb strings.Builder
	sb.WriteString(formatPrice(total) + " " + unit + " equals:\n")
	for _, target := range targets {
		if target == unit {
			continue
		}
		targetUSD, ok := priceInUSD(target, cryptoTable, currencyTable)
		if !ok || targetUSD == 0 {
			continue
		}
		sb.WriteString(formatPrice(totalUSD/targetUSD) + " " + target + "\n")
	}

	return sb.String(), nil
}

// priceInUSD resolves a symbol's USD price from either section. Currency
// rows are quoted in tomans, so they go through the USD row.
func priceInUSD(symbol string, crypto, currency PriceTable) (float64, bool) {
	if info, ok := crypto[symbol]; ok {
		return info.Price, true
	}
	info, ok := currency[symbol]
	if !ok {
		return 0, false
	}
	usd, ok := currency["USD"]
	if !ok || usd.Price == 0 {
		return 0, false
	}
	return info.Price / usd.Price, true
}

func parseAmounts(text string) ([]float64, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, errm.Wrap(ErrInvalidInput, "no amounts")
	}
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, errm.Wrap(ErrInvalidInput, "not a number", "input", f)
		}
		out = append(out, v)
	}
	return out, nil
}
