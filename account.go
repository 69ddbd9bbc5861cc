package pricer

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
)

// MaxSelectionInDesiredOnes bounds the combined size of the desired crypto and
// currency lists of a single account.
const MaxSelectionInDesiredOnes = 20

// DefaultLanguage is the locale tag used for new accounts.
const DefaultLanguage = "fa"

// State is a node of the per-user conversation flow. Any state is reachable
// from any state; handlers decide which transitions are legal for them.
type State int

const (
	StateNone State = iota
	StateSendPost
	StateInputEqualizerAmount
	StateInputEqualizerUnit
	StateConfigMarkets
	StateConfigCalculatorList
	StateCreateAlarm
	StateUpgradeUser
	StateDowngradeUser
	StateAddBotAsAdmin
	StateSelectPostInterval
	StateChangePostInterval
	StateConfigGroupMarkets
	StateConfigChannelMarkets
	StateSetMessageFootnote
	StateSetMessageHeader
	StateChangeGroup
	StateChangeChannel
	StateChangePremiumPlans
	StateAddAdmin
	StateRemoveAdmin
)

var stateNames = map[State]string{
	StateNone:                 "none",
	StateSendPost:             "send_post",
	StateInputEqualizerAmount: "input_equalizer_amount",
	StateInputEqualizerUnit:   "input_equalizer_unit",
	StateConfigMarkets:        "config_markets",
	StateConfigCalculatorList: "config_calculator_list",
	StateCreateAlarm:          "create_alarm",
	StateUpgradeUser:          "upgrade_user",
	StateDowngradeUser:        "downgrade_user",
	StateAddBotAsAdmin:        "add_bot_as_admin",
	StateSelectPostInterval:   "select_post_interval",
	StateChangePostInterval:   "change_post_interval",
	StateConfigGroupMarkets:   "config_group_markets",
	StateConfigChannelMarkets: "config_channel_markets",
	StateSetMessageFootnote:   "set_message_footnote",
	StateSetMessageHeader:     "set_message_header",
	StateChangeGroup:          "change_group",
	StateChangeChannel:        "change_channel",
	StateChangePremiumPlans:   "change_premium_plans",
	StateAddAdmin:             "add_admin",
	StateRemoveAdmin:          "remove_admin",
}

func (s State) String() string {
	name, ok := stateNames[s]
	if !ok {
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
	return name
}

// Mode is an ordinal privilege level. Comparison is monotonic: every god
// passes an admin check.
type Mode int

const (
	ModeNormal Mode = iota
	ModeAdmin
	ModeGod
)

func (m Mode) IsAdmin() bool {
	return m >= ModeAdmin
}

func (m Mode) IsGod() bool {
	return m == ModeGod
}

func (m Mode) String() string {
	switch m {
	case ModeGod:
		return "god"
	case ModeAdmin:
		return "admin"
	default:
		return "normal"
	}
}

// AdminCredentials is the configured username/password pair that promotes an
// account to god mode.
type AdminCredentials struct {
	Username string
	Password string
}

// AccountSaver persists account rows. Saves for the same chat id must stay
// ordered, so the implementation queues them per chat id.
type AccountSaver interface {
	UpsertAsync(rec AccountRecord)
}

// AccountRecord is the stored row of an account. List fields are
// semicolon-joined strings and the cache is a JSON blob, so the row survives
// any storage that can hold flat fields.
type AccountRecord struct {
	ChatID          int64     `bson:"id" json:"id"`
	Currencies      string    `bson:"currencies" json:"currencies"`
	Cryptos         string    `bson:"cryptos" json:"cryptos"`
	CalcCurrencies  string    `bson:"calc_currencies" json:"calc_currencies"`
	CalcCryptos     string    `bson:"calc_cryptos" json:"calc_cryptos"`
	Username        string    `bson:"username" json:"username"`
	Firstname       string    `bson:"firstname" json:"firstname"`
	JoinDate        time.Time `bson:"join_date" json:"join_date"`
	LastInteraction time.Time `bson:"last_interaction" json:"last_interaction"`
	PlusStartDate   time.Time `bson:"plus_start_date,omitempty" json:"plus_start_date,omitempty"`
	PlusEndDate     time.Time `bson:"plus_end_date,omitempty" json:"plus_end_date,omitempty"`
	State           int       `bson:"state" json:"state"`
	Cache           string    `bson:"cache" json:"cache"`
	Mode            int       `bson:"mode" json:"mode"`
	Language        string    `bson:"language" json:"language"`
}

// Account is a live per-user session: preferences, the current conversation
// state and a transient payload map carried between the steps of a flow.
// There is at most one authoritative instance per chat id, held by the
// session cache; every mutation goes through this instance and is persisted
// through the saver.
type Account struct {
	mu sync.Mutex

	chatID            int64
	desiredCryptos    []string
	desiredCurrencies []string
	calcCryptos       []string
	calcCurrencies    []string
	language          string
	state             State
	cache             map[string]any
	lastInteraction   time.Time
	mode              Mode
	joinDate          time.Time
	plusStartDate     time.Time
	plusEndDate       time.Time
	username          string
	firstname         string

	// pinnedGod overrides the stored mode for the hardcoded god chat id.
	pinnedGod bool

	db AccountSaver
}

// NewAccount creates a fresh account with default preferences.
// Chat id must be positive.
func NewAccount(chatID int64, db AccountSaver) (*Account, error) {
	if chatID <= 0 {
		return nil, errm.Wrap(ErrInvalidInput, "chat id must be positive", "chat_id", chatID)
	}
	now := time.Now().UTC()
	return &Account{
		chatID:          chatID,
		language:        DefaultLanguage,
		state:           StateNone,
		cache:           make(map[string]any),
		mode:            ModeNormal,
		joinDate:        now,
		lastInteraction: now,
		db:              db,
	}, nil
}

func newAccountFromRecord(rec AccountRecord, db AccountSaver) (*Account, error) {
	a, err := NewAccount(rec.ChatID, db)
	if err != nil {
		return nil, err
	}

	a.desiredCurrencies = splitSymbols(rec.Currencies)
	a.desiredCryptos = splitSymbols(rec.Cryptos)
	a.calcCurrencies = splitSymbols(rec.CalcCurrencies)
	a.calcCryptos = splitSymbols(rec.CalcCryptos)
	a.username = rec.Username
	a.firstname = rec.Firstname
	a.joinDate = lang.CheckTime(rec.JoinDate, a.joinDate)
	a.lastInteraction = lang.CheckTime(rec.LastInteraction, a.lastInteraction)
	a.plusStartDate = rec.PlusStartDate
	a.plusEndDate = rec.PlusEndDate
	a.state = State(rec.State)
	a.mode = Mode(rec.Mode)
	a.language = lang.Check(rec.Language, DefaultLanguage)

	if rec.Cache != "" {
		if err := json.Unmarshal([]byte(rec.Cache), &a.cache); err != nil {
			return nil, errm.Wrap(err, "decode cache blob", "chat_id", rec.ChatID)
		}
	}
	if a.cache == nil {
		a.cache = make(map[string]any)
	}

	return a, nil
}

// Record snapshots the account into its stored row form.
func (a *Account) Record() AccountRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recordLocked()
}

func (a *Account) recordLocked() AccountRecord {
	cacheBlob := "{}"
	if raw, err := json.Marshal(a.cache); err == nil {
		cacheBlob = string(raw)
	}
	return AccountRecord{
		ChatID:          a.chatID,
		Currencies:      joinSymbols(a.desiredCurrencies),
		Cryptos:         joinSymbols(a.desiredCryptos),
		CalcCurrencies:  joinSymbols(a.calcCurrencies),
		CalcCryptos:     joinSymbols(a.calcCryptos),
		Username:        a.username,
		Firstname:       a.firstname,
		JoinDate:        a.joinDate,
		LastInteraction: a.lastInteraction,
		PlusStartDate:   a.plusStartDate,
		PlusEndDate:     a.plusEndDate,
		State:           int(a.state),
		Cache:           cacheBlob,
		Mode:            int(a.mode),
		Language:        a.language,
	}
}

func (a *Account) saveLocked() {
	if a.db == nil {
		return
	}
	a.db.UpsertAsync(a.recordLocked())
}

func (a *Account) ChatID() int64 {
	return a.chatID
}

func (a *Account) Username() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.username
}

func (a *Account) Firstname() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.firstname
}

func (a *Account) Language() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.language
}

func (a *Account) SetLanguage(language string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.language = lang.Check(language, DefaultLanguage)
	a.saveLocked()
}

func (a *Account) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Account) LastInteraction() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastInteraction
}

// Touch refreshes the idle clock. Called on every cache hit.
func (a *Account) Touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastInteraction = time.Now().UTC()
}

// UpdateIdentity refreshes the denormalized display identity from the live
// chat profile. Saves only when something actually changed.
func (a *Account) UpdateIdentity(username, firstname string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.username == username && a.firstname == firstname {
		return
	}
	a.username = username
	a.firstname = firstname
	a.saveLocked()
}

func (a *Account) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.modeLocked()
}

func (a *Account) modeLocked() Mode {
	if a.pinnedGod {
		return ModeGod
	}
	return a.mode
}

func (a *Account) IsAdmin() bool {
	return a.Mode().IsAdmin()
}

func (a *Account) IsGod() bool {
	return a.Mode().IsGod()
}

func (a *Account) pinGod() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pinnedGod = true
}

// SetMode changes the privilege level and persists. The pinned god account
// keeps god mode whatever is stored.
func (a *Account) SetMode(mode Mode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mode = mode
	a.saveLocked()
}

// Authorize checks the credential pair and, on match, promotes the account to
// god mode in place. This is a side-effecting check: a successful call
// mutates and persists privilege state.
func (a *Account) Authorize(username, password string, creds AdminCredentials) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.modeLocked().IsGod() {
		return true
	}
	if creds.Username == "" || username != creds.Username || password != creds.Password {
		return false
	}

	a.mode = ModeGod
	a.saveLocked()
	return true
}

// stateChange collects the optional parts of a transition.
type stateChange struct {
	cacheKey   string
	data       any
	clearCache bool
}

type StateOption func(*stateChange)

// WithCachePayload stores one key/value pair into the account cache together
// with the transition, e.g. the parsed amounts while awaiting a unit.
func WithCachePayload(key string, data any) StateOption {
	return func(c *stateChange) {
		c.cacheKey = key
		c.data = data
	}
}

// WithCacheReset clears the whole cache map before applying the payload.
func WithCacheReset() StateOption {
	return func(c *stateChange) {
		c.clearCache = true
	}
}

// ChangeState is the sole state mutator. It unconditionally moves to the next
// state, optionally clears the cache map first, optionally stores one payload
// pair and always persists afterward.
func (a *Account) ChangeState(next State, opts ...StateOption) {
	var change stateChange
	for _, opt := range opts {
		opt(&change)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.state = next
	if change.clearCache {
		a.cache = make(map[string]any)
	}
	if change.cacheKey != "" {
		a.cache[change.cacheKey] = change.data
	}
	a.lastInteraction = time.Now().UTC()
	a.saveLocked()
}

// ResetState is the canonical reset transition: back to StateNone with an
// empty cache. Wherever state is cleared, the pending payload goes with it.
func (a *Account) ResetState() {
	a.ChangeState(StateNone, WithCacheReset())
}

// CacheValue reads one pending payload value.
func (a *Account) CacheValue(key string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.cache[key]
	return v, ok
}

const cacheKeyPendingAmounts = "pending_amounts"

// AwaitEqualizerUnit moves into the unit-input step of the conversion flow,
// carrying the parsed amounts as a typed payload.
func (a *Account) AwaitEqualizerUnit(amounts []float64) {
	a.ChangeState(StateInputEqualizerUnit, WithCachePayload(cacheKeyPendingAmounts, amounts))
}

// PendingAmounts returns the amounts stored by AwaitEqualizerUnit. It also
// accepts the decoded-from-JSON shape a reloaded account carries.
func (a *Account) PendingAmounts() ([]float64, bool) {
	v, ok := a.CacheValue(cacheKeyPendingAmounts)
	if !ok {
		return nil, false
	}
	switch data := v.(type) {
	case []float64:
		return data, true
	case []any:
		out := make([]float64, 0, len(data))
		for _, item := range data {
			f, ok := item.(float64)
			if !ok {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	}
	return nil, false
}

func (a *Account) DesiredCryptos() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.desiredCryptos)
}

func (a *Account) DesiredCurrencies() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.desiredCurrencies)
}

func (a *Account) CalcCryptos() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.calcCryptos)
}

func (a *Account) CalcCurrencies() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.calcCurrencies)
}

// ToggleDesiredCrypto adds the symbol to the desired crypto list or removes
// it if already selected. The combined bound over both desired lists is
// enforced here, at the mutation point.
func (a *Account) ToggleDesiredCrypto(symbol string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	list, err := a.toggleLocked(a.desiredCryptos, symbol, len(a.desiredCurrencies))
	if err != nil {
		return err
	}
	a.desiredCryptos = list
	a.saveLocked()
	return nil
}

// ToggleDesiredCurrency is the currency counterpart of ToggleDesiredCrypto.
func (a *Account) ToggleDesiredCurrency(symbol string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	list, err := a.toggleLocked(a.desiredCurrencies, symbol, len(a.desiredCryptos))
	if err != nil {
		return err
	}
	a.desiredCurrencies = list
	a.saveLocked()
	return nil
}

// ToggleCalcCrypto toggles a symbol on the conversion-feature list.
// Calculator lists have no combined bound.
func (a *Account) ToggleCalcCrypto(symbol string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	list, err := a.toggleLocked(a.calcCryptos, symbol, -1)
	if err != nil {
		return err
	}
	a.calcCryptos = list
	a.saveLocked()
	return nil
}

func (a *Account) ToggleCalcCurrency(symbol string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	list, err := a.toggleLocked(a.calcCurrencies, symbol, -1)
	if err != nil {
		return err
	}
	a.calcCurrencies = list
	a.saveLocked()
	return nil
}

func (a *Account) toggleLocked(list []string, symbol string, otherLen int) ([]string, error) {
	if symbol == "" {
		return nil, errm.Wrap(ErrInvalidInput, "empty symbol")
	}
	if i := slices.Index(list, symbol); i >= 0 {
		return slices.Delete(list, i, i+1), nil
	}
	if otherLen >= 0 && len(list)+otherLen >= MaxSelectionInDesiredOnes {
		return nil, ErrSelectionLimit
	}
	return append(list, symbol), nil
}

// SetPremiumWindow sets the plus subscription window and persists.
func (a *Account) SetPremiumWindow(start, end time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.plusStartDate = start
	a.plusEndDate = end
	a.saveLocked()
}

func (a *Account) IsPremium(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.plusStartDate.IsZero() || a.plusEndDate.IsZero() {
		return false
	}
	return !now.Before(a.plusStartDate) && now.Before(a.plusEndDate)
}

func (a *Account) String() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := strconv.FormatInt(a.chatID, 10)
	if a.username == "" {
		return id
	}
	return "[@" + a.username + "|" + id + "]"
}

// joinSymbols renders a symbol list for the stored row. An empty list maps to
// an empty string, not ";".
func joinSymbols(list []string) string {
	return strings.Join(list, ";")
}

// splitSymbols parses a semicolon-joined field, tolerating a trailing
// separator left by older writers. An empty string maps back to no symbols,
// not to a single empty one.
func splitSymbols(s string) []string {
	s = strings.TrimSuffix(s, ";")
	if s == "" {
		return nil
	}
	return strings.Split(s, ";")
}
