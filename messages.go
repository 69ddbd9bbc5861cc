package pricer

import "strings"

// msgID names one user-facing text. Texts live per language; a language
// without a translation falls back to English.
type msgID string

const (
	msgWelcome          msgID = "welcome"
	msgCancelled        msgID = "cancelled"
	msgSomethingWrong   msgID = "something_wrong"
	msgNotAllowed       msgID = "not_allowed"
	msgSelectionLimit   msgID = "selection_limit"
	msgNoPrices         msgID = "no_prices"
	msgBadInput         msgID = "bad_input"
	msgAlreadyPosting   msgID = "already_posting"
	msgJoinChannels     msgID = "join_channels"
	msgChooseMarkets    msgID = "choose_markets"
	msgChooseCalc       msgID = "choose_calc"
	msgSendAmounts      msgID = "send_amounts"
	msgSendUnit         msgID = "send_unit"
	msgToggled          msgID = "toggled"
	msgLeft             msgID = "left"
	msgAuthOK           msgID = "auth_ok"
	msgAskInterval      msgID = "ask_interval"
	msgPostingStopped   msgID = "posting_stopped"
	msgSendHeader       msgID = "send_header"
	msgSendFootnote     msgID = "send_footnote"
	msgHeaderUpdated    msgID = "header_updated"
	msgFootnoteUpdated  msgID = "footnote_updated"
	msgAskUserToPromote msgID = "ask_user_to_promote"
	msgAskUserToDemote  msgID = "ask_user_to_demote"
	msgAskPostText      msgID = "ask_post_text"
)

var texts = map[string]map[msgID]string{
	"en": {
		msgWelcome:          "Welcome! Use /get for prices and /markets to choose what you see.",
		msgCancelled:        "Cancelled.",
		msgSomethingWrong:   "Something went wrong, please try again.",
		msgNotAllowed:       "You are not allowed to do that.",
		msgSelectionLimit:   "You cannot select more markets, remove some first.",
		msgNoPrices:         "Prices are not available right now, please try again in a minute.",
		msgBadInput:         "I don't understand that, check the value and try again.",
		msgAlreadyPosting:   "Posting is already started.",
		msgJoinChannels:     "Please join our channels first: ",
		msgChooseMarkets:    "Send me symbols to toggle them in your list, /cancel to finish.",
		msgChooseCalc:       "Send me symbols to toggle them in your calculator list, /cancel to finish.",
		msgSendAmounts:      "Send me one or more amounts, e.g. 10 2.5",
		msgSendUnit:         "Now send me the unit, e.g. BTC or USD.",
		msgToggled:          "Done. Send another symbol or /cancel to finish.",
		msgLeft:             "Your data is removed. Goodbye!",
		msgAuthOK:           "Welcome back, boss.",
		msgAskInterval:      "How many minutes between posts?",
		msgPostingStopped:   "Posting stopped.",
		msgSendHeader:       "Send me the new post header.",
		msgSendFootnote:     "Send me the new post footnote.",
		msgHeaderUpdated:    "Header updated.",
		msgFootnoteUpdated:  "Footnote updated.",
		msgAskUserToPromote: "Send me the username to promote to admin.",
		msgAskUserToDemote:  "Send me the username to demote.",
		msgAskPostText:      "Send me the text to deliver to every user, /cancel to abort.",
	},
	"fa": {
		msgWelcome:          "خوش آمدید! برای قیمت‌ها /get و برای انتخاب بازارها /markets را بزنید.",
		msgCancelled:        "لغو شد.",
		msgSomethingWrong:   "مشکلی پیش آمد، لطفا دوباره تلاش کنید.",
		msgNotAllowed:       "شما اجازه این کار را ندارید.",
		msgSelectionLimit:   "امکان انتخاب بازار بیشتر نیست، ابتدا موردی را حذف کنید.",
		msgNoPrices:         "قیمت‌ها در دسترس نیستند، لطفا کمی بعد دوباره تلاش کنید.",
		msgBadInput:         "ورودی نامعتبر است، مقدار را بررسی و دوباره ارسال کنید.",
		msgAlreadyPosting:   "ارسال خودکار از قبل فعال است.",
		msgJoinChannels:     "لطفا ابتدا در کانال‌های ما عضو شوید: ",
		msgChooseMarkets:    "نماد موردنظر را بفرستید تا به لیست اضافه یا از آن حذف شود، برای پایان /cancel.",
		msgChooseCalc:       "نماد موردنظر را برای لیست ماشین‌حساب بفرستید، برای پایان /cancel.",
		msgSendAmounts:      "یک یا چند مقدار بفرستید، مثلا 10 2.5",
		msgSendUnit:         "حالا واحد را بفرستید، مثلا BTC یا USD.",
		msgToggled:          "انجام شد. نماد دیگری بفرستید یا /cancel را بزنید.",
		msgLeft:             "اطلاعات شما حذف شد. خداحافظ!",
		msgAuthOK:           "خوش آمدید، رئیس.",
		msgAskInterval:      "فاصله ارسال چند دقیقه باشد؟",
		msgPostingStopped:   "ارسال خودکار متوقف شد.",
		msgSendHeader:       "سرتیتر جدید پست را بفرستید.",
		msgSendFootnote:     "پانویس جدید پست را بفرستید.",
		msgHeaderUpdated:    "سرتیتر به‌روز شد.",
		msgFootnoteUpdated:  "پانویس به‌روز شد.",
		msgAskUserToPromote: "نام کاربری موردنظر برای ارتقا به ادمین را بفرستید.",
		msgAskUserToDemote:  "نام کاربری موردنظر برای تنزل را بفرستید.",
		msgAskPostText:      "متنی که باید برای همه کاربران ارسال شود را بفرستید، برای انصراف /cancel.",
	},
}

// textFor resolves a message in the given language, falling back to English
// and finally to the id itself, so a missing translation never breaks a flow.
func textFor(language string, id msgID) string {
	language = strings.ToLower(language)
	if t, ok := texts[language][id]; ok {
		return t
	}
	if t, ok := texts["en"][id]; ok {
		return t
	}
	return string(id)
}

// msg resolves a message in the account's language.
func msg(acc *Account, id msgID) string {
	return textFor(acc.Language(), id)
}
